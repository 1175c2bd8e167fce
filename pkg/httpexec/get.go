package httpexec

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
)

// placeholderOrigin makes scheme-less endpoints such as "/graphql" parseable.
const placeholderOrigin = "https://dummyhostname.com"

// getURL appends the operation to endpoint as query parameters. Variables and extensions
// are only added when non-empty.
func getURL(endpoint string, req *common.Request) (string, error) {
	prefix := ""
	if !strings.Contains(endpoint, "://") {
		prefix = placeholderOrigin
		if !strings.HasPrefix(endpoint, "/") {
			prefix += "/"
		}
	}

	u, err := url.Parse(prefix + endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	params := u.Query()
	params.Set("query", req.Print())
	if len(req.Variables) > 0 {
		variables, err := json.Marshal(req.Variables)
		if err != nil {
			return "", fmt.Errorf("marshal variables: %w", err)
		}
		params.Set("variables", string(variables))
	}
	if req.OperationName != "" {
		params.Set("operationName", req.OperationName)
	}
	if len(req.Extensions) > 0 {
		extensions, err := json.Marshal(req.Extensions)
		if err != nil {
			return "", fmt.Errorf("marshal extensions: %w", err)
		}
		params.Set("extensions", string(extensions))
	}
	u.RawQuery = params.Encode()

	return strings.TrimPrefix(u.String(), prefix), nil
}
