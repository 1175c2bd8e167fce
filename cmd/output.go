package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v2"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

// printResult writes one result per document. YAML documents are separated by "---".
func printResult(w io.Writer, format string, result *common.ExecutionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	switch format {
	case outputYAML:
		// JSON is valid YAML, MapSlice keeps the key order of the response.
		var doc yaml.MapSlice
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "---\n%s", out)
		return err
	default:
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
}
