// Package headers resolves caller supplied header specifications into flat header maps.
//
// A specification is one of three variants:
//   - Fixed: a single map used as is
//   - List: several maps merged left to right, later entries win on key collision
//   - Dynamic: a function of the current request returning one of the above
//
// Dynamic specifications are resolved on every call since they may depend on per-call
// variables or the request context.
package headers

import (
	"maps"
	"net/http"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
)

// Spec is a header specification. It is implemented by Fixed, List and Dynamic only.
type Spec interface {
	resolve(req *common.Request) map[string]string
}

type Fixed map[string]string

type List []map[string]string

type Dynamic func(req *common.Request) Spec

func (f Fixed) resolve(_ *common.Request) map[string]string {
	out := make(map[string]string, len(f))
	maps.Copy(out, f)
	return out
}

func (l List) resolve(_ *common.Request) map[string]string {
	out := make(map[string]string)
	for _, m := range l {
		maps.Copy(out, m)
	}
	return out
}

func (d Dynamic) resolve(req *common.Request) map[string]string {
	if d == nil {
		return map[string]string{}
	}
	return Resolve(d(req), req)
}

// Resolve flattens spec for req. A nil spec resolves to an empty map. Handshakes that have
// no operation at hand pass an empty Request.
func Resolve(spec Spec, req *common.Request) map[string]string {
	if spec == nil {
		return map[string]string{}
	}
	if req == nil {
		req = &common.Request{}
	}
	return spec.resolve(req)
}

// HTTPHeader converts a resolved map into an http.Header.
func HTTPHeader(resolved map[string]string) http.Header {
	h := make(http.Header, len(resolved))
	for k, v := range resolved {
		h.Set(k, v)
	}
	return h
}

// Payload converts a resolved map into a WebSocket connection_init payload.
func Payload(resolved map[string]string) map[string]any {
	if len(resolved) == 0 {
		return nil
	}
	out := make(map[string]any, len(resolved))
	for k, v := range resolved {
		out[k] = v
	}
	return out
}
