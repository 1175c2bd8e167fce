package headers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
)

func TestResolve(t *testing.T) {
	t.Run("nil spec resolves to empty map", func(t *testing.T) {
		assert.Equal(t, map[string]string{}, Resolve(nil, nil))
	})

	t.Run("fixed map", func(t *testing.T) {
		spec := Fixed{"Authorization": "Bearer a"}
		resolved := Resolve(spec, &common.Request{})
		assert.Equal(t, map[string]string{"Authorization": "Bearer a"}, resolved)

		resolved["X"] = "y"
		assert.NotContains(t, spec, "X", "resolved map must be a copy")
	})

	t.Run("list merges rightmost wins", func(t *testing.T) {
		spec := List{
			{"a": "1", "b": "1"},
			{"b": "2", "c": "2"},
			{"c": "3"},
		}
		assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, Resolve(spec, nil))
	})

	t.Run("every variant equals the right fold of its list form", func(t *testing.T) {
		maps := []map[string]string{{"a": "1"}, {"a": "2", "b": "2"}}
		expected := Resolve(List(maps), nil)

		assert.Equal(t, expected, Resolve(Fixed{"a": "2", "b": "2"}, nil))
		assert.Equal(t, expected, Resolve(Dynamic(func(*common.Request) Spec { return List(maps) }), nil))
	})

	t.Run("dynamic spec is invoked per call with the current request", func(t *testing.T) {
		var calls int
		spec := Dynamic(func(req *common.Request) Spec {
			calls++
			return Fixed{"X-User": req.Variables["user"].(string)}
		})

		first := Resolve(spec, &common.Request{Variables: map[string]any{"user": "alice"}})
		second := Resolve(spec, &common.Request{Variables: map[string]any{"user": "bob"}})

		assert.Equal(t, 2, calls)
		assert.Equal(t, "alice", first["X-User"])
		assert.Equal(t, "bob", second["X-User"])
	})

	t.Run("dynamic spec sees context", func(t *testing.T) {
		spec := Dynamic(func(req *common.Request) Spec {
			token, _ := req.Context.(string)
			return Fixed{"Authorization": token}
		})
		assert.Equal(t, "Bearer ctx", Resolve(spec, &common.Request{Context: "Bearer ctx"})["Authorization"])
	})

	t.Run("nil dynamic function", func(t *testing.T) {
		assert.Equal(t, map[string]string{}, Resolve(Dynamic(nil), nil))
	})
}

func TestHTTPHeader(t *testing.T) {
	h := HTTPHeader(map[string]string{"x-api-key": "secret"})
	assert.Equal(t, http.Header{"X-Api-Key": []string{"secret"}}, h)
}

func TestPayload(t *testing.T) {
	assert.Nil(t, Payload(nil))
	assert.Equal(t, map[string]any{"token": "t"}, Payload(map[string]string{"token": "t"}))
}
