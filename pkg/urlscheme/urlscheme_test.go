package urlscheme

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslate(t *testing.T) {
	t.Run("http family to websocket family", func(t *testing.T) {
		assert.Equal(t, "ws://localhost:4000/graphql", ToWebSocket("http://localhost:4000/graphql"))
		assert.Equal(t, "wss://example.com/graphql", ToWebSocket("https://example.com/graphql"))
	})

	t.Run("websocket family to http family", func(t *testing.T) {
		assert.Equal(t, "http://localhost:4000/graphql", ToHTTP("ws://localhost:4000/graphql"))
		assert.Equal(t, "https://example.com/graphql", ToHTTP("wss://example.com/graphql"))
	})

	t.Run("backslash separator", func(t *testing.T) {
		assert.Equal(t, `wss:\example.com`, ToWebSocket(`https:\example.com`))
	})

	t.Run("non matching input passes through", func(t *testing.T) {
		assert.Equal(t, "example.com/graphql", ToWebSocket("example.com/graphql"))
		assert.Equal(t, "ws://already", ToWebSocket("ws://already"))
		assert.Equal(t, "", ToHTTP(""))
	})

	t.Run("only the leading scheme is replaced", func(t *testing.T) {
		assert.Equal(t, "ws://a/?next=http://b", ToWebSocket("http://a/?next=http://b"))
	})

	t.Run("identity mapping is idempotent", func(t *testing.T) {
		identity := Mapping{"http": "http", "https": "https"}
		for _, in := range []string{"http://a", "https://b/c", "ws://d", "plain"} {
			once := Translate(in, identity)
			assert.Equal(t, in, once)
			assert.Equal(t, once, Translate(once, identity))
		}
	})

	t.Run("round trip", func(t *testing.T) {
		for _, in := range []string{"http://a/graphql", "https://b:443/x?y=1", `http:\c`} {
			assert.Equal(t, in, ToHTTP(ToWebSocket(in)))
		}
		for _, in := range []string{"ws://a/graphql", "wss://b/x"} {
			assert.Equal(t, in, ToWebSocket(ToHTTP(in)))
		}
	})
}
