package loader

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
	"github.com/wundergraph/graphql-url-loader/pkg/headers"
)

const helloSDL = `type Query {
  hello(name: String = "world"): String!
}
`

type recordingDoer struct {
	calls atomic.Int32
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls.Add(1)
	return http.DefaultClient.Do(req)
}

func newGraphQLServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()

	introspected, err := os.ReadFile("./testdata/introspection_response.json")
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		if _, ok := sdlExtensions[path.Ext(r.URL.Path)]; ok {
			_, _ = io.WriteString(w, helloSDL)
			return
		}

		var query string
		if r.Method == http.MethodGet {
			query = r.URL.Query().Get("query")
		} else {
			var body struct {
				Query string `json:"query"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			query = body.Query
		}

		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(query, "__schema") {
			if r.Header.Get("X-Token") != "secret" {
				_, _ = io.WriteString(w, `{"errors":[{"message":"not allowed"}]}`)
				return
			}
			_, _ = w.Write(introspected)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"hello":"world"}}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestLoader_CanLoad(t *testing.T) {
	t.Parallel()

	l := New(nil, nil)
	tests := []struct {
		pointer string
		want    bool
	}{
		{pointer: "http://localhost:4000/graphql", want: true},
		{pointer: "https://example.com/graphql", want: true},
		{pointer: "ws://localhost/graphql", want: true},
		{pointer: "wss://example.com/graphql", want: true},
		{pointer: "https://example.com/schema.graphql", want: true},
		{pointer: "ftp://example.com/graphql", want: false},
		{pointer: "./schema.graphql", want: false},
		{pointer: "localhost:4000/graphql", want: false},
		{pointer: "", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.CanLoad(tt.pointer), tt.pointer)
	}
}

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	t.Run("introspection", func(t *testing.T) {
		t.Parallel()

		var requests atomic.Int32
		server := newGraphQLServer(t, &requests)

		source, err := New(nil, nil).Load(context.Background(), server.URL+"/graphql", Options{
			Headers: headers.Fixed{"X-Token": "secret"},
		})
		require.NoError(t, err)
		defer source.Close()

		assert.Equal(t, server.URL+"/graphql", source.Location)
		require.NotNil(t, source.Schema.Query)
		hello := source.Schema.Query.Fields.ForName("hello")
		require.NotNil(t, hello)
		assert.Equal(t, "String!", hello.Type.String())
		require.NotNil(t, source.Schema.Subscription)
		assert.Contains(t, source.SDL, `hello(name: String = "world"): String!`)
		assert.NotContains(t, source.SDL, "__TypeKind")

		require.NotNil(t, source.Executor)
		require.NotNil(t, source.Subscriber)

		req, err := common.NewRequest(`{ hello }`, nil)
		require.NoError(t, err)
		result, err := source.Executor.ExecuteSync(context.Background(), req)
		require.NoError(t, err)
		assert.JSONEq(t, `{"hello":"world"}`, string(result.Data))
	})

	t.Run("introspection with GET", func(t *testing.T) {
		t.Parallel()

		methods := make(chan string, 4)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			methods <- r.Method
			introspected, _ := os.ReadFile("./testdata/introspection_response.json")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(introspected)
		}))
		defer server.Close()

		source, err := New(nil, nil).Load(context.Background(), server.URL, Options{UseGETForQueries: true})
		require.NoError(t, err)
		defer source.Close()

		require.Len(t, methods, 1)
		assert.Equal(t, http.MethodGet, <-methods)
	})

	t.Run("introspection errors", func(t *testing.T) {
		t.Parallel()

		var requests atomic.Int32
		server := newGraphQLServer(t, &requests)

		_, err := New(nil, nil).Load(context.Background(), server.URL, Options{})
		require.ErrorIs(t, err, ErrIntrospectionFailed)
		assert.ErrorContains(t, err, "not allowed")
	})

	t.Run("sdl", func(t *testing.T) {
		t.Parallel()

		var requests atomic.Int32
		server := newGraphQLServer(t, &requests)

		source, err := New(nil, nil).Load(context.Background(), server.URL+"/schema.graphql", Options{})
		require.NoError(t, err)
		defer source.Close()

		assert.Equal(t, helloSDL, source.SDL)
		assert.NotNil(t, source.Schema.Query.Fields.ForName("hello"))
		assert.Nil(t, source.Executor)
		assert.Nil(t, source.Subscriber)
		assert.NoError(t, source.Close())
	})

	t.Run("sdl from a websocket pointer", func(t *testing.T) {
		t.Parallel()

		var requests atomic.Int32
		server := newGraphQLServer(t, &requests)

		pointer := "ws" + strings.TrimPrefix(server.URL, "http") + "/schema.gql"
		source, err := New(nil, nil).Load(context.Background(), pointer, Options{})
		require.NoError(t, err)
		assert.Equal(t, pointer, source.Location)
	})

	t.Run("sdl not found", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		_, err := New(nil, nil).Load(context.Background(), server.URL+"/schema.graphqls", Options{})
		assert.ErrorContains(t, err, "status 404")
	})

	t.Run("invalid sdl", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "type Query {")
		}))
		defer server.Close()

		_, err := New(nil, nil).Load(context.Background(), server.URL+"/schema.graphql", Options{})
		assert.ErrorContains(t, err, "parse sdl")
	})

	t.Run("invalid pointer", func(t *testing.T) {
		t.Parallel()

		_, err := New(nil, nil).Load(context.Background(), "file:///schema.graphql", Options{})
		assert.ErrorIs(t, err, ErrInvalidPointer)
	})
}

func TestLoader_Registry(t *testing.T) {
	t.Parallel()

	t.Run("registered fetcher", func(t *testing.T) {
		t.Parallel()

		var requests atomic.Int32
		server := newGraphQLServer(t, &requests)

		doer := &recordingDoer{}
		registry := NewRegistry()
		registry.RegisterFetcher("recording", doer)

		source, err := New(registry, nil).Load(context.Background(), server.URL, Options{
			FetchName: "recording",
			Headers:   headers.Fixed{"X-Token": "secret"},
		})
		require.NoError(t, err)
		defer source.Close()

		assert.Equal(t, int32(1), doer.calls.Load())
	})

	t.Run("unknown names fail before any request", func(t *testing.T) {
		t.Parallel()

		var requests atomic.Int32
		server := newGraphQLServer(t, &requests)
		l := New(nil, nil)

		_, err := l.Load(context.Background(), server.URL, Options{FetchName: "missing"})
		assert.ErrorIs(t, err, ErrUnknownFetcher)

		_, err = l.Load(context.Background(), server.URL, Options{WebSocketName: "missing"})
		assert.ErrorIs(t, err, ErrUnknownWebSocketImpl)

		_, err = l.Subscriber(server.URL, Options{WebSocketName: "missing"})
		assert.ErrorIs(t, err, ErrUnknownWebSocketImpl)

		_, err = l.Executor(server.URL, Options{FetchName: "missing"})
		assert.ErrorIs(t, err, ErrUnknownFetcher)

		assert.Equal(t, int32(0), requests.Load())
	})

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		registry := NewRegistry()
		fetcher, err := registry.Fetcher(DefaultName)
		require.NoError(t, err)
		assert.NotNil(t, fetcher)

		client, err := registry.WebSocket(DefaultName)
		require.NoError(t, err)
		assert.Same(t, http.DefaultClient, client)
	})
}

func TestLoader_Subscriber(t *testing.T) {
	t.Parallel()

	paths := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: next\ndata: {\"data\":{\"tick\":1}}\n\nevent: complete\ndata:\n\n")
	}))
	defer server.Close()

	subscriber, err := New(nil, nil).Subscriber(server.URL+"/graphql", Options{
		UseSSEForSubscription: true,
		SubscriptionsEndpoint: server.URL + "/stream",
	})
	require.NoError(t, err)
	defer subscriber.Close()

	ch, cancel, err := subscriber.Subscribe(context.Background(), &common.Request{Query: "subscription { tick }"})
	require.NoError(t, err)
	defer cancel()

	var data []string
	for msg := range ch {
		require.NoError(t, msg.Err)
		if msg.Payload != nil {
			data = append(data, string(msg.Payload.Data))
		}
	}
	assert.Equal(t, []string{`{"tick":1}`}, data)
	require.Len(t, paths, 1)
	assert.Equal(t, "/stream", <-paths)
}
