package httpexec

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
	"github.com/wundergraph/graphql-url-loader/pkg/headers"
	"github.com/wundergraph/graphql-url-loader/pkg/uploads"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreAnyFunction("net/http/httptest.(*Server).goServe.func1"),
	)
}

func mustRequest(t *testing.T, query string, variables map[string]any) *common.Request {
	t.Helper()
	req, err := common.NewRequest(query, variables)
	require.NoError(t, err)
	return req
}

func newExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

type recorded struct {
	method string
	header http.Header
	query  map[string][]string
	body   []byte
}

func newRecordingServer(t *testing.T, response string) (*httptest.Server, chan recorded) {
	t.Helper()
	requests := make(chan recorded, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- recorded{method: r.Method, header: r.Header.Clone(), query: r.URL.Query(), body: body}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(server.Close)
	return server, requests
}

func TestExecutor_MethodSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		query      string
		useGET     bool
		method     string
		wantMethod string
	}{
		{name: "query with GET for queries", query: `query { hello }`, useGET: true, wantMethod: http.MethodGet},
		{name: "several queries with GET for queries", query: `query A { hello } query B { hello }`, useGET: true, wantMethod: http.MethodGet},
		{name: "mutation with GET for queries", query: `mutation { save }`, useGET: true, wantMethod: http.MethodPost},
		{name: "mutation followed by query stays on default", query: `mutation A { save } query B { hello }`, useGET: true, wantMethod: http.MethodPost},
		{name: "query without GET for queries", query: `query { hello }`, wantMethod: http.MethodPost},
		{name: "explicit GET default", query: `mutation { save }`, method: http.MethodGet, wantMethod: http.MethodGet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server, requests := newRecordingServer(t, `{"data":{"hello":"world"}}`)
			e := newExecutor(t, Config{Endpoint: server.URL, UseGETForQueries: tt.useGET, Method: tt.method})

			result, err := e.ExecuteSync(context.Background(), mustRequest(t, tt.query, nil))
			require.NoError(t, err)
			assert.JSONEq(t, `{"hello":"world"}`, string(result.Data))

			got := <-requests
			assert.Equal(t, tt.wantMethod, got.method)
		})
	}
}

func TestExecutor_GET(t *testing.T) {
	t.Parallel()

	server, requests := newRecordingServer(t, `{"data":{"user":{"id":"1"}}}`)
	e := newExecutor(t, Config{Endpoint: server.URL, UseGETForQueries: true})

	req := mustRequest(t, `query User($id: ID!) { user(id: $id) { id } }`, map[string]any{"id": "1"})
	req.OperationName = "User"
	_, err := e.ExecuteSync(context.Background(), req)
	require.NoError(t, err)

	got := <-requests
	assert.Equal(t, http.MethodGet, got.method)
	assert.Contains(t, got.query["query"][0], "user(id: $id)")
	assert.JSONEq(t, `{"id":"1"}`, got.query["variables"][0])
	assert.Equal(t, []string{"User"}, got.query["operationName"])
	assert.Empty(t, got.body)

	t.Run("empty variables are omitted", func(t *testing.T) {
		server, requests := newRecordingServer(t, `{"data":{}}`)
		e := newExecutor(t, Config{Endpoint: server.URL, Method: http.MethodGet})

		_, err := e.ExecuteSync(context.Background(), mustRequest(t, `{ hello }`, map[string]any{}))
		require.NoError(t, err)

		got := <-requests
		_, ok := got.query["variables"]
		assert.False(t, ok)
	})
}

func TestGetURL(t *testing.T) {
	t.Parallel()

	req := &common.Request{Query: "{ a }", Variables: map[string]any{"x": 1}}

	tests := []struct {
		endpoint string
		want     string
	}{
		{endpoint: "http://localhost:4000/graphql", want: "http://localhost:4000/graphql?query=%7B+a+%7D&variables=%7B%22x%22%3A1%7D"},
		{endpoint: "/graphql", want: "/graphql?query=%7B+a+%7D&variables=%7B%22x%22%3A1%7D"},
		{endpoint: "graphql", want: "graphql?query=%7B+a+%7D&variables=%7B%22x%22%3A1%7D"},
		{endpoint: "http://localhost/graphql?token=abc", want: "http://localhost/graphql?query=%7B+a+%7D&token=abc&variables=%7B%22x%22%3A1%7D"},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			got, err := getURL(tt.endpoint, req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecutor_POST(t *testing.T) {
	t.Parallel()

	server, requests := newRecordingServer(t, `{"data":{"save":true},"errors":[{"message":"partial"}]}`)

	var calls atomic.Int32
	e := newExecutor(t, Config{
		Endpoint: server.URL,
		Headers: headers.Dynamic(func(req *common.Request) headers.Spec {
			calls.Add(1)
			return headers.List{
				{"Authorization": "Bearer a"},
				{"Authorization": "Bearer b", "X-Id": fmt.Sprint(req.Variables["id"])},
			}
		}),
	})

	result, err := e.ExecuteSync(context.Background(), mustRequest(t, `mutation Save($id: ID!) { save(id: $id) }`, map[string]any{"id": "42"}))
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "partial", result.Errors[0].Message)

	got := <-requests
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "application/json, multipart/mixed", got.header.Get("Accept"))
	assert.Equal(t, "Bearer b", got.header.Get("Authorization"))
	assert.Equal(t, "42", got.header.Get("X-Id"))
	assert.Equal(t, []string{"gzip", "deflate", "br"}, got.header.Values("Accept-Encoding"))
	assert.Contains(t, gjson.GetBytes(got.body, "query").String(), "save(id: $id)")
	assert.JSONEq(t, `{"id":"42"}`, gjson.GetBytes(got.body, "variables").Raw)

	_, err = e.ExecuteSync(context.Background(), mustRequest(t, `mutation Save($id: ID!) { save(id: $id) }`, map[string]any{"id": "43"}))
	require.NoError(t, err)
	got = <-requests
	assert.Equal(t, "43", got.header.Get("X-Id"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecutor_Multipart(t *testing.T) {
	t.Parallel()

	type form struct {
		operations string
		fileMap    string
		filename   string
		mimeType   string
		content    string
	}
	forms := make(chan form, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		header := r.MultipartForm.File["0"][0]
		f, _ := header.Open()
		content, _ := io.ReadAll(f)
		_ = f.Close()
		forms <- form{
			operations: r.FormValue("operations"),
			fileMap:    r.FormValue("map"),
			filename:   header.Filename,
			mimeType:   header.Header.Get("Content-Type"),
			content:    string(content),
		}
		_, _ = io.WriteString(w, `{"data":{"upload":true}}`)
	}))
	defer server.Close()

	e := newExecutor(t, Config{Endpoint: server.URL, Multipart: true})

	req := mustRequest(t, `mutation Upload($file: Upload!, $id: ID) { upload(file: $file, id: $id) }`, map[string]any{
		"id":   "1",
		"file": &uploads.File{Reader: strings.NewReader("hello"), Name: "a.txt", ContentType: "text/plain"},
	})
	result, err := e.ExecuteSync(context.Background(), req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"upload":true}`, string(result.Data))

	got := <-forms
	assert.JSONEq(t, `{"file":null,"id":"1"}`, gjson.Get(got.operations, "variables").Raw)
	assert.Contains(t, gjson.Get(got.operations, "query").String(), "upload(file: $file")
	assert.JSONEq(t, `{"0":["variables.file"]}`, got.fileMap)
	assert.Equal(t, "a.txt", got.filename)
	assert.Equal(t, "text/plain", got.mimeType)
	assert.Equal(t, "hello", got.content)

	t.Run("falls back to json without uploads", func(t *testing.T) {
		server, requests := newRecordingServer(t, `{"data":{}}`)
		e := newExecutor(t, Config{Endpoint: server.URL, Multipart: true})

		_, err := e.ExecuteSync(context.Background(), mustRequest(t, `mutation { noop }`, map[string]any{"id": "1"}))
		require.NoError(t, err)
		assert.Equal(t, "application/json", (<-requests).header.Get("Content-Type"))
	})
}

func TestExecutor_ResponseDecoding(t *testing.T) {
	t.Parallel()

	encoders := map[string]func(io.Writer) io.WriteCloser{
		EncodingGzip:   func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		EncodingBrotli: func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) },
	}

	for encoding, newWriter := range encoders {
		t.Run(encoding, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Content-Encoding", encoding)
				enc := newWriter(w)
				_, _ = io.WriteString(enc, `{"data":{"encoded":true}}`)
				_ = enc.Close()
			}))
			defer server.Close()

			e := newExecutor(t, Config{Endpoint: server.URL})
			result, err := e.ExecuteSync(context.Background(), mustRequest(t, `{ encoded }`, nil))
			require.NoError(t, err)
			assert.JSONEq(t, `{"encoded":true}`, string(result.Data))
		})
	}

	t.Run("unexpected body", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "<html>bad gateway</html>")
		}))
		defer server.Close()

		e := newExecutor(t, Config{Endpoint: server.URL})
		_, err := e.Execute(context.Background(), mustRequest(t, `{ a }`, nil))
		require.ErrorIs(t, err, ErrUnexpectedResponse)
		assert.Contains(t, err.Error(), "502")
	})
}

func TestExecutor_Credentials(t *testing.T) {
	t.Parallel()

	newCookieServer := func(t *testing.T) (*httptest.Server, chan bool) {
		sent := make(chan bool, 2)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := r.Cookie("session")
			sent <- err == nil
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1", Path: "/"})
			_, _ = io.WriteString(w, `{"data":{}}`)
		}))
		t.Cleanup(server.Close)
		return server, sent
	}

	t.Run("include", func(t *testing.T) {
		t.Parallel()
		server, sent := newCookieServer(t)
		e := newExecutor(t, Config{Endpoint: server.URL})

		for range 2 {
			_, err := e.ExecuteSync(context.Background(), mustRequest(t, `{ a }`, nil))
			require.NoError(t, err)
		}
		assert.False(t, <-sent)
		assert.True(t, <-sent)
	})

	t.Run("omit", func(t *testing.T) {
		t.Parallel()
		server, sent := newCookieServer(t)
		e := newExecutor(t, Config{Endpoint: server.URL, Credentials: CredentialsOmit})

		for range 2 {
			_, err := e.ExecuteSync(context.Background(), mustRequest(t, `{ a }`, nil))
			require.NoError(t, err)
		}
		assert.False(t, <-sent)
		assert.False(t, <-sent)
	})
}

func writeIncrementalPart(w *multipart.Writer, payload string) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", "application/json; charset=utf-8")
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.WriteString(part, payload)
	return err
}

func TestExecutor_Incremental(t *testing.T) {
	t.Parallel()

	t.Run("sync call returns the final snapshot", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mw := multipart.NewWriter(w)
			_ = mw.SetBoundary("-")
			w.Header().Set("Content-Type", `multipart/mixed; boundary="-"`)
			for _, payload := range []string{
				`{"data":{"a":1},"hasNext":true}`,
				`{"path":["a","b"],"data":2,"hasNext":true}`,
				`{"hasNext":false}`,
			} {
				_ = writeIncrementalPart(mw, payload)
			}
			_ = mw.Close()
		}))
		defer server.Close()

		e := newExecutor(t, Config{Endpoint: server.URL})
		result, err := e.ExecuteSync(context.Background(), mustRequest(t, `{ a { ... @defer { b } } }`, nil))
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":{"b":2}}`, string(result.Data))
		assert.Empty(t, result.Errors)
	})

	t.Run("closing the stream aborts the request", func(t *testing.T) {
		t.Parallel()

		aborted := make(chan struct{})
		var disconnects atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mw := multipart.NewWriter(w)
			w.Header().Set("Content-Type", `multipart/mixed; boundary="`+mw.Boundary()+`"`)
			w.WriteHeader(http.StatusOK)
			_ = writeIncrementalPart(mw, `{"data":{"a":1},"hasNext":true}`)
			_, _ = mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json"}})
			w.(http.Flusher).Flush()

			<-r.Context().Done()
			disconnects.Add(1)
			close(aborted)
		}))
		defer server.Close()

		e := newExecutor(t, Config{Endpoint: server.URL})
		resp, err := e.Execute(context.Background(), mustRequest(t, `{ a ... @defer { b } }`, nil))
		require.NoError(t, err)
		require.True(t, resp.IsStream())

		select {
		case msg := <-resp.Stream:
			require.NoError(t, msg.Err)
			assert.JSONEq(t, `{"a":1}`, string(msg.Payload.Data))
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for first part")
		}

		resp.Close()
		resp.Close()

		select {
		case <-aborted:
		case <-time.After(time.Second):
			t.Fatal("request was not aborted")
		}

		for msg := range resp.Stream {
			assert.NoError(t, msg.Err)
		}
		assert.Equal(t, int32(1), disconnects.Load())
	})
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrMissingEndpoint)

	_, err = New(Config{Endpoint: "http://localhost", Method: "PUT"})
	assert.Error(t, err)

	e := newExecutor(t, Config{Endpoint: "wss://example.com/graphql", Method: "get"})
	assert.Equal(t, "https://example.com/graphql", e.endpoint)
	assert.Equal(t, http.MethodGet, e.method)
}

func TestResponseJSON(t *testing.T) {
	t.Parallel()

	result, err := decodeResult(http.StatusOK, strings.NewReader(`{"data":null,"errors":[{"message":"x","path":["a",0]}]}`))
	require.NoError(t, err)
	out, err := json.Marshal(result.Errors)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"message":"x","path":["a",0]}]`, string(out))
}
