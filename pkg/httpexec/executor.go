// Package httpexec executes GraphQL queries and mutations over HTTP.
//
// Depending on the configuration and the operation, a request is sent as GET with the
// operation in the query string, as POST with a JSON body or as POST with a multipart body
// carrying file uploads. Servers answering with multipart/mixed are read incrementally.
package httpexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"github.com/jensneuse/abstractlogger"
	"github.com/tidwall/sjson"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
	"github.com/wundergraph/graphql-url-loader/pkg/headers"
	"github.com/wundergraph/graphql-url-loader/pkg/incremental"
	"github.com/wundergraph/graphql-url-loader/pkg/uploads"
	"github.com/wundergraph/graphql-url-loader/pkg/urlscheme"
)

const (
	AcceptHeader          = "Accept"
	AcceptEncodingHeader  = "Accept-Encoding"
	ContentEncodingHeader = "Content-Encoding"
	ContentTypeHeader     = "Content-Type"

	ContentTypeJSON = "application/json"
	acceptValue     = "application/json, multipart/mixed"

	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
	EncodingBrotli  = "br"
)

var (
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrMissingEndpoint    = errors.New("endpoint is required")
)

// Doer sends HTTP requests. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Credentials int

const (
	// CredentialsInclude sends and stores cookies using the client's cookie jar.
	CredentialsInclude Credentials = iota
	// CredentialsOmit never sends or stores cookies.
	CredentialsOmit
)

type Config struct {
	// Endpoint may use any of http, https, ws or wss. WebSocket schemes are translated.
	Endpoint string
	// Client defaults to a client with a cookie jar.
	Client  Doer
	Headers headers.Spec
	// Method is the default method, POST unless set.
	Method string
	// UseGETForQueries sends documents that contain only queries as GET.
	UseGETForQueries bool
	// Multipart enables the multipart request format for variables containing uploads.
	Multipart   bool
	Credentials Credentials
	// Uploads classifies upload values, uploads.DefaultClassifier if nil.
	Uploads uploads.Classifier
	Logger  abstractlogger.Logger
}

type Executor struct {
	endpoint string
	client   Doer
	headers  headers.Spec
	method   string
	useGET   bool
	multi    bool
	classify uploads.Classifier
	log      abstractlogger.Logger
}

// Response is either a single result or a stream of accumulated results.
type Response struct {
	Result *common.ExecutionResult
	Stream <-chan *common.Message
	cancel func()
}

// IsStream reports whether the server answered incrementally.
func (r *Response) IsStream() bool {
	return r.Stream != nil
}

// Close aborts a streaming response. It is safe to call more than once.
func (r *Response) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

func New(cfg Config) (*Executor, error) {
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}

	method := strings.ToUpper(cfg.Method)
	switch method {
	case "":
		method = http.MethodPost
	case http.MethodGet, http.MethodPost:
	default:
		return nil, fmt.Errorf("unsupported method %q", cfg.Method)
	}

	client := cfg.Client
	if client == nil {
		client = NewDefaultClient()
	}
	if cfg.Credentials == CredentialsOmit {
		if c, ok := client.(*http.Client); ok && c.Jar != nil {
			withoutJar := *c
			withoutJar.Jar = nil
			client = &withoutJar
		}
	}

	classify := cfg.Uploads
	if classify == nil {
		classify = uploads.DefaultClassifier
	}

	log := cfg.Logger
	if log == nil {
		log = abstractlogger.NoopLogger
	}

	return &Executor{
		endpoint: urlscheme.ToHTTP(cfg.Endpoint),
		client:   client,
		headers:  cfg.Headers,
		method:   method,
		useGET:   cfg.UseGETForQueries,
		multi:    cfg.Multipart,
		classify: classify,
		log:      log,
	}, nil
}

// NewDefaultClient returns a client that keeps cookies across requests.
func NewDefaultClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Jar: jar,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 1024,
		},
	}
}

// Execute sends req. A streaming Response must be closed by the caller unless it has been
// drained. The request runs under its own cancellable context which is cancelled once the
// response has been consumed.
func (e *Executor) Execute(ctx context.Context, req *common.Request) (*Response, error) {
	method, err := e.methodFor(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	httpReq, err := e.newRequest(ctx, method, req)
	if err != nil {
		cancel()
		return nil, err
	}

	e.log.Debug("httpexec.Executor.Execute",
		abstractlogger.String("method", method),
		abstractlogger.String("url", httpReq.URL.String()),
	)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		cancel()
		e.log.Error("httpexec.Executor.Execute", abstractlogger.Error(err))
		return nil, fmt.Errorf("execute request: %w", err)
	}

	body, err := respBodyReader(resp)
	if err != nil {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("decode response body: %w", err)
	}

	if boundary, ok := incremental.Probe(resp); ok {
		stream, stop := incremental.Stream(ctx, body, boundary, cancel, e.log)
		return &Response{Stream: stream, cancel: stop}, nil
	}

	defer cancel()
	defer body.Close()

	result, err := decodeResult(resp.StatusCode, body)
	if err != nil {
		e.log.Error("httpexec.Executor.Execute", abstractlogger.Error(err))
		return nil, err
	}
	return &Response{Result: result}, nil
}

// ExecuteSync blocks until the whole result is available. Streaming responses are drained
// and the last snapshot is returned.
func (e *Executor) ExecuteSync(ctx context.Context, req *common.Request) (*common.ExecutionResult, error) {
	resp, err := e.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.IsStream() {
		return resp.Result, nil
	}
	defer resp.Close()

	var last *common.ExecutionResult
	for msg := range resp.Stream {
		if msg.Err != nil {
			return last, msg.Err
		}
		if msg.Payload != nil {
			last = msg.Payload
		}
	}
	if err := ctx.Err(); err != nil {
		return last, err
	}
	if last == nil {
		return nil, fmt.Errorf("%w: empty incremental response", ErrUnexpectedResponse)
	}
	return last, nil
}

// methodFor picks the method for req. With GET for queries enabled, any mutation or
// subscription definition switches to the default method for the whole document.
func (e *Executor) methodFor(req *common.Request) (string, error) {
	if !e.useGET {
		return e.method, nil
	}
	types, err := req.OperationTypes()
	if err != nil {
		return "", err
	}
	method := http.MethodGet
	for _, operation := range types {
		if operation != ast.Query {
			method = e.method
		}
	}
	return method, nil
}

func (e *Executor) newRequest(ctx context.Context, method string, req *common.Request) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
		target      = e.endpoint
		err         error
	)

	switch {
	case method == http.MethodGet:
		if target, err = getURL(e.endpoint, req); err != nil {
			return nil, err
		}
	case e.multi && uploads.HasUploads(req.Variables, e.classify):
		manifest := uploads.Extract(req.Variables, e.classify)
		operations, err := manifest.Operations(req.Print(), req.OperationName)
		if err != nil {
			return nil, fmt.Errorf("build operations: %w", err)
		}
		body, contentType = manifest.Body(ctx, operations)
	default:
		data, err := jsonBody(req)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
		contentType = ContentTypeJSON
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		if closer, ok := body.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range headers.Resolve(e.headers, req) {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get(AcceptHeader) == "" {
		httpReq.Header.Set(AcceptHeader, acceptValue)
	}
	if contentType != "" {
		httpReq.Header.Set(ContentTypeHeader, contentType)
	}
	httpReq.Header.Set(AcceptEncodingHeader, EncodingGzip)
	httpReq.Header.Add(AcceptEncodingHeader, EncodingDeflate)
	httpReq.Header.Add(AcceptEncodingHeader, EncodingBrotli)

	return httpReq, nil
}

func jsonBody(req *common.Request) ([]byte, error) {
	out, err := sjson.SetBytes([]byte(`{}`), "query", req.Print())
	if err != nil {
		return nil, err
	}
	if req.Variables != nil {
		variables, err := json.Marshal(req.Variables)
		if err != nil {
			return nil, fmt.Errorf("marshal variables: %w", err)
		}
		if out, err = sjson.SetRawBytes(out, "variables", variables); err != nil {
			return nil, err
		}
	}
	if req.OperationName != "" {
		if out, err = sjson.SetBytes(out, "operationName", req.OperationName); err != nil {
			return nil, err
		}
	}
	if len(req.Extensions) > 0 {
		extensions, err := json.Marshal(req.Extensions)
		if err != nil {
			return nil, fmt.Errorf("marshal extensions: %w", err)
		}
		if out, err = sjson.SetRawBytes(out, "extensions", extensions); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeResult(status int, body io.Reader) (*common.ExecutionResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var result common.ExecutionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%w: status %d: %w", ErrUnexpectedResponse, status, err)
	}
	if result.Data == nil && result.Errors == nil {
		return nil, fmt.Errorf("%w: status %d: neither data nor errors", ErrUnexpectedResponse, status)
	}
	return &result, nil
}
