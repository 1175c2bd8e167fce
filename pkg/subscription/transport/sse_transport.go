package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/jensneuse/abstractlogger"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
)

type SSEConfig struct {
	// Endpoint is used as given, SSE runs over http and https.
	Endpoint string
	// Method is GET unless set to POST.
	Method string
	// Client defaults to http.DefaultClient.
	Client *http.Client
	Logger abstractlogger.Logger
}

// SSETransport opens one HTTP request per subscription and leaves connection reuse to
// the client's pool.
type SSETransport struct {
	cfg SSEConfig
	log abstractlogger.Logger

	root     context.Context
	stopRoot context.CancelFunc

	mu      sync.Mutex
	streams map[*eventStream]struct{}
}

func NewSSETransport(cfg SSEConfig) (*SSETransport, error) {
	switch cfg.Method = strings.ToUpper(cfg.Method); cfg.Method {
	case "":
		cfg.Method = http.MethodGet
	case http.MethodGet, http.MethodPost:
	default:
		return nil, fmt.Errorf("unsupported SSE method: %s", cfg.Method)
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	log := cfg.Logger
	if log == nil {
		log = abstractlogger.NoopLogger
	}

	root, stopRoot := context.WithCancel(context.Background())
	return &SSETransport{
		cfg:      cfg,
		log:      log,
		root:     root,
		stopRoot: stopRoot,
		streams:  make(map[*eventStream]struct{}),
	}, nil
}

// Subscribe opens the event stream for req. Cancelling ctx or calling the returned func
// closes it.
func (t *SSETransport) Subscribe(ctx context.Context, req *common.Request, params Params) (<-chan *common.Message, func(), error) {
	reqCtx, cancelReq := context.WithCancel(t.root)
	unwatch := context.AfterFunc(ctx, cancelReq)
	abort := func() {
		unwatch()
		cancelReq()
	}

	body, err := t.open(reqCtx, req, params.Headers)
	if err != nil {
		abort()
		t.log.Error("sseTransport.Subscribe",
			abstractlogger.String("endpoint", t.cfg.Endpoint),
			abstractlogger.Error(err),
		)
		return nil, nil, err
	}

	stream := newEventStream(reqCtx, body, abort)
	t.track(stream, true)

	go func() {
		stream.run()
		t.track(stream, false)
	}()

	return stream.out.ch, func() {
		stream.stop()
		t.track(stream, false)
	}, nil
}

// open sends the subscription request and returns the event stream body.
func (t *SSETransport) open(ctx context.Context, req *common.Request, headers http.Header) (io.ReadCloser, error) {
	t.log.Debug("sseTransport.open",
		abstractlogger.String("endpoint", t.cfg.Endpoint),
		abstractlogger.String("method", t.cfg.Method),
	)

	var (
		httpReq *http.Request
		err     error
	)
	switch t.cfg.Method {
	case http.MethodPost:
		httpReq, err = postRequest(ctx, t.cfg.Endpoint, req)
	default:
		httpReq, err = getRequest(ctx, t.cfg.Endpoint, req)
	}
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	for name, values := range headers {
		httpReq.Header[name] = values
	}

	resp, err := t.cfg.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		if len(detail) == 0 {
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, detail)
	}

	// a missing content type is tolerated
	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		if mediaType, _, _ := mime.ParseMediaType(contentType); mediaType != "text/event-stream" {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("unexpected content-type: %s", contentType)
		}
	}
	return resp.Body, nil
}

func (t *SSETransport) track(stream *eventStream, open bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if open {
		t.streams[stream] = struct{}{}
		return
	}
	delete(t.streams, stream)
}

// Close terminates every open stream.
func (t *SSETransport) Close() error {
	t.stopRoot()

	t.mu.Lock()
	streams := t.streams
	t.streams = make(map[*eventStream]struct{})
	t.mu.Unlock()

	t.log.Debug("sseTransport.Close", abstractlogger.Int("streams", len(streams)))

	for stream := range streams {
		stream.stop()
	}
	return nil
}

func (t *SSETransport) ConnCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

// getRequest encodes the operation in the query string, objects as JSON.
func getRequest(ctx context.Context, endpoint string, req *common.Request) (*http.Request, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	q := u.Query()
	q.Set("query", req.Print())
	if req.OperationName != "" {
		q.Set("operationName", req.OperationName)
	}
	for name, value := range map[string]map[string]any{"variables": req.Variables, "extensions": req.Extensions} {
		if len(value) == 0 {
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", name, err)
		}
		q.Set(name, string(encoded))
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return httpReq, nil
}

// postRequest sends the operation as JSON body, the graphql-sse format.
func postRequest(ctx context.Context, endpoint string, req *common.Request) (*http.Request, error) {
	body, err := json.Marshal(struct {
		Query         string         `json:"query"`
		Variables     map[string]any `json:"variables,omitempty"`
		OperationName string         `json:"operationName,omitempty"`
		Extensions    map[string]any `json:"extensions,omitempty"`
	}{req.Print(), req.Variables, req.OperationName, req.Extensions})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}
