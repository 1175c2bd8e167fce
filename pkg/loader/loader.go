// Package loader loads a schema from a remote GraphQL endpoint and binds an executor and a
// subscriber to it.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/jensneuse/abstractlogger"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
	"github.com/wundergraph/graphql-url-loader/pkg/headers"
	"github.com/wundergraph/graphql-url-loader/pkg/httpexec"
	"github.com/wundergraph/graphql-url-loader/pkg/introspection"
	"github.com/wundergraph/graphql-url-loader/pkg/subscription"
	"github.com/wundergraph/graphql-url-loader/pkg/urlscheme"
)

var (
	ErrUnknownFetcher       = errors.New("unknown fetch implementation")
	ErrUnknownWebSocketImpl = errors.New("unknown websocket implementation")
	ErrInvalidPointer       = errors.New("pointer is not a http, https, ws or wss url")
	ErrIntrospectionFailed  = errors.New("introspection failed")
)

var sdlExtensions = map[string]struct{}{
	".graphql":  {},
	".graphqls": {},
	".gql":      {},
}

type Options struct {
	Headers headers.Spec

	// Fetch sends HTTP requests. FetchName picks a registered implementation when Fetch is nil.
	Fetch     httpexec.Doer
	FetchName string
	Method    string

	// WebSocketClient performs upgrade requests. WebSocketName picks a registered client
	// when WebSocketClient is nil.
	WebSocketClient *http.Client
	WebSocketName   string

	UseGETForQueries           bool
	Multipart                  bool
	UseSSEForSubscription      bool
	UseWebSocketLegacyProtocol bool
	EventSourceOptions         subscription.EventSourceOptions

	// SubscriptionsEndpoint defaults to the loaded pointer.
	SubscriptionsEndpoint string
	Credentials           httpexec.Credentials
}

// Source is a loaded schema. Executor and Subscriber are nil for schemas read from SDL files.
type Source struct {
	Location   string
	SDL        string
	Schema     *ast.Schema
	Executor   *httpexec.Executor
	Subscriber subscription.Subscriber
}

// Close releases the subscriber's connections.
func (s *Source) Close() error {
	if s.Subscriber == nil {
		return nil
	}
	return s.Subscriber.Close()
}

type Loader struct {
	registry *Registry
	log      abstractlogger.Logger
}

// New returns a Loader resolving capability names against registry. A nil registry gets
// the default one.
func New(registry *Registry, log abstractlogger.Logger) *Loader {
	if registry == nil {
		registry = NewRegistry()
	}
	if log == nil {
		log = abstractlogger.NoopLogger
	}
	return &Loader{registry: registry, log: log}
}

// CanLoad reports whether pointer is an absolute http, https, ws or wss URL.
func (l *Loader) CanLoad(pointer string) bool {
	u, err := url.Parse(pointer)
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ws", "wss":
		return true
	default:
		return false
	}
}

// Load reads the schema behind pointer. URLs ending in .graphql, .graphqls or .gql are
// fetched as SDL text, anything else is introspected.
func (l *Loader) Load(ctx context.Context, pointer string, opts Options) (*Source, error) {
	if !l.CanLoad(pointer) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPointer, pointer)
	}

	fetch, err := l.fetcher(opts)
	if err != nil {
		return nil, err
	}

	if isSDL(pointer) {
		l.log.Debug("loader.Load", abstractlogger.String("pointer", pointer), abstractlogger.String("mode", "sdl"))
		return l.loadSDL(ctx, pointer, fetch, opts)
	}

	wsClient, err := l.webSocketClient(opts)
	if err != nil {
		return nil, err
	}

	l.log.Debug("loader.Load", abstractlogger.String("pointer", pointer), abstractlogger.String("mode", "introspection"))

	executor, err := l.executor(pointer, fetch, opts)
	if err != nil {
		return nil, err
	}

	result, err := executor.ExecuteSync(ctx, &common.Request{Query: introspection.Query, OperationName: "IntrospectionQuery"})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntrospectionFailed, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrIntrospectionFailed, result.Errors[0].Message)
	}

	converter := introspection.Converter{}
	schema, sdl, err := converter.Schema(result.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntrospectionFailed, err)
	}

	subscriber, err := l.subscriber(pointer, fetch, wsClient, opts)
	if err != nil {
		return nil, err
	}

	return &Source{
		Location:   pointer,
		SDL:        sdl,
		Schema:     schema,
		Executor:   executor,
		Subscriber: subscriber,
	}, nil
}

// Executor builds the executor Load would bind to pointer without loading the schema.
func (l *Loader) Executor(pointer string, opts Options) (*httpexec.Executor, error) {
	if !l.CanLoad(pointer) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPointer, pointer)
	}
	fetch, err := l.fetcher(opts)
	if err != nil {
		return nil, err
	}
	return l.executor(pointer, fetch, opts)
}

// Subscriber builds the subscriber Load would bind to pointer without loading the schema.
func (l *Loader) Subscriber(pointer string, opts Options) (subscription.Subscriber, error) {
	if !l.CanLoad(pointer) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPointer, pointer)
	}
	fetch, err := l.fetcher(opts)
	if err != nil {
		return nil, err
	}
	wsClient, err := l.webSocketClient(opts)
	if err != nil {
		return nil, err
	}
	return l.subscriber(pointer, fetch, wsClient, opts)
}

func (l *Loader) fetcher(opts Options) (httpexec.Doer, error) {
	if opts.Fetch != nil {
		return opts.Fetch, nil
	}
	if opts.FetchName == "" {
		return nil, nil
	}
	return l.registry.Fetcher(opts.FetchName)
}

func (l *Loader) webSocketClient(opts Options) (*http.Client, error) {
	if opts.WebSocketClient != nil {
		return opts.WebSocketClient, nil
	}
	if opts.WebSocketName == "" {
		return nil, nil
	}
	return l.registry.WebSocket(opts.WebSocketName)
}

func (l *Loader) executor(pointer string, fetch httpexec.Doer, opts Options) (*httpexec.Executor, error) {
	return httpexec.New(httpexec.Config{
		Endpoint:         pointer,
		Client:           fetch,
		Headers:          opts.Headers,
		Method:           opts.Method,
		UseGETForQueries: opts.UseGETForQueries,
		Multipart:        opts.Multipart,
		Credentials:      opts.Credentials,
		Logger:           l.log,
	})
}

func (l *Loader) subscriber(pointer string, fetch httpexec.Doer, wsClient *http.Client, opts Options) (subscription.Subscriber, error) {
	endpoint := opts.SubscriptionsEndpoint
	if endpoint == "" {
		endpoint = pointer
	}

	// SSE rides on the fetch capability when it is a plain client.
	streaming, _ := fetch.(*http.Client)

	return subscription.New(subscription.Config{
		Endpoint:           endpoint,
		Headers:            opts.Headers,
		UseSSE:             opts.UseSSEForSubscription,
		UseLegacyProtocol:  opts.UseWebSocketLegacyProtocol,
		EventSourceOptions: opts.EventSourceOptions,
		UpgradeClient:      wsClient,
		StreamingClient:    streaming,
		Logger:             l.log,
	})
}

func (l *Loader) loadSDL(ctx context.Context, pointer string, fetch httpexec.Doer, opts Options) (*Source, error) {
	if fetch == nil {
		fetch = httpexec.NewDefaultClient()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlscheme.ToHTTP(pointer), nil)
	if err != nil {
		return nil, err
	}
	req.Header = headers.HTTPHeader(headers.Resolve(opts.Headers, &common.Request{}))

	resp, err := fetch.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sdl: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch sdl: %w: status %d", httpexec.ErrUnexpectedResponse, resp.StatusCode)
	}

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch sdl: %w", err)
	}

	schema, err := gqlparser.LoadSchema(&ast.Source{Name: pointer, Input: string(text)})
	if err != nil {
		return nil, fmt.Errorf("parse sdl: %w", err)
	}

	return &Source{
		Location: pointer,
		SDL:      string(text),
		Schema:   schema,
	}, nil
}

func isSDL(pointer string) bool {
	u, err := url.Parse(pointer)
	if err != nil {
		return false
	}
	_, ok := sdlExtensions[strings.ToLower(path.Ext(u.Path))]
	return ok
}
