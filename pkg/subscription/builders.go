package subscription

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"net/http/cookiejar"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
	"github.com/wundergraph/graphql-url-loader/pkg/headers"
	"github.com/wundergraph/graphql-url-loader/pkg/subscription/protocol"
	"github.com/wundergraph/graphql-url-loader/pkg/subscription/transport"
	"github.com/wundergraph/graphql-url-loader/pkg/urlscheme"
)

var errMissingEndpoint = errors.New("subscription endpoint is required")

// webSocketSubscriber shares one connection between its subscriptions. Connection
// params are resolved without an operation at hand, so every subscription on the
// connection sees the same headers.
type webSocketSubscriber struct {
	transport *transport.WSTransport
	headers   headers.Spec
	kind      Kind
}

func newWebSocketSubscriber(cfg Config) (Subscriber, error) {
	return newWS(cfg, protocol.NewGraphQLTransportWS(), KindWebSocket)
}

func newLegacyWebSocketSubscriber(cfg Config) (Subscriber, error) {
	return newWS(cfg, protocol.NewGraphQLWS(), KindLegacyWebSocket)
}

func newWS(cfg Config, proto protocol.Protocol, kind Kind) (Subscriber, error) {
	if cfg.Endpoint == "" {
		return nil, errMissingEndpoint
	}
	tr, err := transport.NewWSTransport(transport.WSConfig{
		Endpoint:   urlscheme.ToWebSocket(cfg.Endpoint),
		Protocol:   proto,
		HTTPClient: cfg.UpgradeClient,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &webSocketSubscriber{transport: tr, headers: cfg.Headers, kind: kind}, nil
}

func (s *webSocketSubscriber) Subscribe(ctx context.Context, req *common.Request) (<-chan *common.Message, func(), error) {
	resolved := headers.Resolve(s.headers, &common.Request{})
	return s.transport.Subscribe(ctx, req, transport.Params{
		Headers:     headers.HTTPHeader(resolved),
		InitPayload: headers.Payload(resolved),
	})
}

func (s *webSocketSubscriber) Close() error {
	return s.transport.Close()
}

// sseSubscriber opens one event stream per subscription against the endpoint as given.
type sseSubscriber struct {
	transport *transport.SSETransport
	headers   headers.Spec
	extra     map[string]string
}

func newSSESubscriber(cfg Config) (Subscriber, error) {
	if cfg.Endpoint == "" {
		return nil, errMissingEndpoint
	}
	tr, err := transport.NewSSETransport(transport.SSEConfig{
		Endpoint: cfg.Endpoint,
		Method:   cfg.EventSourceOptions.Method,
		Client:   streamingClient(cfg.StreamingClient, cfg.EventSourceOptions.withCredentials()),
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &sseSubscriber{
		transport: tr,
		headers:   cfg.Headers,
		extra:     cfg.EventSourceOptions.Headers,
	}, nil
}

func (s *sseSubscriber) Subscribe(ctx context.Context, req *common.Request) (<-chan *common.Message, func(), error) {
	resolved := headers.Resolve(s.headers, req)
	maps.Copy(resolved, s.extra)
	return s.transport.Subscribe(ctx, req, transport.Params{Headers: headers.HTTPHeader(resolved)})
}

func (s *sseSubscriber) Close() error {
	return s.transport.Close()
}

// streamingClient returns a client that keeps cookies when credentials are sent and
// never touches a jar otherwise.
func streamingClient(client *http.Client, withCredentials bool) *http.Client {
	if client == nil {
		client = &http.Client{}
		if withCredentials {
			client.Jar, _ = cookiejar.New(nil)
		}
		return client
	}
	if !withCredentials && client.Jar != nil {
		withoutJar := *client
		withoutJar.Jar = nil
		return &withoutJar
	}
	return client
}
