// Package subscription turns subscription requests into result streams over WebSocket
// (graphql-transport-ws or the legacy graphql-ws) or Server-Sent Events.
//
// The transport is chosen once per subscriber from the configuration: SSE wins over the
// legacy WebSocket protocol, which wins over the default graphql-transport-ws.
package subscription

import (
	"context"
	"net/http"

	"github.com/jensneuse/abstractlogger"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
	"github.com/wundergraph/graphql-url-loader/pkg/headers"
)

// Subscriber opens subscriptions against one endpoint.
type Subscriber interface {
	// Subscribe returns a channel that is closed once the subscription ends. Transport
	// failures arrive as a final message with Err set. Calling cancel or cancelling ctx
	// ends the subscription without an error message.
	Subscribe(ctx context.Context, req *common.Request) (results <-chan *common.Message, cancel func(), err error)
	// Close ends every open subscription and releases shared connections.
	Close() error
}

type Kind int

const (
	KindWebSocket Kind = iota
	KindLegacyWebSocket
	KindSSE
)

func (k Kind) String() string {
	switch k {
	case KindWebSocket:
		return "graphql-transport-ws"
	case KindLegacyWebSocket:
		return "graphql-ws"
	case KindSSE:
		return "sse"
	default:
		return "unknown"
	}
}

// EventSourceOptions tune SSE subscriptions.
type EventSourceOptions struct {
	// WithCredentials sends cookies unless explicitly set to false.
	WithCredentials *bool
	// Headers are added on top of the resolved headers.
	Headers map[string]string
	// Method is GET unless set to POST.
	Method string
}

func (o EventSourceOptions) withCredentials() bool {
	return o.WithCredentials == nil || *o.WithCredentials
}

type Config struct {
	Endpoint string
	Headers  headers.Spec

	UseSSE            bool
	UseLegacyProtocol bool

	EventSourceOptions EventSourceOptions

	// UpgradeClient performs WebSocket upgrade requests.
	UpgradeClient *http.Client
	// StreamingClient performs SSE requests. Its cookie jar is dropped when
	// credentials are disabled.
	StreamingClient *http.Client

	Logger abstractlogger.Logger
}

// Builder creates the subscriber for one transport kind.
type Builder func(cfg Config) (Subscriber, error)

var builders = map[Kind]Builder{
	KindWebSocket:       newWebSocketSubscriber,
	KindLegacyWebSocket: newLegacyWebSocketSubscriber,
	KindSSE:             newSSESubscriber,
}

// Select picks the transport for cfg.
func Select(cfg Config) Kind {
	switch {
	case cfg.UseSSE:
		return KindSSE
	case cfg.UseLegacyProtocol:
		return KindLegacyWebSocket
	default:
		return KindWebSocket
	}
}

// New builds the subscriber selected for cfg. WebSocket subscribers connect lazily on the
// first subscription.
func New(cfg Config) (Subscriber, error) {
	if cfg.Logger == nil {
		cfg.Logger = abstractlogger.NoopLogger
	}
	kind := Select(cfg)
	cfg.Logger.Debug("subscription.New",
		abstractlogger.String("endpoint", cfg.Endpoint),
		abstractlogger.String("transport", kind.String()),
	)
	return builders[kind](cfg)
}
