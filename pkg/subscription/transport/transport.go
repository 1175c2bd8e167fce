// Package transport carries subscriptions over WebSocket and Server-Sent Events.
//
// A WSTransport multiplexes every subscription of one subscriber over a shared connection.
// An SSETransport opens one event stream per subscription.
package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
)

var (
	ErrConnectionClosed   = errors.New("connection closed")
	ErrSubscriptionExists = errors.New("subscription ID already exists")

	DefaultWriteTimeout = 5 * time.Second
)

// Transport starts subscriptions. The returned channel is closed once the subscription
// ends; cancel stops it early and never produces an error message.
type Transport interface {
	Subscribe(ctx context.Context, req *common.Request, params Params) (results <-chan *common.Message, cancel func(), err error)
	Close() error
}

// Params are the connection parameters of a subscription. Subscriptions with equal
// params share a WebSocket connection.
type Params struct {
	Headers http.Header
	// InitPayload is sent with connection_init. SSE ignores it.
	InitPayload map[string]any
}
