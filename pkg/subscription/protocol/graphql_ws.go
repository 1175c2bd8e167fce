package protocol

import (
	"context"
	"time"

	"github.com/coder/websocket"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
)

const SubprotocolGraphQLWS = "graphql-ws"

// legacyWS is the graphql-ws dialect of subscriptions-transport-ws, see
// https://github.com/apollographql/subscriptions-transport-ws/blob/master/PROTOCOL.md
var legacyWS = &dialect{
	name:      SubprotocolGraphQLWS,
	subscribe: "start",
	stop:      "stop",
	terminate: "connection_terminate",
	rawSource: true,
	incoming: map[string]MessageType{
		"data":             MessageData,
		"error":            MessageError,
		"connection_error": MessageError,
		"complete":         MessageComplete,
		"ka":               MessageKeepAlive,
	},
	beforeAck: func(_ context.Context, _ *websocket.Conn, f frame) (bool, error) {
		switch f.Type {
		case "ka":
			return true, nil
		case "connection_error":
			return false, connectionError(f.Payload)
		}
		return false, nil
	},
}

// GraphQLWS speaks the legacy graphql-ws subprotocol. The server drives keep-alives, so
// Ping and Pong send nothing.
type GraphQLWS struct {
	AckTimeout time.Duration
}

func NewGraphQLWS() *GraphQLWS {
	return &GraphQLWS{AckTimeout: defaultAckTimeout}
}

func (p *GraphQLWS) Subprotocol() string {
	return legacyWS.name
}

// Init skips keep-alives that arrive before the ack.
func (p *GraphQLWS) Init(ctx context.Context, conn *websocket.Conn, payload map[string]any) error {
	return legacyWS.init(ctx, conn, payload, p.AckTimeout)
}

// Subscribe sends the document source as the caller wrote it.
func (p *GraphQLWS) Subscribe(ctx context.Context, conn *websocket.Conn, id string, req *common.Request) error {
	return legacyWS.start(ctx, conn, id, req)
}

func (p *GraphQLWS) Unsubscribe(ctx context.Context, conn *websocket.Conn, id string) error {
	return legacyWS.write(ctx, conn, id, legacyWS.stop, nil)
}

func (p *GraphQLWS) Read(ctx context.Context, conn *websocket.Conn) (*Message, error) {
	return legacyWS.read(ctx, conn)
}

func (p *GraphQLWS) Ping(context.Context, *websocket.Conn) error { return nil }

func (p *GraphQLWS) Pong(context.Context, *websocket.Conn) error { return nil }

func (p *GraphQLWS) Terminate(ctx context.Context, conn *websocket.Conn) error {
	return legacyWS.write(ctx, conn, "", legacyWS.terminate, nil)
}

var _ Protocol = (*GraphQLWS)(nil)
