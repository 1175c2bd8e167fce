package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
)

const SubprotocolGraphQLTransportWS = "graphql-transport-ws"

// transportWS is the graphql-transport-ws dialect, see
// https://github.com/enisdenjo/graphql-ws/blob/master/PROTOCOL.md
var transportWS = &dialect{
	name:      SubprotocolGraphQLTransportWS,
	subscribe: "subscribe",
	stop:      "complete",
	incoming: map[string]MessageType{
		"next":     MessageData,
		"error":    MessageError,
		"complete": MessageComplete,
		"ping":     MessagePing,
		"pong":     MessagePong,
	},
	beforeAck: func(ctx context.Context, conn *websocket.Conn, f frame) (bool, error) {
		if f.Type != "ping" {
			return false, nil
		}
		if err := transportWSPong(ctx, conn); err != nil {
			return false, fmt.Errorf("pre-init pong: %w", err)
		}
		return true, nil
	},
}

func transportWSPong(ctx context.Context, conn *websocket.Conn) error {
	return wsjson.Write(ctx, conn, frame{Type: "pong"})
}

// GraphQLTransportWS speaks graphql-transport-ws. The zero value waits
// defaultAckTimeout for connection_ack.
type GraphQLTransportWS struct {
	AckTimeout time.Duration
}

func NewGraphQLTransportWS() *GraphQLTransportWS {
	return &GraphQLTransportWS{AckTimeout: defaultAckTimeout}
}

func (p *GraphQLTransportWS) Subprotocol() string {
	return transportWS.name
}

// Init answers pings that arrive before the ack.
func (p *GraphQLTransportWS) Init(ctx context.Context, conn *websocket.Conn, payload map[string]any) error {
	return transportWS.init(ctx, conn, payload, p.AckTimeout)
}

// Subscribe sends the document printed from its parsed form.
func (p *GraphQLTransportWS) Subscribe(ctx context.Context, conn *websocket.Conn, id string, req *common.Request) error {
	return transportWS.start(ctx, conn, id, req)
}

func (p *GraphQLTransportWS) Unsubscribe(ctx context.Context, conn *websocket.Conn, id string) error {
	return transportWS.write(ctx, conn, id, transportWS.stop, nil)
}

func (p *GraphQLTransportWS) Read(ctx context.Context, conn *websocket.Conn) (*Message, error) {
	return transportWS.read(ctx, conn)
}

func (p *GraphQLTransportWS) Ping(ctx context.Context, conn *websocket.Conn) error {
	return transportWS.write(ctx, conn, "", "ping", nil)
}

func (p *GraphQLTransportWS) Pong(ctx context.Context, conn *websocket.Conn) error {
	return transportWSPong(ctx, conn)
}

// Terminate does nothing, closing the socket ends the session.
func (p *GraphQLTransportWS) Terminate(context.Context, *websocket.Conn) error {
	return nil
}

var _ Protocol = (*GraphQLTransportWS)(nil)
