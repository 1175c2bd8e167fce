// Package protocol implements the client side of the two GraphQL over WebSocket
// subprotocols: graphql-transport-ws and the legacy graphql-ws.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/tidwall/gjson"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
)

const defaultAckTimeout = 30 * time.Second

type Protocol interface {
	// Subprotocol is the value negotiated during the WebSocket upgrade.
	Subprotocol() string
	Init(ctx context.Context, conn *websocket.Conn, payload map[string]any) error
	Subscribe(ctx context.Context, conn *websocket.Conn, id string, req *common.Request) error
	Unsubscribe(ctx context.Context, conn *websocket.Conn, id string) error
	Read(ctx context.Context, conn *websocket.Conn) (*Message, error)
	Ping(ctx context.Context, conn *websocket.Conn) error
	Pong(ctx context.Context, conn *websocket.Conn) error
	// Terminate tells the server the client is going away.
	Terminate(ctx context.Context, conn *websocket.Conn) error
}

var (
	ErrAckTimeout      = errors.New("connection_ack timeout")
	ErrAckNotReceived  = errors.New("expected connection_ack")
	ErrConnectionError = errors.New("connection error from server")
)

type MessageType int

const (
	MessageData MessageType = iota
	MessageError
	MessageComplete
	MessagePing
	MessagePong
	// MessageKeepAlive is the server heartbeat of graphql-ws. It needs no answer.
	MessageKeepAlive
)

var messageTypeNames = [...]string{"data", "error", "complete", "ping", "pong", "ka"}

func (t MessageType) String() string {
	if t < 0 || int(t) >= len(messageTypeNames) {
		return "unknown"
	}
	return messageTypeNames[t]
}

// Message is a decoded server frame. ID is empty for connection level frames.
type Message struct {
	ID      string
	Type    MessageType
	Payload *common.ExecutionResult
	Err     error
}

func (m *Message) IntoClientMessage() *common.Message {
	switch m.Type {
	case MessageData:
		return &common.Message{Payload: m.Payload}
	case MessageError:
		return &common.Message{Err: m.Err, Done: true}
	case MessageComplete:
		return &common.Message{Done: true}
	}
	return &common.Message{}
}

// frame is the envelope both subprotocols share.
type frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// dialect names the frames of one subprotocol. Frame types missing from incoming are
// rejected when read.
type dialect struct {
	name      string
	subscribe string
	stop      string
	terminate string
	incoming  map[string]MessageType
	// beforeAck handles frames that may precede connection_ack; it reports whether the
	// frame was consumed.
	beforeAck func(ctx context.Context, conn *websocket.Conn, f frame) (bool, error)
	// rawSource sends the document as the caller wrote it instead of printing it.
	rawSource bool
}

func (d *dialect) write(ctx context.Context, conn *websocket.Conn, id, typ string, payload any) error {
	f := frame{ID: id, Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		f.Payload = data
	}
	return wsjson.Write(ctx, conn, f)
}

// init sends connection_init and waits up to timeout for connection_ack.
func (d *dialect) init(ctx context.Context, conn *websocket.Conn, payload map[string]any, timeout time.Duration) error {
	var initPayload any
	if payload != nil {
		initPayload = payload
	}
	if err := d.write(ctx, conn, "", "connection_init", initPayload); err != nil {
		return fmt.Errorf("write connection_init: %w", err)
	}

	if timeout <= 0 {
		timeout = defaultAckTimeout
	}
	ackCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		var f frame
		if err := wsjson.Read(ackCtx, conn, &f); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return ErrAckTimeout
			}
			return fmt.Errorf("read connection_ack: %w", err)
		}
		if f.Type == "connection_ack" {
			return nil
		}
		if d.beforeAck != nil {
			consumed, err := d.beforeAck(ctx, conn, f)
			if err != nil {
				return err
			}
			if consumed {
				continue
			}
		}
		return fmt.Errorf("%w: got %q", ErrAckNotReceived, f.Type)
	}
}

func (d *dialect) start(ctx context.Context, conn *websocket.Conn, id string, req *common.Request) error {
	query := req.Query
	if !d.rawSource || query == "" {
		query = req.Print()
	}
	return d.write(ctx, conn, id, d.subscribe, struct {
		Query         string         `json:"query"`
		Variables     map[string]any `json:"variables,omitempty"`
		OperationName string         `json:"operationName,omitempty"`
		Extensions    map[string]any `json:"extensions,omitempty"`
	}{query, req.Variables, req.OperationName, req.Extensions})
}

func (d *dialect) read(ctx context.Context, conn *websocket.Conn) (*Message, error) {
	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	typ, ok := d.incoming[f.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", f.Type)
	}
	msg := &Message{ID: f.ID, Type: typ}

	switch {
	case typ == MessageData:
		result, err := decodeResult(f.Payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = result
	case typ == MessageError && f.Type == "connection_error":
		msg.Err = connectionError(f.Payload)
	case typ == MessageError:
		subErr, err := decodeErrors(f.Payload)
		if err != nil {
			return nil, err
		}
		msg.Err = subErr
	}
	return msg, nil
}

func decodeResult(payload json.RawMessage) (*common.ExecutionResult, error) {
	if payload == nil {
		return nil, nil
	}
	result := &common.ExecutionResult{}
	if err := json.Unmarshal(payload, result); err != nil {
		return nil, fmt.Errorf("unmarshal result payload: %w", err)
	}
	return result, nil
}

// decodeErrors accepts both a list of errors and a single error object.
func decodeErrors(payload json.RawMessage) (*common.SubscriptionError, error) {
	out := &common.SubscriptionError{}
	if payload == nil {
		return out, nil
	}

	var err error
	if gjson.ParseBytes(payload).IsArray() {
		err = json.Unmarshal(payload, &out.Errors)
	} else {
		out.Errors = make([]common.GraphQLError, 1)
		err = json.Unmarshal(payload, &out.Errors[0])
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal error payload: %w", err)
	}
	return out, nil
}

// connectionError wraps the message of a connection_error payload, or the whole payload
// when it has none.
func connectionError(payload json.RawMessage) error {
	if message := gjson.GetBytes(payload, "message"); message.Type == gjson.String {
		return fmt.Errorf("%w: %s", ErrConnectionError, message.Str)
	}
	return fmt.Errorf("%w: %s", ErrConnectionError, payload)
}
