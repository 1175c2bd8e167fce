package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jensneuse/abstractlogger"
	"go.uber.org/atomic"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
	"github.com/wundergraph/graphql-url-loader/pkg/subscription/protocol"
)

// deliveryGrace bounds how long a failing connection waits for a consumer to take the
// final error message.
const deliveryGrace = 100 * time.Millisecond

// sharedConn is one initialised WebSocket carrying any number of subscriptions, keyed by
// operation id. It closes itself when the last subscription leaves.
type sharedConn struct {
	ws           *websocket.Conn
	proto        protocol.Protocol
	log          abstractlogger.Logger
	writeTimeout time.Duration

	readCtx    context.Context
	cancelRead context.CancelFunc

	// sendMu serialises frames, coder/websocket allows a single concurrent writer
	sendMu sync.Mutex

	mu     sync.Mutex
	active map[string]*sub

	closing  atomic.Bool
	once     sync.Once
	sent     atomic.Int64
	received atomic.Int64

	onClose func()
}

func newSharedConn(ws *websocket.Conn, proto protocol.Protocol, log abstractlogger.Logger, writeTimeout time.Duration, onClose func()) *sharedConn {
	readCtx, cancelRead := context.WithCancel(context.Background())
	return &sharedConn{
		ws:           ws,
		proto:        proto,
		log:          log,
		writeTimeout: writeTimeout,
		readCtx:      readCtx,
		cancelRead:   cancelRead,
		active:       make(map[string]*sub),
		onClose:      onClose,
	}
}

func (c *sharedConn) closed() bool {
	return c.closing.Load()
}

// start registers id and sends its subscribe frame. The subscription ends on complete,
// on error, when ctx is done or when the returned func is called.
func (c *sharedConn) start(ctx context.Context, id string, req *common.Request) (<-chan *common.Message, func(), error) {
	s := newSub()

	c.mu.Lock()
	switch {
	case c.closed():
		c.mu.Unlock()
		return nil, nil, ErrConnectionClosed
	case c.active[id] != nil:
		c.mu.Unlock()
		return nil, nil, ErrSubscriptionExists
	}
	c.active[id] = s
	c.mu.Unlock()

	err := c.write(ctx, func(writeCtx context.Context) error {
		return c.proto.Subscribe(writeCtx, c.ws, id, req)
	})
	if err != nil {
		c.log.Error("sharedConn.start",
			abstractlogger.String("id", id),
			abstractlogger.Error(err),
		)
		c.leave(id, false)
		return nil, nil, err
	}
	c.log.Debug("sharedConn.start", abstractlogger.String("id", id))

	stopWatching := context.AfterFunc(ctx, func() { c.leave(id, true) })
	return s.ch, func() {
		stopWatching()
		c.leave(id, true)
	}, nil
}

// write runs one frame write under the send lock, bounded by the write timeout.
func (c *sharedConn) write(ctx context.Context, frame func(context.Context) error) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed() {
		return ErrConnectionClosed
	}
	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	if err := frame(writeCtx); err != nil {
		return err
	}
	c.sent.Inc()
	return nil
}

// leave drops id. With notify the server is told to stop the operation first.
func (c *sharedConn) leave(id string, notify bool) {
	c.mu.Lock()
	s, ok := c.active[id]
	delete(c.active, id)
	last := len(c.active) == 0
	c.mu.Unlock()

	if !ok {
		return
	}
	if notify {
		c.log.Debug("sharedConn.leave", abstractlogger.String("id", id))
		_ = c.write(context.Background(), func(writeCtx context.Context) error {
			return c.proto.Unsubscribe(writeCtx, c.ws, id)
		})
	}
	s.close()

	if last {
		c.close()
	}
}

// serve reads frames until the socket fails or the connection is closed.
func (c *sharedConn) serve() {
	for !c.closed() {
		msg, err := c.proto.Read(c.readCtx, c.ws)
		if err != nil {
			c.fail(fmt.Errorf("read: %w", err))
			return
		}
		c.received.Inc()

		switch msg.Type {
		case protocol.MessagePing:
			_ = c.write(c.readCtx, func(writeCtx context.Context) error {
				return c.proto.Pong(writeCtx, c.ws)
			})
		case protocol.MessageData, protocol.MessageComplete:
			c.route(msg)
		case protocol.MessageError:
			if msg.ID == "" {
				c.fail(msg.Err)
				return
			}
			c.route(msg)
		default:
			c.log.Debug("sharedConn.serve", abstractlogger.String("message", msg.Type.String()))
		}
	}
}

func (c *sharedConn) route(msg *protocol.Message) {
	c.mu.Lock()
	s := c.active[msg.ID]
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.send(msg.IntoClientMessage(), nil)

	if msg.Type != protocol.MessageData {
		c.leave(msg.ID, false)
	}
}

// close ends the connection. Remaining subscriptions end without an error message.
func (c *sharedConn) close() {
	c.fail(ErrConnectionClosed)
}

// fail tears the connection down once and hands err to every remaining subscription.
func (c *sharedConn) fail(err error) {
	c.once.Do(func() {
		c.sendMu.Lock()
		c.closing.Store(true)
		terminateCtx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		_ = c.proto.Terminate(terminateCtx, c.ws)
		cancel()
		c.sendMu.Unlock()

		c.cancelRead()
		_ = c.ws.Close(websocket.StatusNormalClosure, "")

		c.log.Debug("sharedConn.fail",
			abstractlogger.Error(err),
			abstractlogger.Int("sent", int(c.sent.Load())),
			abstractlogger.Int("received", int(c.received.Load())),
		)

		c.mu.Lock()
		remaining := c.active
		c.active = make(map[string]*sub)
		c.mu.Unlock()

		for _, s := range remaining {
			if !errors.Is(err, ErrConnectionClosed) {
				s.send(&common.Message{Err: err, Done: true}, time.After(deliveryGrace))
			}
			s.close()
		}

		if c.onClose != nil {
			c.onClose()
		}
	})
}
