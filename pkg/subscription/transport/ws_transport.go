package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/coder/websocket"
	"github.com/jensneuse/abstractlogger"
	"github.com/rs/xid"
	"golang.org/x/sync/singleflight"

	"github.com/wundergraph/graphql-url-loader/pkg/common"
	"github.com/wundergraph/graphql-url-loader/pkg/subscription/protocol"
)

type WSConfig struct {
	// Endpoint must use the ws or wss scheme.
	Endpoint string
	// Protocol defaults to graphql-transport-ws.
	Protocol protocol.Protocol
	// HTTPClient performs the upgrade request, http.DefaultClient if nil.
	HTTPClient *http.Client
	// WriteTimeout bounds every frame write, DefaultWriteTimeout if zero.
	WriteTimeout time.Duration
	Logger       abstractlogger.Logger
}

// WSTransport dials lazily on the first subscription and shares the connection with
// every later subscription carrying the same Params.
type WSTransport struct {
	cfg WSConfig
	log abstractlogger.Logger

	dials singleflight.Group

	mu     sync.Mutex
	closed bool
	conns  map[uint64]*sharedConn
}

func NewWSTransport(cfg WSConfig) (*WSTransport, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("WSTransport: endpoint must not be empty")
	}
	if cfg.Protocol == nil {
		cfg.Protocol = protocol.NewGraphQLTransportWS()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = abstractlogger.NoopLogger
	}
	return &WSTransport{
		cfg:   cfg,
		log:   log,
		conns: make(map[uint64]*sharedConn),
	}, nil
}

func (t *WSTransport) Subscribe(ctx context.Context, req *common.Request, params Params) (<-chan *common.Message, func(), error) {
	for attempt := 0; ; attempt++ {
		conn, err := t.acquire(ctx, params)
		if err != nil {
			return nil, nil, err
		}
		results, cancel, err := conn.start(ctx, xid.New().String(), req)
		// the shared connection went away after its last subscription ended
		if errors.Is(err, ErrConnectionClosed) && attempt == 0 {
			continue
		}
		return results, cancel, err
	}
}

// Close shuts down every connection. Later subscriptions fail with ErrConnectionClosed.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	open := make([]*sharedConn, 0, len(t.conns))
	for key, conn := range t.conns {
		open = append(open, conn)
		delete(t.conns, key)
	}
	t.mu.Unlock()

	// outside t.mu, closing calls back into forget
	for _, conn := range open {
		conn.close()
	}
	return nil
}

func (t *WSTransport) ConnCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.conns)
}

// acquire returns the live connection for params, dialing at most once per key at a time.
func (t *WSTransport) acquire(ctx context.Context, params Params) (*sharedConn, error) {
	key := connKey(t.cfg.Endpoint, params)

	if conn, err := t.lookup(key); conn != nil || err != nil {
		return conn, err
	}

	v, err, _ := t.dials.Do(strconv.FormatUint(key, 16), func() (any, error) {
		if conn, err := t.lookup(key); conn != nil || err != nil {
			return conn, err
		}
		conn, err := t.dial(ctx, key, params)
		if err != nil {
			return nil, err
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.close()
			return nil, ErrConnectionClosed
		}
		t.conns[key] = conn
		t.mu.Unlock()

		go conn.serve()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sharedConn), nil
}

func (t *WSTransport) lookup(key uint64) (*sharedConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrConnectionClosed
	}
	if conn := t.conns[key]; conn != nil && !conn.closed() {
		return conn, nil
	}
	return nil, nil
}

func (t *WSTransport) dial(ctx context.Context, key uint64, params Params) (*sharedConn, error) {
	subprotocol := t.cfg.Protocol.Subprotocol()
	t.log.Debug("wsTransport.dial",
		abstractlogger.String("endpoint", t.cfg.Endpoint),
		abstractlogger.String("subprotocol", subprotocol),
	)

	ws, _, err := websocket.Dial(ctx, t.cfg.Endpoint, &websocket.DialOptions{
		HTTPClient:   t.cfg.HTTPClient,
		Subprotocols: []string{subprotocol},
		HTTPHeader:   params.Headers,
	})
	if err != nil {
		t.log.Error("wsTransport.dial", abstractlogger.Error(err))
		return nil, fmt.Errorf("dial %s: %w", t.cfg.Endpoint, err)
	}

	// an empty subprotocol is accepted, some servers never echo it
	if accepted := ws.Subprotocol(); accepted != "" && accepted != subprotocol {
		err := fmt.Errorf("server accepted %q but requested %q", accepted, subprotocol)
		_ = ws.Close(websocket.StatusProtocolError, err.Error())
		return nil, err
	}

	if err := t.cfg.Protocol.Init(ctx, ws, params.InitPayload); err != nil {
		_ = ws.Close(websocket.StatusProtocolError, "init failed")
		return nil, err
	}

	var conn *sharedConn
	conn = newSharedConn(ws, t.cfg.Protocol, t.log, t.cfg.WriteTimeout, func() {
		t.forget(key, conn)
	})
	return conn, nil
}

func (t *WSTransport) forget(key uint64, conn *sharedConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conns[key] == conn {
		delete(t.conns, key)
	}
}

// connKey hashes the endpoint, the sorted upgrade headers and the init payload.
func connKey(endpoint string, params Params) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(endpoint)

	names := make([]string, 0, len(params.Headers))
	for name := range params.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = h.WriteString("\x00" + name)
		for _, value := range params.Headers[name] {
			_, _ = h.WriteString("\x01" + value)
		}
	}

	_, _ = h.WriteString("\x00\x00")
	if len(params.InitPayload) > 0 {
		if payload, err := json.Marshal(params.InitPayload); err == nil {
			_, _ = h.Write(payload)
		}
	}
	return h.Sum64()
}
