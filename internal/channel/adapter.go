package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	writeTimeout   = 5 * time.Second
	outboundBuffer = 64
)

// Identity associates the connection with an authenticated user.
type Identity struct {
	UserID string
	Token  string
}

// Adapter owns the single long-lived websocket connection to the backend.
// It redials with exponential backoff on unexpected close and dispatches
// inbound events to registered handlers in transport order. Outbound sends
// are advisory fire-and-forget: they never block the caller and are dropped
// when the connection is down or the queue is full, because the
// authoritative write path is always REST.
type Adapter struct {
	url    string
	logger *zap.Logger

	mu       sync.Mutex
	identity *Identity
	cancel   context.CancelFunc
	conn     *websocket.Conn

	outbound chan *Envelope

	hmu         sync.RWMutex
	nextHandler int
	onMessage   map[int]func(*Envelope)
	onConnect   map[int]func()
	onDisc      map[int]func()
}

// NewAdapter creates a push channel adapter for the given websocket URL.
func NewAdapter(channelURL string, logger *zap.Logger) *Adapter {
	return &Adapter{
		url:       channelURL,
		logger:    logger,
		outbound:  make(chan *Envelope, outboundBuffer),
		onMessage: make(map[int]func(*Envelope)),
		onConnect: make(map[int]func()),
		onDisc:    make(map[int]func()),
	}
}

// Connect establishes the connection for the given identity and keeps it
// alive until Disconnect. Calling Connect while already connected for the
// same identity is a no-op; a different identity is an error (disconnect
// first).
func (a *Adapter) Connect(ctx context.Context, id Identity) error {
	if err := checkToken(id.Token, time.Now()); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.identity != nil {
		if a.identity.UserID == id.UserID {
			return nil
		}
		return fmt.Errorf("already connected as %q", a.identity.UserID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.identity = &id
	a.cancel = cancel

	go a.run(runCtx, id)
	return nil
}

// Disconnect tears down the connection and cancels any pending reconnect.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	a.identity = nil
}

// Send queues an advisory event for publication. Never blocks; drops the
// event when the queue is full or nothing is connected.
func (a *Adapter) Send(env *Envelope) {
	select {
	case a.outbound <- env:
	default:
		if a.logger != nil {
			a.logger.Debug("outbound event dropped", zap.String("type", env.Type))
		}
	}
}

// OnMessage registers a handler for inbound events. Handlers run in the
// order events arrive from the transport; there is no replay for late
// subscribers. Returns an unsubscribe function.
func (a *Adapter) OnMessage(h func(*Envelope)) func() {
	return a.register(h, nil, nil)
}

// OnConnect registers a connection-established observer.
func (a *Adapter) OnConnect(h func()) func() {
	return a.register(nil, h, nil)
}

// OnDisconnect registers a connection-lost observer.
func (a *Adapter) OnDisconnect(h func()) func() {
	return a.register(nil, nil, h)
}

func (a *Adapter) register(msg func(*Envelope), conn func(), disc func()) func() {
	a.hmu.Lock()
	id := a.nextHandler
	a.nextHandler++
	if msg != nil {
		a.onMessage[id] = msg
	}
	if conn != nil {
		a.onConnect[id] = conn
	}
	if disc != nil {
		a.onDisc[id] = disc
	}
	a.hmu.Unlock()

	return func() {
		a.hmu.Lock()
		delete(a.onMessage, id)
		delete(a.onConnect, id)
		delete(a.onDisc, id)
		a.hmu.Unlock()
	}
}

// run dials, pumps, and redials until the context is canceled.
func (a *Adapter) run(ctx context.Context, id Identity) {
	backoff := initialBackoff
	for {
		conn, err := a.dial(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if a.logger != nil {
				a.logger.Warn("channel dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = initialBackoff

		a.mu.Lock()
		a.conn = conn
		a.mu.Unlock()

		a.notifyConnect()
		a.pump(ctx, conn)
		a.notifyDisconnect()

		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
	}
}

func (a *Adapter) dial(ctx context.Context, id Identity) (*websocket.Conn, error) {
	u, err := url.Parse(a.url)
	if err != nil {
		return nil, fmt.Errorf("parse channel url: %w", err)
	}
	q := u.Query()
	q.Set("userId", id.UserID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if id.Token != "" {
		header.Set("Authorization", "Bearer "+id.Token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// pump runs the reader inline and the writer in a goroutine, returning when
// the connection dies.
func (a *Adapter) pump(ctx context.Context, conn *websocket.Conn) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case env := <-a.outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(env); err != nil {
					if a.logger != nil {
						a.logger.Debug("outbound write failed", zap.Error(err))
					}
					return
				}
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout))
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			<-writerDone
			return
		}
		env, err := Parse(data)
		if err != nil {
			if a.logger != nil {
				a.logger.Warn("malformed push event", zap.Error(err))
			}
			continue
		}
		a.dispatch(env)
	}
}

func (a *Adapter) dispatch(env *Envelope) {
	a.hmu.RLock()
	handlers := make([]func(*Envelope), 0, len(a.onMessage))
	for _, h := range a.onMessage {
		handlers = append(handlers, h)
	}
	a.hmu.RUnlock()
	for _, h := range handlers {
		h(env)
	}
}

func (a *Adapter) notifyConnect() {
	a.hmu.RLock()
	handlers := make([]func(), 0, len(a.onConnect))
	for _, h := range a.onConnect {
		handlers = append(handlers, h)
	}
	a.hmu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (a *Adapter) notifyDisconnect() {
	a.hmu.RLock()
	handlers := make([]func(), 0, len(a.onDisc))
	for _, h := range a.onDisc {
		handlers = append(handlers, h)
	}
	a.hmu.RUnlock()
	for _, h := range handlers {
		h()
	}
}
