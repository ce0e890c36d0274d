// Package socket wraps the push channel connection. It exposes typed
// subscribe/emit operations and the connect lifecycle, and carries no
// business logic: payloads pass through it as opaque bytes.
package socket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Event names consumed from the push channel.
const (
	EventNewChat           = "new-chat"
	EventNewMessage        = "new-message"
	EventUserStatusChanged = "user-status-changed"
	EventUserTyping        = "user-typing"
)

// Event names emitted upstream.
const (
	EventJoinChat         = "join-chat"
	EventLeaveChat        = "leave-chat"
	EventTyping           = "typing"
	EventUpdateUserStatus = "update-user-status"
	EventSendMessage      = "send-message"
	EventCreateChat       = "create-chat"
)

// Handler receives the JSON-encoded payload of a pushed event. All
// handlers are invoked from a single goroutine, one at a time.
type Handler func(payload []byte)

// Subscription is the token returned by On. Whoever subscribes owns the
// token and must pass it to Off exactly once at teardown.
type Subscription struct {
	event string
	id    int
}

type Config struct {
	URL        string
	WireFormat string
	// Retries bounds reconnection attempts after a dropped connection.
	// Exhausting them leaves the adapter disconnected until an explicit
	// Connect call.
	Retries    int
	RetryDelay time.Duration
}

type Adapter struct {
	cfg   Config
	log   *zap.Logger
	codec codec

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closing   chan struct{}
	out       chan []byte
	handlers  map[string]map[int]Handler
	nextID    int
	dialCtx   context.Context

	onState func(connected bool)
	onError func(err error)
}

func New(cfg Config, log *zap.Logger) (*Adapter, error) {
	c, err := newCodec(cfg.WireFormat)
	if err != nil {
		return nil, err
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Adapter{
		cfg:      cfg,
		log:      log,
		codec:    c,
		handlers: make(map[string]map[int]Handler),
	}, nil
}

// OnStateChange registers the connection state callback. Set it before
// Connect; it is invoked from the adapter's own goroutines.
func (a *Adapter) OnStateChange(fn func(connected bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onState = fn
}

// OnError registers the callback for connection errors. Errors are
// reported, never thrown: a dropped connection surfaces here while the
// adapter retries in the background.
func (a *Adapter) OnError(fn func(err error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onError = fn
}

// Connect establishes the push connection. Calling it while already
// connected is a no-op.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.connected {
		a.mu.Unlock()
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("failed to dial push channel: %w", err)
	}

	a.conn = conn
	a.connected = true
	a.closing = make(chan struct{})
	a.out = make(chan []byte, 64)
	a.dialCtx = ctx
	closing, out := a.closing, a.out
	a.mu.Unlock()

	a.notifyState(true)
	go a.supervise(conn, closing, out)
	return nil
}

// Disconnect tears the connection down and releases every registered
// handler. It is safe to call when already disconnected.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	if !a.connected && a.closing == nil {
		a.handlers = make(map[string]map[int]Handler)
		a.mu.Unlock()
		return
	}
	if a.closing != nil {
		close(a.closing)
		a.closing = nil
	}
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	wasConnected := a.connected
	a.connected = false
	a.handlers = make(map[string]map[int]Handler)
	a.mu.Unlock()

	if wasConnected {
		a.notifyState(false)
	}
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// On registers a handler for the named event and returns its
// subscription token.
func (a *Adapter) On(event string, h Handler) Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	if a.handlers[event] == nil {
		a.handlers[event] = make(map[int]Handler)
	}
	a.handlers[event][a.nextID] = h
	return Subscription{event: event, id: a.nextID}
}

// Off removes the handler identified by the subscription token.
func (a *Adapter) Off(sub Subscription) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if hs, ok := a.handlers[sub.event]; ok {
		delete(hs, sub.id)
	}
}

// Emit sends a fire-and-forget message upstream. Frames are dropped,
// with a log entry, when the adapter is disconnected or the write
// buffer is full.
func (a *Adapter) Emit(event string, payload any) {
	data, err := a.codec.Encode(event, payload)
	if err != nil {
		a.log.Warn("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}

	a.mu.Lock()
	connected, out := a.connected, a.out
	a.mu.Unlock()
	if !connected || out == nil {
		a.log.Debug("dropping frame, not connected", zap.String("event", event))
		return
	}

	select {
	case out <- data:
	default:
		a.log.Warn("dropping frame, write buffer full", zap.String("event", event))
	}
}

// supervise runs the read/write pumps for one connection and redials a
// bounded number of times when the connection drops. A deliberate
// Disconnect ends it silently.
func (a *Adapter) supervise(conn *websocket.Conn, closing chan struct{}, out chan []byte) {
	for {
		err := a.pump(conn, closing, out)

		select {
		case <-closing:
			return
		default:
		}

		a.mu.Lock()
		a.connected = false
		a.mu.Unlock()
		a.notifyState(false)
		a.notifyError(err)

		conn = a.redial(closing)
		if conn == nil {
			select {
			case <-closing:
			default:
				a.log.Warn("push channel reconnect attempts exhausted")
			}
			return
		}

		a.mu.Lock()
		a.conn = conn
		a.connected = true
		a.mu.Unlock()
		a.notifyState(true)
	}
}

func (a *Adapter) pump(conn *websocket.Conn, closing chan struct{}, out chan []byte) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			event, payload, err := a.codec.Decode(data)
			if err != nil {
				a.log.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			a.dispatch(event, payload)
		}
	})

	g.Go(func() error {
		for {
			select {
			case data := <-out:
				if err := conn.WriteMessage(a.codec.MessageType(), data); err != nil {
					return err
				}
			case <-gCtx.Done():
				return nil
			}
		}
	})

	// Reads only unblock when the connection closes.
	g.Go(func() error {
		select {
		case <-closing:
		case <-gCtx.Done():
		}
		_ = conn.Close()
		return nil
	})

	return g.Wait()
}

func (a *Adapter) redial(closing chan struct{}) *websocket.Conn {
	for attempt := 1; attempt <= a.cfg.Retries; attempt++ {
		select {
		case <-closing:
			return nil
		case <-time.After(a.cfg.RetryDelay * time.Duration(attempt)):
		}

		conn, _, err := websocket.DefaultDialer.DialContext(a.dialCtx, a.cfg.URL, nil)
		if err == nil {
			a.log.Info("push channel reconnected", zap.Int("attempt", attempt))
			return conn
		}
		a.log.Warn("push channel redial failed",
			zap.Int("attempt", attempt),
			zap.Int("retries", a.cfg.Retries),
			zap.Error(err))
	}
	return nil
}

// dispatch invokes the handlers registered for event. It is only ever
// called from the read pump, so handler invocations are serialized.
func (a *Adapter) dispatch(event string, payload []byte) {
	a.mu.Lock()
	hs := make([]Handler, 0, len(a.handlers[event]))
	for _, h := range a.handlers[event] {
		hs = append(hs, h)
	}
	a.mu.Unlock()

	for _, h := range hs {
		h(payload)
	}
}

func (a *Adapter) notifyState(connected bool) {
	a.mu.Lock()
	fn := a.onState
	a.mu.Unlock()
	if fn != nil {
		fn(connected)
	}
}

func (a *Adapter) notifyError(err error) {
	a.mu.Lock()
	fn := a.onError
	a.mu.Unlock()
	if fn != nil && err != nil {
		fn(err)
	}
}
