// Package socket implements the overlay's reconnecting WebSocket client.
//
// A Client owns exactly one connection at a time. After the connection
// closes or fails it waits a fixed delay and dials again, forever, until
// Disconnect is called or the context passed to Connect is cancelled.
//
//	c := socket.New("ws://localhost:3000/ws", socket.WithHeartbeat(30*time.Second))
//	c.OnMessage(func(frame []byte) { ... })
//	c.Connect(ctx)
//	defer c.Disconnect()
package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultReconnectDelay    = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second

	// PingPayload and PongPayload are the literal heartbeat frames.
	PingPayload = "ping"
	PongPayload = "pong"

	// DefaultGreeting is what the plain browser script sends on open.
	DefaultGreeting = "Hello Server!"

	writeWait = 10 * time.Second
)

var (
	ErrAlreadyConnected = errors.New("socket: already connected")
	ErrNotConnected     = errors.New("socket: not connected")
)

// State is the connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Client is a reconnecting WebSocket client for text frames.
type Client struct {
	url               string
	reconnectDelay    time.Duration
	heartbeatInterval time.Duration
	greeting          string
	dialer            *websocket.Dialer
	onState           func(State)

	handlerMu sync.RWMutex
	onMessage func(frame []byte)

	state    atomic.Int32
	lastPong atomic.Int64

	mu     sync.Mutex // guards conn, cancel and done
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	// one writer at a time; held across the write so mu is never blocked
	// behind a stalled peer
	writeMu sync.Mutex
}

type Option func(*Client)

// WithReconnectDelay sets the fixed wait between connection attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		c.reconnectDelay = d
	}
}

// WithHeartbeat sends a "ping" frame every interval while the connection is
// open. Zero disables it.
func WithHeartbeat(interval time.Duration) Option {
	return func(c *Client) {
		c.heartbeatInterval = interval
	}
}

// WithGreeting sends text right after every successful open.
func WithGreeting(text string) Option {
	return func(c *Client) {
		c.greeting = text
	}
}

// WithDialer replaces the default gorilla dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithStateHandler registers a callback invoked on every state transition.
func WithStateHandler(fn func(State)) Option {
	return func(c *Client) {
		c.onState = fn
	}
}

// New creates a disconnected client for url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:            url,
		reconnectDelay: DefaultReconnectDelay,
		dialer:         websocket.DefaultDialer,
		onState:        func(State) {},
		onMessage:      func([]byte) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMessage registers the handler for inbound text frames. Heartbeat pongs
// are not delivered.
func (c *Client) OnMessage(fn func(frame []byte)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	if fn == nil {
		fn = func([]byte) {}
	}
	c.onMessage = fn
}

// Connect starts the connect/reconnect loop in the background and returns
// immediately. Once ctx ends and the loop exits, Connect may be called again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		return ErrAlreadyConnected
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		c.run(runCtx)
		cancel()

		c.mu.Lock()
		if c.done == done {
			c.cancel = nil
			c.done = nil
		}
		c.mu.Unlock()
	}()
	return nil
}

// Disconnect stops the loop, cancels any pending retry and closes the
// connection. It blocks until the loop has exited.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.closeConn()
	<-done

	c.mu.Lock()
	if c.done == done {
		c.cancel = nil
		c.done = nil
	}
	c.mu.Unlock()
}

// Send writes a text frame. Failures are logged and not reported.
func (c *Client) Send(text string) {
	if err := c.safeWrite([]byte(text)); err != nil {
		slog.Error("websocket send failed", "url", c.url, "error", err)
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether the connection is open.
func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// LastPong returns when the last heartbeat reply arrived, or the zero time.
func (c *Client) LastPong() time.Time {
	ns := c.lastPong.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (c *Client) run(ctx context.Context) {
	defer c.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.connectWS(ctx)
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}

		slog.Warn("websocket connection closed, reconnecting",
			"url", c.url, "error", err, "delay", c.reconnectDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

// connectWS runs a single connection until it fails or ctx is cancelled.
func (c *Client) connectWS(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer c.closeConn()

	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	go func() {
		<-connCtx.Done()
		c.closeConn()
	}()

	c.setState(StateOpen)
	slog.Info("websocket connection established", "url", c.url)

	if c.greeting != "" {
		c.Send(c.greeting)
	}
	if c.heartbeatInterval > 0 {
		go c.heartbeat(connCtx)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				slog.Info("websocket closed by peer", "url", c.url, "code", closeErr.Code)
			}
			return err
		}

		if msgType != websocket.TextMessage {
			slog.Debug("ignoring non-text frame", "url", c.url, "type", msgType)
			continue
		}
		if string(data) == PongPayload {
			c.lastPong.Store(time.Now().UnixNano())
			continue
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(frame []byte) {
	c.handlerMu.RLock()
	fn := c.onMessage
	c.handlerMu.RUnlock()
	fn(frame)
}

// heartbeat sends periodic pings while the connection is open.
func (c *Client) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.IsConnected() {
				continue
			}
			if err := c.safeWrite([]byte(PingPayload)); err != nil {
				slog.Debug("heartbeat stopped", "url", c.url, "error", err)
				return
			}
		}
	}
}

func (c *Client) safeWrite(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) != s {
		c.onState(s)
	}
}
