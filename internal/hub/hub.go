// Package hub fans chat, moderation and layout frames out to connected
// overlay sockets.
//
// Each connection gets a buffered send queue drained by its own write pump,
// so a slow overlay never blocks ingest. Frames that do not fit in the queue
// are dropped and counted.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/john/orchid/internal/bus"
	"github.com/john/orchid/internal/layout"
	"github.com/john/orchid/internal/message"
	"github.com/john/orchid/internal/state"
	"github.com/john/orchid/internal/subscription"
	"github.com/john/orchid/internal/window"
)

const (
	DefaultQueueSize = 256

	writeTimeout = 10 * time.Second
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrQueueFull      = errors.New("client send queue full")
)

// Conn is the part of *websocket.Conn the hub uses.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Clients  int      `json:"clients"`
	Channels []string `json:"channels"`
	Pinned   []string `json:"pinned"`
	Sent     uint64   `json:"sent"`
	Dropped  uint64   `json:"dropped"`
}

type Option func(*Hub)

// WithQueueSize sets the per-client send queue length.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithBackfill sets how many recent chat lines a new client receives.
func WithBackfill(n int) Option {
	return func(h *Hub) {
		if n >= 0 {
			h.backfill = n
		}
	}
}

// WithPinned marks channels whose frames go to every client regardless of
// subscriptions, typically the channels ingest is configured with.
func WithPinned(channels ...string) Option {
	return func(h *Hub) {
		for _, ch := range channels {
			ch = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
			if ch != "" {
				h.pinned[ch] = struct{}{}
			}
		}
	}
}

// Hub is safe for concurrent use.
type Hub struct {
	subs      *subscription.Manager
	history   state.ChatHistory
	layouts   state.LayoutRepository
	queueSize int
	backfill  int
	pinned    map[string]struct{}

	mu      sync.RWMutex
	clients map[string]*client

	// serializes layout load/apply/save
	layoutMu sync.Mutex
	// held by HandleEvent and by register while it snapshots the backfill
	eventMu sync.Mutex

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func New(subs *subscription.Manager, history state.ChatHistory, layouts state.LayoutRepository, opts ...Option) *Hub {
	h := &Hub{
		subs:      subs,
		history:   history,
		layouts:   layouts,
		queueSize: DefaultQueueSize,
		backfill:  window.DefaultSize,
		pinned:    make(map[string]struct{}),
		clients:   make(map[string]*client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve registers conn, answers its frames until it closes or ctx is done,
// then unregisters it.
func (h *Hub) Serve(ctx context.Context, conn Conn) {
	c := h.register(ctx, conn)
	defer func() {
		h.Unregister(c.id)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	h.readLoop(ctx, c)
}

// Register adds conn as a client, queues its backfill and starts its write
// pump. The returned id addresses the client in SendTo and subscriptions.
func (h *Hub) Register(ctx context.Context, conn Conn) string {
	return h.register(ctx, conn).id
}

func (h *Hub) register(ctx context.Context, conn Conn) *client {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.queueSize),
	}
	send := c.send

	// eventMu keeps HandleEvent out until the client is in the map, so
	// every event is either in the backfill or delivered after it.
	h.eventMu.Lock()
	frames := h.backfillFrames(ctx)
	h.mu.Lock()
	h.clients[c.id] = c
	for _, f := range frames {
		h.deliver(c, f)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.eventMu.Unlock()

	go h.writePump(c, send)

	slog.Info("overlay client connected", "client_id", c.id, "total_clients", total, "backfill", len(frames))
	return c
}

// Unregister removes a client and its subscriptions. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	if h.subs != nil {
		h.subs.RemoveClient(id)
	}
	slog.Info("overlay client disconnected", "client_id", id, "total_clients", total)
}

// Broadcast queues frame for every client and returns how many accepted it.
func (h *Hub) Broadcast(frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, c := range h.clients {
		if h.deliver(c, frame) {
			n++
		}
	}
	return n
}

// SendTo queues frame for one client.
func (h *Hub) SendTo(id string, frame []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[id]
	if !ok {
		return fmt.Errorf("send to %s: %w", id, ErrClientNotFound)
	}
	if !h.deliver(c, frame) {
		return fmt.Errorf("send to %s: %w", id, ErrQueueFull)
	}
	return nil
}

// Route delivers a frame from channel. Pinned channels and channels with a
// global subscriber are broadcast; otherwise each subscribed client gets it.
func (h *Hub) Route(channel string, frame []byte) int {
	channel = strings.ToLower(channel)
	if _, ok := h.pinned[channel]; ok {
		return h.Broadcast(frame)
	}
	if h.subs == nil {
		return 0
	}

	ids := h.subs.Subscribers(channel)
	for _, id := range ids {
		if id == subscription.Global {
			return h.Broadcast(frame)
		}
	}

	n := 0
	for _, id := range ids {
		if err := h.SendTo(id, frame); err != nil {
			slog.Debug("route skipped client", "channel", channel, "error", err)
			continue
		}
		n++
	}
	return n
}

// HandleEvent is the bus handler feeding the hub.
func (h *Hub) HandleEvent(ctx context.Context, ev bus.Event) error {
	h.eventMu.Lock()
	defer h.eventMu.Unlock()

	switch ev.Kind {
	case bus.KindChat:
		var msg message.ChatMessage
		if err := ev.Decode(&msg); err != nil {
			return err
		}
		if err := h.history.Append(ctx, msg); err != nil {
			slog.Error("failed to store chat history", "channel", ev.Channel, "error", err)
		}
		h.Route(ev.Channel, ev.Payload)

	case bus.KindInstruction:
		var inst message.Instruction
		if err := ev.Decode(&inst); err != nil {
			return err
		}
		removed, err := h.history.Apply(ctx, inst)
		if err != nil {
			slog.Error("failed to apply instruction to history", "subtype", inst.MsgSubtype, "error", err)
		}
		slog.Debug("moderation instruction", "channel", ev.Channel, "subtype", inst.MsgSubtype, "removed", removed)
		h.Route(ev.Channel, ev.Payload)

	case bus.KindLayout:
		var u layout.Update
		if err := ev.Decode(&u); err != nil {
			return err
		}
		if _, err := h.ApplyLayout(ctx, u); err != nil {
			return err
		}
		h.Broadcast(ev.Payload)

	case bus.KindRaw:
		h.Broadcast(ev.Payload)

	default:
		slog.Warn("unknown event kind", "kind", ev.Kind)
	}
	return nil
}

// ApplyLayout applies u to the stored layout and saves the result.
func (h *Hub) ApplyLayout(ctx context.Context, u layout.Update) ([]layout.Item, error) {
	h.layoutMu.Lock()
	defer h.layoutMu.Unlock()

	items, err := h.layouts.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load layout: %w", err)
	}
	next := layout.Apply(items, u)
	if err := h.layouts.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("save layout: %w", err)
	}
	return next, nil
}

// Layout returns the stored layout.
func (h *Hub) Layout(ctx context.Context) ([]layout.Item, error) {
	h.layoutMu.Lock()
	defer h.layoutMu.Unlock()
	return h.layouts.Load(ctx)
}

// Stats returns counters and the current client and channel sets.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	clients := len(h.clients)
	h.mu.RUnlock()

	pinned := make([]string, 0, len(h.pinned))
	for ch := range h.pinned {
		pinned = append(pinned, ch)
	}
	slices.Sort(pinned)

	var channels []string
	if h.subs != nil {
		channels = h.subs.Channels()
	}
	return Stats{
		Clients:  clients,
		Channels: channels,
		Pinned:   pinned,
		Sent:     h.sent.Load(),
		Dropped:  h.dropped.Load(),
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) backfillFrames(ctx context.Context) [][]byte {
	var frames [][]byte

	items, err := h.Layout(ctx)
	if err != nil {
		slog.Error("failed to load layout for backfill", "error", err)
	} else if frame, err := json.Marshal(layout.State{LayoutItems: items}); err == nil {
		frames = append(frames, frame)
	}

	if h.backfill == 0 {
		return frames
	}
	recent, err := h.history.Recent(ctx, h.backfill)
	if err != nil {
		slog.Error("failed to load chat history for backfill", "error", err)
		return frames
	}
	for _, msg := range recent {
		frame, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	return frames
}

func (h *Hub) deliver(c *client, frame []byte) bool {
	if c.enqueue(frame) {
		h.sent.Add(1)
		return true
	}
	h.dropped.Add(1)
	slog.Warn("client send queue full, dropping frame", "client_id", c.id)
	return false
}

// writePump drains send, the queue captured at registration. It returns
// once Unregister closes it.
func (h *Hub) writePump(c *client, send <-chan []byte) {
	for frame := range send {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			slog.Warn("write to overlay client failed", "client_id", c.id, "error", err)
			h.Unregister(c.id)
			_ = c.conn.Close(websocket.StatusInternalError, "write failed")
			return
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				slog.Debug("overlay client closed connection", "client_id", c.id)
			default:
				if ctx.Err() == nil {
					slog.Debug("overlay read ended", "client_id", c.id, "error", err)
				}
			}
			return
		}
		if typ != websocket.MessageText {
			slog.Debug("ignoring binary frame", "client_id", c.id, "bytes", len(data))
			continue
		}
		h.handleText(c, string(data))
	}
}

func (h *Hub) handleText(c *client, text string) {
	switch {
	case text == "ping":
		h.deliver(c, []byte("pong"))
	case strings.HasPrefix(text, "echo"):
		h.deliver(c, []byte(strings.ReplaceAll(text, "echo", "")))
	default:
		slog.Debug("ignoring client frame", "client_id", c.id, "text", text)
	}
}
