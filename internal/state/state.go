// Package state keeps the server-side copy of what overlays show: the
// recent chat window used to backfill new connections and the current
// layout.
package state

import (
	"context"
	"sync"

	"github.com/john/orchid/internal/layout"
	"github.com/john/orchid/internal/message"
	"github.com/john/orchid/internal/window"
)

// ChatHistory stores the most recent chat lines, oldest first.
type ChatHistory interface {
	Append(ctx context.Context, msg message.ChatMessage) error
	Recent(ctx context.Context, n int) ([]message.ChatMessage, error)
	// Apply removes the lines an instruction targets and returns how many
	// were removed.
	Apply(ctx context.Context, inst message.Instruction) (int, error)
}

// LayoutRepository persists the current layout.
type LayoutRepository interface {
	Load(ctx context.Context) ([]layout.Item, error)
	Save(ctx context.Context, items []layout.Item) error
}

// MemoryHistory is a ChatHistory backed by a sliding window.
type MemoryHistory struct {
	win *window.Window[message.ChatMessage]
}

func NewMemoryHistory(max int) *MemoryHistory {
	return &MemoryHistory{win: window.New[message.ChatMessage](max)}
}

func (h *MemoryHistory) Append(_ context.Context, msg message.ChatMessage) error {
	h.win.Push(msg)
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context, n int) ([]message.ChatMessage, error) {
	return h.win.Recent(n), nil
}

func (h *MemoryHistory) Apply(_ context.Context, inst message.Instruction) (int, error) {
	return h.win.RemoveFunc(inst.Matches), nil
}

// MemoryLayouts is a LayoutRepository held in memory.
type MemoryLayouts struct {
	mu    sync.RWMutex
	items []layout.Item
}

func NewMemoryLayouts() *MemoryLayouts {
	return &MemoryLayouts{}
}

func (r *MemoryLayouts) Load(_ context.Context) ([]layout.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]layout.Item{}, r.items...), nil
}

func (r *MemoryLayouts) Save(_ context.Context, items []layout.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append([]layout.Item{}, items...)
	return nil
}
