package overlay

import (
	"sync"

	"github.com/john/orchid/internal/layout"
	"github.com/john/orchid/internal/message"
	"github.com/john/orchid/internal/window"
)

// ChatStore holds the chat lines currently on screen.
type ChatStore struct {
	win *window.Window[message.ChatMessage]

	mu       sync.RWMutex
	onChange func([]message.ChatMessage)
}

// NewChatStore creates a store showing at most max lines.
func NewChatStore(max int) *ChatStore {
	return &ChatStore{
		win:      window.New[message.ChatMessage](max),
		onChange: func([]message.ChatMessage) {},
	}
}

// OnChange registers fn to receive the full window after every mutation.
func (s *ChatStore) OnChange(fn func([]message.ChatMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func([]message.ChatMessage) {}
	}
	s.onChange = fn
}

// AddMessage appends msg, evicting the oldest line when the window is full.
func (s *ChatStore) AddMessage(msg message.ChatMessage) {
	s.win.Push(msg)
	s.notify()
}

// Messages returns the window, oldest first.
func (s *ChatStore) Messages() []message.ChatMessage {
	return s.win.Items()
}

// Reset empties the window.
func (s *ChatStore) Reset() {
	s.win.Reset()
	s.notify()
}

// ApplyInstruction removes the lines targeted by a moderation instruction
// and returns how many were removed.
func (s *ChatStore) ApplyInstruction(inst message.Instruction) int {
	n := s.win.RemoveFunc(inst.Matches)
	if n > 0 {
		s.notify()
	}
	return n
}

func (s *ChatStore) notify() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	fn(s.win.Items())
}

// LayoutStore holds the current bottom-bar layout.
type LayoutStore struct {
	mu       sync.RWMutex
	items    []layout.Item
	onChange func([]layout.Item)
}

func NewLayoutStore() *LayoutStore {
	return &LayoutStore{onChange: func([]layout.Item) {}}
}

// OnChange registers fn to receive the layout after every mutation.
func (s *LayoutStore) OnChange(fn func([]layout.Item)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func([]layout.Item) {}
	}
	s.onChange = fn
}

// SetItems replaces the whole layout.
func (s *LayoutStore) SetItems(items []layout.Item) {
	s.mu.Lock()
	s.items = append([]layout.Item(nil), items...)
	snapshot, fn := s.snapshotLocked(), s.onChange
	s.mu.Unlock()
	fn(snapshot)
}

// Items returns a copy of the layout.
func (s *LayoutStore) Items() []layout.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Update applies a layout command.
func (s *LayoutStore) Update(u layout.Update) {
	s.mu.Lock()
	s.items = layout.Apply(s.items, u)
	snapshot, fn := s.snapshotLocked(), s.onChange
	s.mu.Unlock()
	fn(snapshot)
}

func (s *LayoutStore) snapshotLocked() []layout.Item {
	out := make([]layout.Item, len(s.items))
	copy(out, s.items)
	return out
}
