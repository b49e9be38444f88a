// Package window implements the fixed-capacity, oldest-evicted message
// history shared by the overlay chat store and the server-side backfill.
package window

import "sync"

// DefaultSize is the number of chat lines an overlay keeps on screen.
const DefaultSize = 30

// Append returns queue with item pushed to the end, trimmed from the front
// so that at most max entries remain. The backing array of queue is never
// written to.
func Append[T any](queue []T, item T, max int) []T {
	next := append(queue[:len(queue):len(queue)], item)
	if max > 0 && len(next) > max {
		next = next[len(next)-max:]
	}
	return next
}

// Window is a goroutine-safe sliding window.
type Window[T any] struct {
	mu    sync.RWMutex
	items []T
	max   int
}

// New creates a window holding at most max items. A non-positive max falls
// back to DefaultSize.
func New[T any](max int) *Window[T] {
	if max <= 0 {
		max = DefaultSize
	}
	return &Window[T]{max: max}
}

// Push appends item, evicting the oldest entry when full.
func (w *Window[T]) Push(item T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = Append(w.items, item, w.max)
}

// Items returns a copy of the window, oldest first.
func (w *Window[T]) Items() []T {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]T, len(w.items))
	copy(out, w.items)
	return out
}

// Recent returns a copy of the last n items, oldest first.
func (w *Window[T]) Recent(n int) []T {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if n <= 0 || len(w.items) == 0 {
		return nil
	}
	if n > len(w.items) {
		n = len(w.items)
	}
	out := make([]T, n)
	copy(out, w.items[len(w.items)-n:])
	return out
}

// RemoveFunc drops every item for which match returns true and reports how
// many were removed.
func (w *Window[T]) RemoveFunc(match func(T) bool) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := make([]T, 0, len(w.items))
	for _, it := range w.items {
		if !match(it) {
			kept = append(kept, it)
		}
	}
	removed := len(w.items) - len(kept)
	w.items = kept
	return removed
}

// Reset empties the window.
func (w *Window[T]) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = nil
}

// Len returns the number of items held.
func (w *Window[T]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.items)
}

// Cap returns the maximum number of items held.
func (w *Window[T]) Cap() int {
	return w.max
}
