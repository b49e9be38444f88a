package hub

import "sync"

// client is one overlay connection. send is nil once the client is closed.
type client struct {
	id   string
	conn Conn

	mu   sync.RWMutex
	send chan []byte
}

// enqueue queues frame without blocking and reports whether it was queued.
func (c *client) enqueue(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.send == nil {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close closes the send queue, ending the write pump.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.send != nil {
		close(c.send)
		c.send = nil
	}
}
