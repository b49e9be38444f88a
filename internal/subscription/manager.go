// Package subscription tracks which overlay clients want chat from which
// channels, joining and leaving chat channels as demand appears and goes.
package subscription

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Global is the client id used for subscriptions that broadcast to every
// connected overlay.
const Global = "global"

// Joiner joins and leaves chat channels on a chat platform.
type Joiner interface {
	Join(channels ...string)
	Depart(channel string)
}

// Manager is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]map[string]struct{} // channel -> client ids
	clients  map[string]map[string]struct{} // client id -> channels
	joiner   Joiner

	// joined for the lifetime of the ingest, never joined or departed here
	permanent map[string]struct{}
}

type Option func(*Manager)

// WithPermanent marks channels the ingest joins on its own, typically the
// configured ones. Subscribers come and go on them without Join or Depart.
func WithPermanent(channels ...string) Option {
	return func(m *Manager) {
		for _, ch := range channels {
			if ch = normalize(ch); ch != "" {
				m.permanent[ch] = struct{}{}
			}
		}
	}
}

// NewManager creates a manager. joiner may be nil, for example when chat
// ingest is disabled.
func NewManager(joiner Joiner, opts ...Option) *Manager {
	m := &Manager{
		channels:  make(map[string]map[string]struct{}),
		clients:   make(map[string]map[string]struct{}),
		joiner:    joiner,
		permanent: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetJoiner replaces the joiner. Channels already subscribed are joined on it.
func (m *Manager) SetJoiner(joiner Joiner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joiner = joiner
	if joiner == nil {
		return
	}
	var join []string
	for _, ch := range sortedKeys(m.channels) {
		if !m.isPermanent(ch) {
			join = append(join, ch)
		}
	}
	if len(join) > 0 {
		joiner.Join(join...)
	}
}

// Subscribe adds clientID to channel. The first subscriber of a channel
// causes it to be joined.
func (m *Manager) Subscribe(channel, clientID string) error {
	channel = normalize(channel)
	if channel == "" {
		return fmt.Errorf("subscribe %q: empty channel", clientID)
	}
	if clientID == "" {
		return fmt.Errorf("subscribe to %s: empty client id", channel)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.channels[channel]
	if !ok {
		subs = make(map[string]struct{})
		m.channels[channel] = subs
	}
	subs[clientID] = struct{}{}

	chans, ok := m.clients[clientID]
	if !ok {
		chans = make(map[string]struct{})
		m.clients[clientID] = chans
	}
	chans[channel] = struct{}{}

	if len(subs) == 1 && m.joiner != nil && !m.isPermanent(channel) {
		slog.Info("joining channel", "channel", channel)
		m.joiner.Join(channel)
	}
	return nil
}

// Unsubscribe removes clientID from channel. The channel is departed once
// nobody is subscribed.
func (m *Manager) Unsubscribe(channel, clientID string) {
	channel = normalize(channel)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(channel, clientID)
}

// RemoveClient drops every subscription held by clientID.
func (m *Manager) RemoveClient(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for channel := range m.clients[clientID] {
		m.removeLocked(channel, clientID)
	}
}

// Subscribers returns the client ids subscribed to channel, sorted.
func (m *Manager) Subscribers(channel string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.channels[normalize(channel)])
}

// ClientSubscriptions returns the channels clientID is subscribed to, sorted.
func (m *Manager) ClientSubscriptions(clientID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.clients[clientID])
}

// Channels returns every channel with at least one subscriber, sorted.
func (m *Manager) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.channels)
}

func (m *Manager) removeLocked(channel, clientID string) {
	if subs, ok := m.channels[channel]; ok {
		if _, member := subs[clientID]; member {
			delete(subs, clientID)
			if len(subs) == 0 {
				delete(m.channels, channel)
				if m.joiner != nil && !m.isPermanent(channel) {
					slog.Info("departing channel", "channel", channel)
					m.joiner.Depart(channel)
				}
			}
		}
	}

	if chans, ok := m.clients[clientID]; ok {
		delete(chans, channel)
		if len(chans) == 0 {
			delete(m.clients, clientID)
		}
	}
}

func (m *Manager) isPermanent(channel string) bool {
	_, ok := m.permanent[channel]
	return ok
}

func normalize(channel string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
