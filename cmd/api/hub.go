package main

import (
	"sync"

	"github.com/tetherchat/tether/internal/event"
	"github.com/tetherchat/tether/internal/metrics"
)

// EventSender defines the minimal interface the hub needs from a session:
// the ability to send one tagged event to the connected client.
type EventSender interface {
	Send(env *event.Envelope) error
}

// Hub is the presence registry. It tracks every open connection (so the
// roster can be pushed to anonymous sockets too) and maps each online
// username to the single connection that currently owns it. It is the only
// component consulted for "can I deliver live right now".
type Hub struct {
	mu       sync.RWMutex
	conns    map[int64]EventSender
	nextID   int64
	presence map[string]int64
	onChange func()
}

// NewHub creates a new hub instance.
func NewHub() *Hub {
	return &Hub{
		conns:    make(map[int64]EventSender),
		presence: make(map[string]int64),
	}
}

// SetOnChange installs the hook fired after every presence mutation. The
// server uses it to drive the roster broadcast. Must be set before serving.
func (h *Hub) SetOnChange(fn func()) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

// AddConn registers an open socket and returns its connection id. The
// socket may still be anonymous; it receives roster broadcasts either way.
func (h *Hub) AddConn(s EventSender) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.conns[id] = s
	metrics.OpenConnections.Set(float64(len(h.conns)))
	return id
}

// RemoveConn forgets an open socket. Idempotent.
func (h *Hub) RemoveConn(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, id)
	metrics.OpenConnections.Set(float64(len(h.conns)))
}

// Register binds or rebinds a username to the given connection and marks it
// online. Last writer wins: a second login for the same username silently
// takes over delivery, the displaced socket stays open but no longer
// receives messages addressed to the name.
func (h *Hub) Register(username string, connID int64) {
	h.mu.Lock()
	h.presence[username] = connID
	metrics.OnlineUsers.Set(float64(len(h.presence)))
	fn := h.onChange
	h.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Unregister marks the username offline if it is still bound to the given
// connection. The connID guard keeps a stale disconnect from knocking out a
// session that rebound the name in the meantime. Idempotent: duplicate
// disconnect events are no-ops.
func (h *Hub) Unregister(username string, connID int64) {
	h.mu.Lock()
	bound, ok := h.presence[username]
	if !ok || bound != connID {
		h.mu.Unlock()
		return
	}
	delete(h.presence, username)
	metrics.OnlineUsers.Set(float64(len(h.presence)))
	fn := h.onChange
	h.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// IsOnline reports whether the username currently has a live connection.
func (h *Hub) IsOnline(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.presence[username]
	return ok
}

// SenderOf returns the connection currently bound to the username, if any.
func (h *Hub) SenderOf(username string) (EventSender, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	id, ok := h.presence[username]
	if !ok {
		return nil, false
	}
	s, ok := h.conns[id]
	return s, ok
}

// OnlineSnapshot returns the set of usernames online at this instant.
func (h *Hub) OnlineSnapshot() map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	online := make(map[string]bool, len(h.presence))
	for username := range h.presence {
		online[username] = true
	}
	return online
}

// Broadcast pushes the event to every open connection, anonymous sockets
// included. Delivery is best-effort: a connection that fails to accept the
// frame is skipped, its own teardown removes it from the hub.
func (h *Hub) Broadcast(env *event.Envelope) {
	h.mu.RLock()
	senders := make([]EventSender, 0, len(h.conns))
	for _, s := range h.conns {
		senders = append(senders, s)
	}
	h.mu.RUnlock()

	for _, s := range senders {
		_ = s.Send(env)
	}
}
