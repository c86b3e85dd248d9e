package transport

import (
	"fmt"
	"sync"

	"github.com/krantius/raftcore/raft"
)

// Network connects MemoryTransports in one process.
type Network struct {
	mu       sync.RWMutex
	handlers map[raft.ServerID]Handler
	cut      map[raft.ServerID]bool
}

func NewNetwork() *Network {
	return &Network{
		handlers: make(map[raft.ServerID]Handler),
		cut:      make(map[raft.ServerID]bool),
	}
}

// Join attaches id to the network.
func (n *Network) Join(id raft.ServerID, h Handler) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.handlers[id] = h
	return &MemoryTransport{id: id, net: n}
}

// Disconnect drops every message to or from id until Reconnect.
func (n *Network) Disconnect(id raft.ServerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[id] = true
}

func (n *Network) Reconnect(id raft.ServerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.cut, id)
}

func (n *Network) deliver(env raft.Envelope) error {
	n.mu.RLock()
	h, ok := n.handlers[env.To]
	dropped := n.cut[env.From] || n.cut[env.To]
	n.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%q: %w", env.To, ErrUnknownPeer)
	}
	if !dropped {
		h(env)
	}
	return nil
}

func (n *Network) leave(id raft.ServerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, id)
}

// MemoryTransport delivers by calling the receiver's Handler directly.
type MemoryTransport struct {
	id     raft.ServerID
	net    *Network
	mu     sync.Mutex
	closed bool
}

func (t *MemoryTransport) Send(env raft.Envelope) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return ErrClosed
	}
	return t.net.deliver(env)
}

func (t *MemoryTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		t.closed = true
		t.net.leave(t.id)
	}
}
