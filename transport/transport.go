// Package transport carries raft messages between nodes. Delivery is
// best-effort: messages may be dropped, and raft retries on its own.
package transport

import (
	"encoding/gob"
	"errors"

	"github.com/krantius/raftcore/raft"
)

var (
	ErrClosed      = errors.New("transport: closed")
	ErrUnknownPeer = errors.New("transport: unknown peer")
	ErrQueueFull   = errors.New("transport: peer queue full")
)

// Transport sends envelopes to other members.
type Transport interface {
	// Send queues env for delivery to env.To and never blocks on the network.
	Send(env raft.Envelope) error
	Close()
}

// Handler receives envelopes addressed to this node. It must not block.
type Handler func(env raft.Envelope)

func init() {
	gob.Register(raft.RequestVoteArgs{})
	gob.Register(raft.RequestVoteResponse{})
	gob.Register(raft.AppendEntriesArgs{})
	gob.Register(raft.AppendEntriesResponse{})
}
