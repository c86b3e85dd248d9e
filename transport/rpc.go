package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/krantius/raftcore/raft"
)

var errCallTimeout = errors.New("transport: rpc call timed out")

// RPCTransport sends envelopes as one-way net/rpc calls over TCP.
type RPCTransport struct {
	id     raft.ServerID
	logger logrus.FieldLogger

	mu       sync.Mutex
	peers    map[raft.ServerID]*peer
	listener net.Listener
	closed   bool
}

// NewRPCTransport starts listening on listenAddr and hands every inbound
// envelope to handler. addrs maps each other member to its rpc address.
func NewRPCTransport(id raft.ServerID, listenAddr string, addrs map[raft.ServerID]string, handler Handler, logger logrus.FieldLogger) (*RPCTransport, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("id", id)

	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", listenAddr, err)
	}

	t := &RPCTransport{
		id:       id,
		logger:   logger,
		peers:    make(map[raft.ServerID]*peer, len(addrs)),
		listener: l,
	}
	for pid, addr := range addrs {
		if pid == id {
			continue
		}
		t.peers[pid] = newPeer(pid, addr, logger)
	}

	srv := &rpcServer{id: id, handler: handler, logger: logger}
	go srv.serve(l)

	return t, nil
}

// Addr is the address the transport listens on.
func (t *RPCTransport) Addr() net.Addr {
	return t.listener.Addr()
}

func (t *RPCTransport) Send(env raft.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	p, ok := t.peers[env.To]
	if !ok {
		return fmt.Errorf("%q: %w", env.To, ErrUnknownPeer)
	}
	return p.enqueue(env)
}

func (t *RPCTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true

	t.listener.Close()
	for _, p := range t.peers {
		p.stop()
	}
}
