// Package server drives a raft.Node with real time, storage, a transport and
// the kv application.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/krantius/raftcore/kv"
	"github.com/krantius/raftcore/raft"
	"github.com/krantius/raftcore/storage"
	"github.com/krantius/raftcore/transport"
)

const (
	DefaultTickInterval = 100 * time.Millisecond
	inboxLen            = 1024
)

var (
	ErrStopped = errors.New("server: stopped")

	// ErrRestored fails writes that were in flight when a failed save forced
	// the node to be rebuilt from storage. Such a write may still commit.
	ErrRestored = errors.New("server: persist failed, node restored from storage")
)

type Config struct {
	Raft         raft.Config
	TickInterval time.Duration
	Storage      storage.Storage
	Store        kv.Store
	Logger       logrus.FieldLogger
}

// Server owns a raft.Node. Every access to the node happens on the goroutine
// running Run; everything else talks to it through channels.
type Server struct {
	node    *raft.Node
	raftCfg raft.Config
	storage storage.Storage
	store   kv.Store
	logger  logrus.FieldLogger
	tick    time.Duration

	transport transport.Transport

	inbox    chan raft.Envelope
	requests chan func()
	stopped  chan struct{}

	// pending writes waiting for their command to be applied, by command id
	pending map[uuid.UUID]chan error

	// applied is the last index handed to the store. A restored node
	// re-delivers from 1 and everything up to applied is skipped.
	applied raft.Index

	// failed stops Run when the node could not be restored.
	failed error
}

// New restores the node from cfg.Storage.
func New(cfg Config) (*Server, error) {
	if cfg.Storage == nil || cfg.Store == nil {
		return nil, fmt.Errorf("storage and store are required: %w", raft.ErrInvalidConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	hs, entries, err := cfg.Storage.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	rc := cfg.Raft
	rc.Logger = cfg.Logger
	node, err := newNode(rc, hs, entries)
	if err != nil {
		return nil, err
	}

	return &Server{
		node:     node,
		raftCfg:  rc,
		storage:  cfg.Storage,
		store:    cfg.Store,
		logger:   cfg.Logger.WithField("id", rc.ID),
		tick:     cfg.TickInterval,
		inbox:    make(chan raft.Envelope, inboxLen),
		requests: make(chan func()),
		stopped:  make(chan struct{}),
		pending:  make(map[uuid.UUID]chan error),
	}, nil
}

func newNode(rc raft.Config, hs raft.HardState, entries []raft.LogEntry) (*raft.Node, error) {
	rc.HardState = hs
	rc.Entries = entries
	return raft.New(rc)
}

// Deliver is the transport.Handler for inbound messages. It never blocks; a
// full inbox drops the message.
func (s *Server) Deliver(env raft.Envelope) {
	select {
	case s.inbox <- env:
	default:
		s.logger.WithField("msg", env.String()).Warn("Inbox full, dropping message")
	}
}

// Run processes events until ctx is done.
func (s *Server) Run(ctx context.Context, t transport.Transport) {
	s.transport = t
	defer close(s.stopped)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.WithField("tick", s.tick).Info("Server running")

	for {
		select {
		case <-ticker.C:
			s.step(raft.Tick{})
		case env := <-s.inbox:
			s.step(raft.Receive{From: env.From, Msg: env.Msg})
		case fn := <-s.requests:
			fn()
		case <-ctx.Done():
			s.failPending(ErrStopped)
			s.logger.Info("Server exiting")
			return
		}

		if s.failed != nil {
			s.failPending(ErrStopped)
			s.logger.WithError(s.failed).Error("Server stopping")
			return
		}
	}
}

func (s *Server) failPending(err error) {
	for id, ch := range s.pending {
		ch <- err
		delete(s.pending, id)
	}
}

func (s *Server) step(ev raft.Event) {
	rd, err := s.node.Step(ev)
	if err != nil {
		s.logger.WithError(err).Warn("Event refused")
		return
	}
	s.handleReady(rd)
}

// handleReady persists, then sends, then applies.
func (s *Server) handleReady(rd raft.Ready) {
	if err := storage.Apply(s.storage, rd); err != nil {
		s.logger.WithError(err).Error("Persist failed, withholding messages")
		s.restore()
		return
	}

	for _, m := range rd.Messages {
		if err := s.transport.Send(m); err != nil {
			s.logger.WithError(err).WithField("msg", m.String()).Debug("Send failed")
		}
	}

	for _, e := range rd.Committed {
		s.apply(e)
	}
}

// restore replaces the node, which has moved past what storage holds, with
// one rebuilt from storage. The withheld Ready is dropped: its messages were
// never sent and its committed entries are delivered again later.
func (s *Server) restore() {
	s.failPending(ErrRestored)

	hs, entries, err := s.storage.Load()
	if err != nil {
		s.failed = fmt.Errorf("reload after failed persist: %w", err)
		return
	}
	node, err := newNode(s.raftCfg, hs, entries)
	if err != nil {
		s.failed = fmt.Errorf("rebuild after failed persist: %w", err)
		return
	}
	s.node = node

	s.logger.WithFields(logrus.Fields{"term": hs.Term, "entries": len(entries)}).Warn("Node restored from storage")
}

func (s *Server) apply(e raft.LogEntry) {
	if e.Index <= s.applied {
		return
	}
	s.applied = e.Index

	cmd, err := kv.Decode(e.Data)
	if err != nil {
		s.logger.WithError(err).WithField("index", e.Index).Error("Skipping undecodable entry")
		return
	}

	err = kv.Apply(s.store, cmd)
	if err != nil {
		s.logger.WithError(err).WithField("index", e.Index).Error("Apply failed")
	}

	if ch, ok := s.pending[cmd.ID]; ok {
		ch <- err
		delete(s.pending, cmd.ID)
	}
}

// do runs fn on the Run goroutine and waits for it.
func (s *Server) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.requests <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrStopped
	}
}

// Write replicates cmd and waits until it is applied locally or ctx ends.
// Non-leaders return a *raft.NotLeaderError.
func (s *Server) Write(ctx context.Context, cmd kv.Command) error {
	data, err := cmd.Encode()
	if err != nil {
		return err
	}

	result := make(chan error, 1)
	var proposeErr error
	err = s.do(ctx, func() {
		index, rd, err := s.node.Propose(data)
		if err != nil {
			proposeErr = err
			return
		}
		s.pending[cmd.ID] = result
		s.logger.WithFields(logrus.Fields{"index": index, "cmd": cmd.ID}).Debug("Proposed")
		s.handleReady(rd)
	})
	if err != nil {
		return err
	}
	if proposeErr != nil {
		return proposeErr
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		go s.do(context.Background(), func() { delete(s.pending, cmd.ID) })
		return ctx.Err()
	}
}

func (s *Server) Status(ctx context.Context) (raft.Status, error) {
	var st raft.Status
	err := s.do(ctx, func() { st = s.node.Status() })
	return st, err
}

// Get reads the local replica, which may lag the leader.
func (s *Server) Get(key string) ([]byte, bool) {
	return s.store.Get(key)
}
