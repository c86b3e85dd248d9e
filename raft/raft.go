package raft

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultElectionTicks    = 10
	DefaultHeartbeatTicks   = 1
	DefaultMaxEntriesPerMsg = 64
)

// Config contains the settings needed to start a raft node
type Config struct {
	ID ServerID

	// Peers lists the other members of the cluster, without ID.
	Peers []ServerID

	// ElectionTicks is the base election timeout in ticks. The effective
	// timeout is randomized in [ElectionTicks, 2*ElectionTicks).
	ElectionTicks int

	// HeartbeatTicks is the number of ticks between leader heartbeats. It
	// must be below ElectionTicks.
	HeartbeatTicks int

	// MaxEntriesPerMsg caps the entries carried by one AppendEntries.
	MaxEntriesPerMsg int

	// Rand drives the election jitter. Tests pass a seeded source.
	Rand *rand.Rand

	Logger logrus.FieldLogger

	// HardState and Entries restore a node from storage.
	HardState HardState
	Entries   []LogEntry
}

func (c *Config) setDefaults() {
	if c.ElectionTicks == 0 {
		c.ElectionTicks = DefaultElectionTicks
	}
	if c.HeartbeatTicks == 0 {
		c.HeartbeatTicks = DefaultHeartbeatTicks
	}
	if c.MaxEntriesPerMsg == 0 {
		c.MaxEntriesPerMsg = DefaultMaxEntriesPerMsg
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if c.Logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		c.Logger = l
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ID == None {
		return fmt.Errorf("empty node id: %w", ErrInvalidConfig)
	}

	seen := map[ServerID]bool{c.ID: true}
	for _, p := range c.Peers {
		if p == None {
			return fmt.Errorf("empty peer id: %w", ErrInvalidConfig)
		}
		if seen[p] {
			return fmt.Errorf("duplicate member %q: %w", p, ErrInvalidConfig)
		}
		seen[p] = true
	}

	if c.ElectionTicks <= 0 || c.HeartbeatTicks <= 0 {
		return fmt.Errorf("ticks must be positive: %w", ErrInvalidConfig)
	}
	if c.HeartbeatTicks >= c.ElectionTicks {
		return fmt.Errorf("heartbeat ticks %d not below election ticks %d: %w", c.HeartbeatTicks, c.ElectionTicks, ErrInvalidConfig)
	}
	if c.MaxEntriesPerMsg < 0 {
		return fmt.Errorf("negative max entries per message: %w", ErrInvalidConfig)
	}
	if v := c.HardState.VotedFor; v != None && !seen[v] {
		return fmt.Errorf("vote for non-member %q: %w", v, ErrInvalidConfig)
	}

	return nil
}

// Event is an input to Step.
type Event interface {
	isEvent()
}

// Tick advances the logical clock by one tick.
type Tick struct{}

// ElectionTimeout forces the election timeout to fire.
type ElectionTimeout struct{}

// HeartbeatTimeout forces a leader heartbeat.
type HeartbeatTimeout struct{}

// Receive delivers a message from another member.
type Receive struct {
	From ServerID
	Msg  Message
}

func (Tick) isEvent()             {}
func (ElectionTimeout) isEvent()  {}
func (HeartbeatTimeout) isEvent() {}
func (Receive) isEvent()          {}

// Ready is the output of one event. The driver must make HardState and
// Entries durable before sending Messages, and then hand Committed to the
// application in order.
type Ready struct {
	// HardState is set when the term or vote changed.
	HardState *HardState

	// Entries must be written starting at Entries[0].Index, replacing any
	// stored entries from that index on.
	Entries []LogEntry

	Messages []Envelope

	// Committed holds newly committed entries in ascending index order. Each
	// index is delivered exactly once over the node's lifetime.
	Committed []LogEntry
}

// MustPersist reports whether the Ready carries state for stable storage.
func (rd Ready) MustPersist() bool {
	return rd.HardState != nil || len(rd.Entries) > 0
}

func (rd Ready) IsEmpty() bool {
	return !rd.MustPersist() && len(rd.Messages) == 0 && len(rd.Committed) == 0
}

// Node is a raft node in a cluster. It performs no I/O and owns no goroutines:
// every input arrives through Step or Propose and every output leaves in the
// returned Ready. A Node is not safe for concurrent use.
type Node struct {
	id    ServerID
	peers []ServerID
	cfg   Config

	hs   HardState
	role role
	log  *Log

	lastApplied Index

	timer  *timer
	logger logrus.FieldLogger

	ready Ready
}

// New creates a follower from cfg, restoring HardState and Entries if given.
func New(cfg Config) (*Node, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l, err := NewLog(cfg.Entries)
	if err != nil {
		return nil, err
	}

	n := &Node{
		id:     cfg.ID,
		peers:  append([]ServerID(nil), cfg.Peers...),
		cfg:    cfg,
		hs:     cfg.HardState,
		role:   &follower{},
		log:    l,
		timer:  newTimer(cfg.ElectionTicks, cfg.HeartbeatTicks, cfg.Rand),
		logger: cfg.Logger.WithField("id", cfg.ID),
	}

	last, lastTerm := l.LastIndexAndTerm()
	n.logger.WithFields(logrus.Fields{
		"term":          n.hs.Term,
		"last_index":    last,
		"last_term":     lastTerm,
		"election_tick": n.timer.randomizedElection,
	}).Info("Raft node created")

	return n, nil
}

// Step processes one event to completion. It returns an error only when the
// event was refused as a whole, in which case the node state is unchanged.
func (n *Node) Step(ev Event) (Ready, error) {
	prev := n.hs
	n.ready = Ready{}

	var err error
	switch e := ev.(type) {
	case Tick:
		n.tick()
	case ElectionTimeout:
		n.electionTimeout()
	case HeartbeatTimeout:
		n.heartbeatTimeout()
	case Receive:
		err = n.receive(e.From, e.Msg)
	default:
		err = fmt.Errorf("unknown event %T: %w", ev, ErrMalformedMessage)
	}

	return n.takeReady(prev), err
}

// Tick is shorthand for Step(Tick{}).
func (n *Node) Tick() Ready {
	rd, _ := n.Step(Tick{})
	return rd
}

// Handle is shorthand for Step(Receive{From: from, Msg: msg}).
func (n *Node) Handle(from ServerID, msg Message) (Ready, error) {
	return n.Step(Receive{From: from, Msg: msg})
}

// Propose appends a command to the leader's log and starts replicating it.
// The returned index is assigned but not yet committed. Non-leaders return a
// *NotLeaderError.
func (n *Node) Propose(data []byte) (Index, Ready, error) {
	prev := n.hs
	n.ready = Ready{}

	if _, ok := n.role.(*leader); !ok {
		return 0, Ready{}, &NotLeaderError{Leader: n.Leader()}
	}

	index := n.log.LastIndex() + 1
	entry := LogEntry{Term: n.hs.Term, Index: index, Data: append([]byte(nil), data...)}
	written, err := n.log.Append([]LogEntry{entry}, index)
	if err != nil {
		return 0, Ready{}, err
	}
	n.persist(written)

	n.entry().WithField("index", index).Debug("Appended proposal")

	n.maybeCommit()
	n.broadcastAppend()

	return index, n.takeReady(prev), nil
}

func (n *Node) tick() {
	switch n.role.(type) {
	case *leader:
		if n.timer.tickHeartbeat() {
			n.heartbeatTimeout()
		}
	default:
		if n.timer.tickElection() {
			n.electionTimeout()
		}
	}
}

func (n *Node) receive(from ServerID, msg Message) error {
	if !n.isPeer(from) {
		return fmt.Errorf("message from %q: %w", from, ErrUnknownPeer)
	}
	if err := n.validate(from, msg); err != nil {
		return err
	}

	if msg.GetTerm() > n.hs.Term {
		lead := None
		if _, ok := msg.(AppendEntriesArgs); ok {
			lead = from
		}
		n.entry().WithFields(logrus.Fields{"from": from, "new_term": msg.GetTerm()}).Info("Observed higher term")
		n.becomeFollower(msg.GetTerm(), lead)
	}

	switch m := msg.(type) {
	case RequestVoteArgs:
		n.handleRequestVote(from, m)
	case RequestVoteResponse:
		n.handleRequestVoteResponse(from, m)
	case AppendEntriesArgs:
		n.handleAppendEntries(from, m)
	case AppendEntriesResponse:
		n.handleAppendEntriesResponse(from, m)
	}

	return nil
}

// becomeFollower moves to the follower role. A higher term clears the vote.
func (n *Node) becomeFollower(term Term, lead ServerID) {
	_, wasLeader := n.role.(*leader)

	if term > n.hs.Term {
		n.hs = HardState{Term: term}
	}
	n.role = &follower{leader: lead}

	if wasLeader {
		n.timer.resetElection()
		n.entry().Info("Stepped down")
	}
}

func (n *Node) send(to ServerID, msg Message) {
	n.ready.Messages = append(n.ready.Messages, Envelope{From: n.id, To: to, Msg: msg})
}

// persist records entries written to the log in this step. Later writes
// replace earlier ones from the same index on.
func (n *Node) persist(written []LogEntry) {
	if len(written) == 0 {
		return
	}
	first := written[0].Index
	pending := n.ready.Entries
	for len(pending) > 0 && pending[len(pending)-1].Index >= first {
		pending = pending[:len(pending)-1]
	}
	n.ready.Entries = append(pending, written...)
}

func (n *Node) takeReady(prev HardState) Ready {
	rd := n.ready
	n.ready = Ready{}
	if n.hs != prev {
		hs := n.hs
		rd.HardState = &hs
	}
	return rd
}

func (n *Node) isPeer(id ServerID) bool {
	for _, p := range n.peers {
		if p == id {
			return true
		}
	}
	return false
}

// quorum is the number of members, self included, that form a majority.
func (n *Node) quorum() int {
	return (len(n.peers)+1)/2 + 1
}

func (n *Node) entry() *logrus.Entry {
	return n.logger.WithFields(logrus.Fields{
		"term":  n.hs.Term,
		"state": n.role.state(),
	})
}

// ID returns the node's own id.
func (n *Node) ID() ServerID {
	return n.id
}

func (n *Node) State() State {
	return n.role.state()
}

func (n *Node) Term() Term {
	return n.hs.Term
}

func (n *Node) CommitIndex() Index {
	return n.log.CommitIndex
}

// Leader returns the leader known in the current term, or None.
func (n *Node) Leader() ServerID {
	switch r := n.role.(type) {
	case *leader:
		return n.id
	case *follower:
		return r.leader
	default:
		return None
	}
}

// Entries returns a copy of the log in [lo, hi].
func (n *Node) Entries(lo, hi Index) []LogEntry {
	return n.log.Slice(lo, hi)
}

// Status is a point-in-time view of a node.
type Status struct {
	ID          ServerID                  `json:"id"`
	State       State                     `json:"state"`
	Term        Term                      `json:"term"`
	VotedFor    ServerID                  `json:"voted_for,omitempty"`
	Leader      ServerID                  `json:"leader,omitempty"`
	CommitIndex Index                     `json:"commit_index"`
	LastApplied Index                     `json:"last_applied"`
	LastIndex   Index                     `json:"last_index"`
	LastTerm    Term                      `json:"last_term"`
	Progress    map[ServerID]PeerProgress `json:"progress,omitempty"`
}

func (n *Node) Status() Status {
	last, lastTerm := n.log.LastIndexAndTerm()
	s := Status{
		ID:          n.id,
		State:       n.role.state(),
		Term:        n.hs.Term,
		VotedFor:    n.hs.VotedFor,
		Leader:      n.Leader(),
		CommitIndex: n.log.CommitIndex,
		LastApplied: n.lastApplied,
		LastIndex:   last,
		LastTerm:    lastTerm,
	}
	if l, ok := n.role.(*leader); ok {
		s.Progress = make(map[ServerID]PeerProgress, len(l.progress))
		for id, p := range l.progress {
			s.Progress[id] = p.snapshot()
		}
	}
	return s
}
