package raft

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
)

// cluster is an in-memory, single-threaded network of nodes. Messages are
// queued in FIFO order and delivered one at a time; drop decides which ones
// are lost. Every Ready is checked against the safety properties as it is
// produced.
type cluster struct {
	t     *testing.T
	ids   []ServerID
	nodes map[ServerID]*Node
	queue []Envelope
	drop  func(Envelope) bool

	// what each node has made durable and handed to its application
	persisted map[ServerID][]LogEntry
	hardState map[ServerID]HardState
	applied   map[ServerID][]LogEntry
	commit    map[ServerID]Index

	leaders   map[Term]ServerID
	committed []LogEntry
}

func newCluster(t *testing.T, size int, seed int64) *cluster {
	t.Helper()

	ids := make([]ServerID, size)
	for i := range ids {
		ids[i] = ServerID(fmt.Sprintf("n%d", i+1))
	}

	c := &cluster{
		t:         t,
		ids:       ids,
		nodes:     make(map[ServerID]*Node, size),
		drop:      func(Envelope) bool { return false },
		persisted: make(map[ServerID][]LogEntry),
		hardState: make(map[ServerID]HardState),
		applied:   make(map[ServerID][]LogEntry),
		commit:    make(map[ServerID]Index),
		leaders:   make(map[Term]ServerID),
	}

	for i, id := range ids {
		peers := make([]ServerID, 0, size-1)
		for _, p := range ids {
			if p != id {
				peers = append(peers, p)
			}
		}
		n, err := New(Config{
			ID:             id,
			Peers:          peers,
			ElectionTicks:  10,
			HeartbeatTicks: 2,
			Rand:           rand.New(rand.NewSource(seed + int64(i)*7919)),
		})
		if err != nil {
			t.Fatal(err)
		}
		c.nodes[id] = n
	}

	return c
}

func (c *cluster) step(id ServerID, ev Event) {
	c.t.Helper()
	rd, err := c.nodes[id].Step(ev)
	if err != nil {
		c.t.Fatalf("%s: step %T: %v", id, ev, err)
	}
	c.handleReady(id, rd)
}

func (c *cluster) propose(id ServerID, data string) (Index, error) {
	c.t.Helper()
	index, rd, err := c.nodes[id].Propose([]byte(data))
	if err != nil {
		return 0, err
	}
	c.handleReady(id, rd)
	return index, nil
}

func (c *cluster) handleReady(id ServerID, rd Ready) {
	c.t.Helper()
	n := c.nodes[id]

	if rd.HardState != nil {
		prev := c.hardState[id]
		if rd.HardState.Term < prev.Term {
			c.t.Fatalf("%s: term went backwards %d -> %d", id, prev.Term, rd.HardState.Term)
		}
		if rd.HardState.Term == prev.Term && prev.VotedFor != None && rd.HardState.VotedFor != prev.VotedFor {
			c.t.Fatalf("%s: voted twice in term %d (%s then %s)", id, prev.Term, prev.VotedFor, rd.HardState.VotedFor)
		}
		c.hardState[id] = *rd.HardState
	}

	if len(rd.Entries) > 0 {
		first := rd.Entries[0].Index
		stored := c.persisted[id]
		if first > Index(len(stored))+1 {
			c.t.Fatalf("%s: persisted entries leave a gap at %d", id, first)
		}
		if first <= c.commit[id] {
			c.t.Fatalf("%s: overwrote committed index %d", id, first)
		}
		if n.State() == Leader && first <= Index(len(stored)) {
			c.t.Fatalf("%s: leader overwrote its own entry %d", id, first)
		}
		c.persisted[id] = append(stored[:first-1:first-1], rd.Entries...)
	}

	for _, e := range rd.Committed {
		applied := c.applied[id]
		if want := Index(len(applied)) + 1; e.Index != want {
			c.t.Fatalf("%s: delivered index %d, expected %d", id, e.Index, want)
		}
		c.applied[id] = append(applied, e)

		if int(e.Index) <= len(c.committed) {
			if !reflect.DeepEqual(c.committed[e.Index-1], e) {
				c.t.Fatalf("%s: committed %v at %d but cluster committed %v", id, e, e.Index, c.committed[e.Index-1])
			}
		} else {
			c.committed = append(c.committed, e)
		}
	}

	if ci := n.CommitIndex(); ci < c.commit[id] {
		c.t.Fatalf("%s: commit index decreased %d -> %d", id, c.commit[id], ci)
	} else {
		c.commit[id] = ci
	}

	if n.State() == Leader {
		if other, ok := c.leaders[n.Term()]; ok && other != id {
			c.t.Fatalf("two leaders in term %d: %s and %s", n.Term(), other, id)
		}
		if _, ok := c.leaders[n.Term()]; !ok {
			c.leaders[n.Term()] = id
			c.checkLeaderCompleteness(id)
		}
	}

	for _, m := range rd.Messages {
		if m.From != id {
			c.t.Fatalf("%s: message with sender %s", id, m.From)
		}
		c.queue = append(c.queue, m)
	}
}

// checkLeaderCompleteness verifies a freshly elected leader holds every entry
// committed so far.
func (c *cluster) checkLeaderCompleteness(id ServerID) {
	c.t.Helper()
	n := c.nodes[id]
	for _, e := range c.committed {
		got, ok := n.log.Get(e.Index)
		if !ok || got.Term != e.Term || string(got.Data) != string(e.Data) {
			c.t.Fatalf("leader %s (term %d) is missing committed entry %v", id, n.Term(), e)
		}
	}
}

// deliver processes up to limit queued messages, including those produced
// while delivering. limit <= 0 means until the queue is empty.
func (c *cluster) deliver(limit int) {
	c.t.Helper()
	for i := 0; len(c.queue) > 0 && (limit <= 0 || i < limit); i++ {
		m := c.queue[0]
		c.queue = c.queue[1:]
		if c.drop(m) {
			continue
		}
		c.step(m.To, Receive{From: m.From, Msg: m.Msg})
	}
}

func (c *cluster) tickAll() {
	c.t.Helper()
	for _, id := range c.ids {
		c.step(id, Tick{})
	}
}

func (c *cluster) leader() (ServerID, bool) {
	var found ServerID
	var term Term
	for _, id := range c.ids {
		n := c.nodes[id]
		if n.State() == Leader && n.Term() >= term {
			found, term = id, n.Term()
		}
	}
	return found, found != None
}

// runUntilLeader ticks and delivers until some node leads a term no other node
// has moved past.
func (c *cluster) runUntilLeader(maxTicks int) ServerID {
	c.t.Helper()
	for i := 0; i < maxTicks; i++ {
		c.tickAll()
		c.deliver(0)
		if id, ok := c.leader(); ok && c.stableLeader(id) {
			return id
		}
	}
	c.t.Fatalf("no leader after %d ticks", maxTicks)
	return None
}

func (c *cluster) stableLeader(id ServerID) bool {
	term := c.nodes[id].Term()
	for _, n := range c.nodes {
		if n.Term() > term {
			return false
		}
	}
	return true
}

// checkLogMatching verifies that logs agreeing on (index, term) agree on every
// earlier entry, and that each node's persisted log equals its in-memory log.
func (c *cluster) checkLogMatching() {
	c.t.Helper()
	for _, id := range c.ids {
		n := c.nodes[id]
		mem := n.Entries(1, n.log.LastIndex())
		if len(mem) == 0 {
			mem = nil
		}
		stored := c.persisted[id]
		if len(stored) == 0 {
			stored = nil
		}
		if !reflect.DeepEqual(mem, stored) {
			c.t.Fatalf("%s: persisted log %v differs from memory %v", id, stored, mem)
		}
	}

	for i, a := range c.ids {
		for _, b := range c.ids[i+1:] {
			la, lb := c.nodes[a].log, c.nodes[b].log
			last := la.LastIndex()
			if lb.LastIndex() < last {
				last = lb.LastIndex()
			}
			for idx := last; idx >= 1; idx-- {
				ea, _ := la.Get(idx)
				eb, _ := lb.Get(idx)
				if ea.Term != eb.Term {
					continue
				}
				for j := Index(1); j <= idx; j++ {
					x, _ := la.Get(j)
					y, _ := lb.Get(j)
					if !reflect.DeepEqual(x, y) {
						c.t.Fatalf("log matching violated between %s and %s at %d (agreeing at %d)", a, b, j, idx)
					}
				}
				break
			}
		}
	}
}
