package raft

import "fmt"

// Term is a logical election epoch. It never decreases on a node.
type Term uint64

// Index is a 1-based log position. Index 0 means "no entry".
type Index uint64

// ServerID identifies a cluster member.
type ServerID string

// None is the zero ServerID, used for "no vote" and "no known leader".
const None ServerID = ""

// LogEntry is a single entry in the replicated log.
type LogEntry struct {
	Term  Term
	Index Index
	Data  []byte
}

func (e LogEntry) String() string {
	return fmt.Sprintf("{term=%d index=%d len=%d}", e.Term, e.Index, len(e.Data))
}

// HardState is the part of the node state that must be durable before the
// node answers a vote request or acknowledges appended entries.
type HardState struct {
	Term     Term
	VotedFor ServerID
}

// State names the role a node currently plays.
type State string

const (
	Follower  State = "follower"
	Candidate State = "candidate"
	Leader    State = "leader"
)
