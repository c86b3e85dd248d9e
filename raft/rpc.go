package raft

import "fmt"

// Message is one of the four RPC values exchanged between nodes:
// RequestVoteArgs, RequestVoteResponse, AppendEntriesArgs and
// AppendEntriesResponse. Messages are plain values and are never shared by
// reference between nodes.
type Message interface {
	GetTerm() Term
	isMessage()
}

type RequestVoteArgs struct {
	Term         Term
	CandidateID  ServerID
	LastLogIndex Index
	LastLogTerm  Term
}

type RequestVoteResponse struct {
	Term        Term
	VoteGranted bool
}

type AppendEntriesArgs struct {
	Term         Term
	LeaderID     ServerID
	PrevLogIndex Index
	PrevLogTerm  Term
	Entries      []LogEntry
	LeaderCommit Index
}

// AppendEntriesResponse acknowledges an AppendEntriesArgs.
//
// On success MatchIndex is the last index known to match the leader's log.
// On a log mismatch ConflictTerm is the term of the follower's entry at
// prevLogIndex and ConflictIndex is the first index holding that term; when the
// follower's log is too short ConflictTerm is 0 and ConflictIndex is one past
// its last entry.
type AppendEntriesResponse struct {
	Term          Term
	Success       bool
	MatchIndex    Index
	ConflictTerm  Term
	ConflictIndex Index
}

func (m RequestVoteArgs) GetTerm() Term       { return m.Term }
func (m RequestVoteResponse) GetTerm() Term   { return m.Term }
func (m AppendEntriesArgs) GetTerm() Term     { return m.Term }
func (m AppendEntriesResponse) GetTerm() Term { return m.Term }

func (RequestVoteArgs) isMessage()       {}
func (RequestVoteResponse) isMessage()   {}
func (AppendEntriesArgs) isMessage()     {}
func (AppendEntriesResponse) isMessage() {}

// Envelope addresses a message.
type Envelope struct {
	From ServerID
	To   ServerID
	Msg  Message
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s->%s %s", e.From, e.To, describe(e.Msg))
}

func describe(m Message) string {
	switch m := m.(type) {
	case RequestVoteArgs:
		return fmt.Sprintf("RequestVote{term=%d candidate=%s last=%d/%d}", m.Term, m.CandidateID, m.LastLogIndex, m.LastLogTerm)
	case RequestVoteResponse:
		return fmt.Sprintf("RequestVoteResponse{term=%d granted=%t}", m.Term, m.VoteGranted)
	case AppendEntriesArgs:
		return fmt.Sprintf("AppendEntries{term=%d leader=%s prev=%d/%d entries=%d commit=%d}", m.Term, m.LeaderID, m.PrevLogIndex, m.PrevLogTerm, len(m.Entries), m.LeaderCommit)
	case AppendEntriesResponse:
		return fmt.Sprintf("AppendEntriesResponse{term=%d success=%t match=%d conflict=%d/%d}", m.Term, m.Success, m.MatchIndex, m.ConflictIndex, m.ConflictTerm)
	default:
		return fmt.Sprintf("%T", m)
	}
}

// cloneEntries copies entries so that a message never aliases the sender's log.
func cloneEntries(entries []LogEntry) []LogEntry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]LogEntry, len(entries))
	for i, e := range entries {
		out[i] = LogEntry{Term: e.Term, Index: e.Index, Data: append([]byte(nil), e.Data...)}
	}
	return out
}
