package raft

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleTerm is the rejection reason for a message whose term is below
	// the receiver's current term.
	ErrStaleTerm = errors.New("raft: stale term")

	// ErrLogMismatch is the rejection reason for an AppendEntries whose
	// prevLogIndex/prevLogTerm is not present in the receiver's log.
	ErrLogMismatch = errors.New("raft: log mismatch")

	// ErrNotLeader is returned when a command is proposed to a node that is not
	// the leader.
	ErrNotLeader = errors.New("raft: not the leader")

	// ErrSplitVote is logged when an election times out without a majority.
	ErrSplitVote = errors.New("raft: split vote")

	// ErrMalformedMessage is returned when a message violates protocol
	// invariants. The node state is left untouched.
	ErrMalformedMessage = errors.New("raft: malformed message")

	// ErrUnknownPeer is returned for messages from servers outside the cluster.
	ErrUnknownPeer = errors.New("raft: unknown peer")

	// ErrCommittedTruncation is returned when an append would remove a
	// committed entry.
	ErrCommittedTruncation = errors.New("raft: truncation of committed entry")

	// ErrLogIndexGap is returned when entries are not contiguous.
	ErrLogIndexGap = errors.New("raft: log entries not contiguous")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("raft: invalid configuration")
)

// NotLeaderError carries the last known leader so callers can redirect.
type NotLeaderError struct {
	Leader ServerID
}

func (e *NotLeaderError) Error() string {
	if e.Leader == None {
		return ErrNotLeader.Error() + " (leader unknown)"
	}
	return fmt.Sprintf("%s (leader is %s)", ErrNotLeader, e.Leader)
}

func (e *NotLeaderError) Is(target error) bool {
	return target == ErrNotLeader
}

// MalformedError describes why a message was refused.
type MalformedError struct {
	From   ServerID
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s from %s: %s", ErrMalformedMessage, e.From, e.Reason)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedMessage
}

func malformed(from ServerID, format string, args ...interface{}) error {
	return &MalformedError{From: from, Reason: fmt.Sprintf(format, args...)}
}
