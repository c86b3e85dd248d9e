package raft

import (
	"errors"

	"github.com/sirupsen/logrus"
)

var (
	errAlreadyVoted = errors.New("raft: already voted for another candidate")
	errLogBehind    = errors.New("raft: candidate log is behind")
)

func (n *Node) electionTimeout() {
	switch n.role.(type) {
	case *leader:
		n.entry().Warn("Election timeout while leader, ignoring")
		return
	case *candidate:
		n.entry().WithError(ErrSplitVote).Info("Election ended without majority, retrying")
	}

	n.campaign()
}

// campaign starts an election in the next term.
func (n *Node) campaign() {
	n.hs = HardState{Term: n.hs.Term + 1, VotedFor: n.id}
	c := &candidate{votes: map[ServerID]bool{n.id: true}}
	n.role = c
	n.timer.resetElection()

	n.entry().Info("Starting election")

	if c.granted() >= n.quorum() {
		n.stepUp()
		return
	}

	last, lastTerm := n.log.LastIndexAndTerm()
	for _, p := range n.peers {
		n.send(p, RequestVoteArgs{
			Term:         n.hs.Term,
			CandidateID:  n.id,
			LastLogIndex: last,
			LastLogTerm:  lastTerm,
		})
	}
}

func (n *Node) handleRequestVote(from ServerID, args RequestVoteArgs) {
	granted, reason := n.decideVote(args)

	fields := logrus.Fields{"candidate": args.CandidateID, "candidate_term": args.Term}
	if granted {
		n.hs.VotedFor = args.CandidateID
		n.timer.resetElection()
		n.entry().WithFields(fields).Info("Voting for candidate")
	} else {
		n.entry().WithFields(fields).WithError(reason).Debug("Vote denied")
	}

	n.send(from, RequestVoteResponse{Term: n.hs.Term, VoteGranted: granted})
}

// decideVote is read-only. Term adoption has already happened in receive.
func (n *Node) decideVote(args RequestVoteArgs) (bool, error) {
	if args.Term < n.hs.Term {
		return false, ErrStaleTerm
	}
	if n.hs.VotedFor != None && n.hs.VotedFor != args.CandidateID {
		return false, errAlreadyVoted
	}

	last, lastTerm := n.log.LastIndexAndTerm()
	if !upToDate(args.LastLogIndex, args.LastLogTerm, last, lastTerm) {
		return false, errLogBehind
	}

	return true, nil
}

// upToDate reports whether the log ending at (index, term) is at least as
// up to date as the one ending at (ourIndex, ourTerm).
func upToDate(index Index, term Term, ourIndex Index, ourTerm Term) bool {
	if term != ourTerm {
		return term > ourTerm
	}
	return index >= ourIndex
}

func (n *Node) handleRequestVoteResponse(from ServerID, res RequestVoteResponse) {
	c, ok := n.role.(*candidate)
	if !ok || res.Term != n.hs.Term {
		n.entry().WithFields(logrus.Fields{"from": from, "response_term": res.Term}).Debug("Ignoring vote response")
		return
	}

	c.votes[from] = res.VoteGranted
	if !res.VoteGranted {
		return
	}

	n.entry().WithFields(logrus.Fields{"from": from, "votes": c.granted()}).Debug("Vote received")

	if c.granted() >= n.quorum() {
		n.stepUp()
	}
}

// stepUp becomes leader with fresh progress for every peer and asserts
// authority with an immediate heartbeat.
func (n *Node) stepUp() {
	last := n.log.LastIndex()

	l := &leader{progress: make(map[ServerID]*progress, len(n.peers))}
	for _, p := range n.peers {
		l.progress[p] = &progress{next: last + 1, state: stateSynced}
	}
	n.role = l
	n.timer.resetHeartbeat()

	n.entry().Info("Becoming leader")

	n.maybeCommit()
	n.broadcastAppend()
}
