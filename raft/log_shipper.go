package raft

import (
	"github.com/sirupsen/logrus"
)

func (n *Node) heartbeatTimeout() {
	if _, ok := n.role.(*leader); !ok {
		return
	}
	n.timer.resetHeartbeat()
	n.broadcastAppend()
}

// broadcastAppend sends every peer the entries it is missing, which is an
// empty heartbeat for peers that are caught up.
func (n *Node) broadcastAppend() {
	for _, p := range n.peers {
		n.sendAppend(p)
	}
}

func (n *Node) sendAppend(to ServerID) {
	l, ok := n.role.(*leader)
	if !ok {
		return
	}
	pr := l.progress[to]

	prevIndex := pr.next - 1
	prevTerm, _ := n.log.TermAt(prevIndex)

	hi := n.log.LastIndex()
	if max := Index(n.cfg.MaxEntriesPerMsg); max > 0 && pr.next+max-1 < hi {
		hi = pr.next + max - 1
	}

	n.send(to, AppendEntriesArgs{
		Term:         n.hs.Term,
		LeaderID:     n.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      n.log.Slice(pr.next, hi),
		LeaderCommit: n.log.CommitIndex,
	})
}

func (n *Node) handleAppendEntries(from ServerID, args AppendEntriesArgs) {
	fields := logrus.Fields{"leader": from, "prev_index": args.PrevLogIndex, "prev_term": args.PrevLogTerm, "entries": len(args.Entries)}

	if args.Term < n.hs.Term {
		n.entry().WithFields(fields).WithError(ErrStaleTerm).Debug("Rejecting AppendEntries")
		n.send(from, AppendEntriesResponse{Term: n.hs.Term})
		return
	}

	switch r := n.role.(type) {
	case *candidate:
		n.entry().WithField("leader", from).Info("Leader found, abandoning election")
		n.becomeFollower(args.Term, from)
	case *follower:
		r.leader = from
	}
	n.timer.resetElection()

	if !n.log.MatchesAt(args.PrevLogIndex, args.PrevLogTerm) {
		res := AppendEntriesResponse{Term: n.hs.Term}
		if last := n.log.LastIndex(); args.PrevLogIndex > last {
			res.ConflictIndex = last + 1
		} else {
			res.ConflictTerm, _ = n.log.TermAt(args.PrevLogIndex)
			res.ConflictIndex = n.log.FirstIndexOfTerm(args.PrevLogIndex)
		}
		n.entry().WithFields(fields).WithError(ErrLogMismatch).WithFields(logrus.Fields{
			"conflict_index": res.ConflictIndex,
			"conflict_term":  res.ConflictTerm,
		}).Debug("Rejecting AppendEntries")
		n.send(from, res)
		return
	}

	if len(args.Entries) > 0 {
		written, err := n.log.Append(args.Entries, args.PrevLogIndex+1)
		if err != nil {
			// validate rules this out; answer as a plain rejection if it happens.
			n.entry().WithFields(fields).WithError(err).Error("Append failed")
			n.send(from, AppendEntriesResponse{Term: n.hs.Term})
			return
		}
		n.persist(written)
		if len(written) > 0 {
			n.entry().WithFields(fields).WithField("written", len(written)).Debug("Appended entries")
		}
	}

	lastNew := args.PrevLogIndex + Index(len(args.Entries))
	commit := args.LeaderCommit
	if lastNew < commit {
		commit = lastNew
	}
	n.commitTo(commit)

	n.send(from, AppendEntriesResponse{Term: n.hs.Term, Success: true, MatchIndex: lastNew})
}

func (n *Node) handleAppendEntriesResponse(from ServerID, res AppendEntriesResponse) {
	l, ok := n.role.(*leader)
	if !ok || res.Term != n.hs.Term {
		n.entry().WithFields(logrus.Fields{"from": from, "response_term": res.Term}).Debug("Ignoring AppendEntries response")
		return
	}
	pr := l.progress[from]

	if res.Success {
		pr.ack(res.MatchIndex)
		n.maybeCommit()
		if pr.next <= n.log.LastIndex() {
			n.sendAppend(from)
		}
		return
	}

	hint := res.ConflictIndex
	if res.ConflictTerm != 0 {
		if i := n.log.LastIndexOfTerm(res.ConflictTerm); i != 0 {
			hint = i + 1
		}
	}
	pr.backOff(hint, n.log.LastIndex())

	n.entry().WithFields(logrus.Fields{"peer": from, "next": pr.next, "match": pr.match}).Debug("Peer log mismatch, backing off")
}
