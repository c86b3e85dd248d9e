package raft

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// quorumIndex returns the highest index that at least quorum of the given
// match indices have reached.
func quorumIndex(matches []Index, quorum int) Index {
	if quorum <= 0 || quorum > len(matches) {
		return 0
	}
	sorted := append([]Index(nil), matches...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	return sorted[quorum-1]
}

// maybeCommit advances the leader's commit index to the largest index held by
// a majority whose entry was created in the current term. Entries from older
// terms are only committed indirectly, by a later current-term entry.
func (n *Node) maybeCommit() {
	l, ok := n.role.(*leader)
	if !ok {
		return
	}

	matches := make([]Index, 0, len(l.progress)+1)
	matches = append(matches, n.log.LastIndex())
	for _, p := range l.progress {
		matches = append(matches, p.match)
	}

	index := quorumIndex(matches, n.quorum())
	if index <= n.log.CommitIndex {
		return
	}
	if term, _ := n.log.TermAt(index); term != n.hs.Term {
		n.entry().WithFields(logrus.Fields{"index": index, "entry_term": term}).Debug("Majority index is from an earlier term, not committing")
		return
	}

	n.commitTo(index)
}

// commitTo advances the commit index and queues the newly committed entries
// for the application. The commit index never decreases.
func (n *Node) commitTo(index Index) {
	committed := n.log.commit(index)
	if len(committed) == 0 {
		return
	}

	n.ready.Committed = append(n.ready.Committed, committed...)
	n.lastApplied = committed[len(committed)-1].Index

	n.entry().WithFields(logrus.Fields{
		"commit":  n.log.CommitIndex,
		"entries": len(committed),
	}).Debug("Committed entries")
}
