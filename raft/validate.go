package raft

// validate checks msg against protocol invariants before any state is
// touched, so that a refused message leaves the node exactly as it was.
func (n *Node) validate(from ServerID, msg Message) error {
	switch msg.(type) {
	case RequestVoteArgs, RequestVoteResponse, AppendEntriesArgs, AppendEntriesResponse:
	case nil:
		return malformed(from, "nil message")
	default:
		return malformed(from, "unexpected message type %T", msg)
	}
	if msg.GetTerm() == 0 {
		return malformed(from, "term 0")
	}

	switch m := msg.(type) {
	case RequestVoteArgs:
		if m.CandidateID != from {
			return malformed(from, "candidate id %q differs from sender", m.CandidateID)
		}
		if m.LastLogTerm > m.Term {
			return malformed(from, "last log term %d above message term %d", m.LastLogTerm, m.Term)
		}
		if (m.LastLogIndex == 0) != (m.LastLogTerm == 0) {
			return malformed(from, "last log %d/%d", m.LastLogIndex, m.LastLogTerm)
		}

	case AppendEntriesArgs:
		return n.validateAppendEntries(from, m)

	case AppendEntriesResponse:
		if !m.Success || m.Term != n.hs.Term {
			return nil
		}
		if _, ok := n.role.(*leader); ok && m.MatchIndex > n.log.LastIndex() {
			return malformed(from, "match index %d beyond last index %d", m.MatchIndex, n.log.LastIndex())
		}
	}

	return nil
}

func (n *Node) validateAppendEntries(from ServerID, m AppendEntriesArgs) error {
	if m.LeaderID != from {
		return malformed(from, "leader id %q differs from sender", m.LeaderID)
	}
	if m.PrevLogIndex == 0 && m.PrevLogTerm != 0 {
		return malformed(from, "prev log term %d at index 0", m.PrevLogTerm)
	}
	if m.PrevLogTerm > m.Term {
		return malformed(from, "prev log term %d above message term %d", m.PrevLogTerm, m.Term)
	}

	prevTerm := m.PrevLogTerm
	for i, e := range m.Entries {
		if want := m.PrevLogIndex + 1 + Index(i); e.Index != want {
			return malformed(from, "entry %d has index %d", want, e.Index)
		}
		if e.Term > m.Term {
			return malformed(from, "entry %d has term %d above message term %d", e.Index, e.Term, m.Term)
		}
		if e.Term < prevTerm {
			return malformed(from, "entry %d has term %d below its predecessor", e.Index, e.Term)
		}
		prevTerm = e.Term
	}

	if m.Term < n.hs.Term {
		// Stale; answered with a rejection and nothing else.
		return nil
	}

	if _, ok := n.role.(*leader); ok && m.Term == n.hs.Term {
		return malformed(from, "second leader for term %d", m.Term)
	}

	if !n.log.MatchesAt(m.PrevLogIndex, m.PrevLogTerm) {
		return nil
	}
	for _, e := range m.Entries {
		existing, ok := n.log.Get(e.Index)
		if !ok {
			break
		}
		if existing.Term != e.Term {
			if e.Index <= n.log.CommitIndex {
				return malformed(from, "entry %d conflicts with committed entry", e.Index)
			}
			break
		}
	}

	return nil
}
