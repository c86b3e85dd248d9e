package raft

type peerState string

const (
	stateSynced  peerState = "synced"
	stateSyncing peerState = "syncing"
)

// progress is the leader's view of one follower's log.
type progress struct {
	next  Index
	match Index
	state peerState
}

// PeerProgress is the exported snapshot of a follower's replication progress.
type PeerProgress struct {
	NextIndex  Index  `json:"next_index"`
	MatchIndex Index  `json:"match_index"`
	State      string `json:"state"`
}

// ack records a successful AppendEntries up to match. Stale acknowledgements
// never move match backwards.
func (p *progress) ack(match Index) {
	if match > p.match {
		p.match = match
	}
	p.next = p.match + 1
	p.state = stateSynced
}

// backOff moves next to hint after a rejected AppendEntries. next stays above
// match, because entries up to match are known to be replicated, and at most
// one past the leader's last index.
func (p *progress) backOff(hint, last Index) {
	if hint <= p.match {
		hint = p.match + 1
	}
	if hint > last+1 {
		hint = last + 1
	}
	if hint < 1 {
		hint = 1
	}
	p.next = hint
	p.state = stateSyncing
}

func (p *progress) snapshot() PeerProgress {
	return PeerProgress{NextIndex: p.next, MatchIndex: p.match, State: string(p.state)}
}
