package raft

// role is the tagged variant for the node's current role. Exactly one value is
// active; replacing it drops every field of the previous role.
type role interface {
	state() State
}

type follower struct {
	// leader is the leader recognised in the current term, if any.
	leader ServerID
}

type candidate struct {
	votes map[ServerID]bool
}

type leader struct {
	progress map[ServerID]*progress
}

func (*follower) state() State  { return Follower }
func (*candidate) state() State { return Candidate }
func (*leader) state() State    { return Leader }

// granted counts the votes received, self included.
func (c *candidate) granted() int {
	n := 0
	for _, ok := range c.votes {
		if ok {
			n++
		}
	}
	return n
}
