package raft

import "math/rand"

// timer is the node's logical clock. It owns no real time: the driver calls
// tick at a fixed interval and the timer reports which timeout, if any, has
// elapsed.
type timer struct {
	electionTicks  int
	heartbeatTicks int
	rand           *rand.Rand

	electionElapsed  int
	heartbeatElapsed int

	// randomizedElection is drawn from [electionTicks, 2*electionTicks) on
	// every reset so that followers do not time out together.
	randomizedElection int
}

func newTimer(electionTicks, heartbeatTicks int, r *rand.Rand) *timer {
	t := &timer{
		electionTicks:  electionTicks,
		heartbeatTicks: heartbeatTicks,
		rand:           r,
	}
	t.resetElection()
	t.resetHeartbeat()
	return t
}

func (t *timer) resetElection() {
	t.electionElapsed = 0
	t.randomizedElection = t.electionTicks + t.rand.Intn(t.electionTicks)
}

func (t *timer) resetHeartbeat() {
	t.heartbeatElapsed = 0
}

// tickElection advances the election clock and reports whether it expired.
// The clock is reset when it fires.
func (t *timer) tickElection() bool {
	t.electionElapsed++
	if t.electionElapsed < t.randomizedElection {
		return false
	}
	t.resetElection()
	return true
}

// tickHeartbeat advances the heartbeat clock and reports whether a heartbeat
// is due.
func (t *timer) tickHeartbeat() bool {
	t.heartbeatElapsed++
	if t.heartbeatElapsed < t.heartbeatTicks {
		return false
	}
	t.resetHeartbeat()
	return true
}
