/*
Package raft implements the Raft consensus algorithm as a deterministic state
machine: leader election, log replication and commitment.

A Node performs no I/O and starts no goroutines. Time arrives as Tick events,
other members' messages arrive as Receive events, and client commands arrive
through Propose. Every call returns a Ready describing what the caller has to
do next:

	n, err := raft.New(raft.Config{ID: "a", Peers: []raft.ServerID{"b", "c"}})

	for ev := range events {
		rd, err := n.Step(ev)
		if err != nil {
			// the event was refused and the node is unchanged
			continue
		}
		saveToStable(rd.HardState, rd.Entries)
		send(rd.Messages)
		apply(rd.Committed)
	}

HardState and Entries must be durable before Messages are sent: a vote or an
acknowledgement that is sent and then forgotten in a crash breaks election
safety. Committed entries are delivered in ascending index order, each index
exactly once.

Membership changes, snapshots, leadership transfer and pre-vote are not
supported. The cluster is fixed by Config.Peers.
*/
package raft
