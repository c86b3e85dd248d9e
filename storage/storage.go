// Package storage keeps a raft node's HardState and log across restarts.
package storage

import (
	"errors"

	"github.com/krantius/raftcore/raft"
)

// ErrCorrupt is returned when stored state cannot be decoded.
var ErrCorrupt = errors.New("storage: corrupt data")

// Storage is the stable store behind the persist-before-send boundary.
type Storage interface {
	// Load returns everything saved so far, or zero values for a fresh store.
	Load() (raft.HardState, []raft.LogEntry, error)

	// Save makes hs (when non-nil) and entries durable. Entries replace any
	// stored entries from entries[0].Index on.
	Save(hs *raft.HardState, entries []raft.LogEntry) error
}

// Apply writes a Ready's persistent part to s.
func Apply(s Storage, rd raft.Ready) error {
	if !rd.MustPersist() {
		return nil
	}
	return s.Save(rd.HardState, rd.Entries)
}

// splice replaces stored from entries[0].Index on.
func splice(stored, entries []raft.LogEntry) ([]raft.LogEntry, error) {
	if len(entries) == 0 {
		return stored, nil
	}
	first := entries[0].Index
	if first == 0 || int(first) > len(stored)+1 {
		return nil, raft.ErrLogIndexGap
	}
	for i, e := range entries {
		if e.Index != first+raft.Index(i) {
			return nil, raft.ErrLogIndexGap
		}
	}
	return append(stored[:first-1:first-1], entries...), nil
}
