package storage

import (
	"sync"

	"github.com/krantius/raftcore/raft"
)

// MemoryStorage keeps state in memory. It survives a node restart within one
// process, which is enough for tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	hs      raft.HardState
	entries []raft.LogEntry
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load() (raft.HardState, []raft.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.hs, clone(m.entries), nil
}

func (m *MemoryStorage) Save(hs *raft.HardState, entries []raft.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := splice(m.entries, clone(entries))
	if err != nil {
		return err
	}
	m.entries = next
	if hs != nil {
		m.hs = *hs
	}
	return nil
}

func clone(entries []raft.LogEntry) []raft.LogEntry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]raft.LogEntry, len(entries))
	for i, e := range entries {
		out[i] = raft.LogEntry{Term: e.Term, Index: e.Index, Data: append([]byte(nil), e.Data...)}
	}
	return out
}
