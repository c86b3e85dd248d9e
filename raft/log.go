package raft

import "fmt"

// Log is the in-memory replicated log. Indices are contiguous starting at 1;
// logs[i] holds the entry with Index i+1.
//
// The commit watermark lives with the log so that an append can never remove
// a committed entry.
type Log struct {
	logs        []LogEntry
	CommitIndex Index
}

// NewLog returns a log holding entries, which must be contiguous from 1.
func NewLog(entries []LogEntry) (*Log, error) {
	for i, e := range entries {
		if e.Index != Index(i+1) {
			return nil, fmt.Errorf("entry %d has index %d: %w", i+1, e.Index, ErrLogIndexGap)
		}
		if i > 0 && e.Term < entries[i-1].Term {
			return nil, fmt.Errorf("entry %d has term %d below its predecessor: %w", e.Index, e.Term, ErrLogIndexGap)
		}
	}
	return &Log{logs: cloneEntries(entries)}, nil
}

// Get returns the entry at index, or false when absent.
func (l *Log) Get(index Index) (LogEntry, bool) {
	if index == 0 || index > l.LastIndex() {
		return LogEntry{}, false
	}
	return l.logs[index-1], true
}

// TermAt returns the term at index. Index 0 has term 0; absent entries report
// false.
func (l *Log) TermAt(index Index) (Term, bool) {
	if index == 0 {
		return 0, true
	}
	e, ok := l.Get(index)
	return e.Term, ok
}

func (l *Log) LastIndex() Index {
	return Index(len(l.logs))
}

// LastIndexAndTerm returns (0, 0) for an empty log.
func (l *Log) LastIndexAndTerm() (Index, Term) {
	if len(l.logs) == 0 {
		return 0, 0
	}
	last := l.logs[len(l.logs)-1]
	return last.Index, last.Term
}

// MatchesAt reports whether the log holds an entry at index with term.
// Index 0 matches term 0 only.
func (l *Log) MatchesAt(index Index, term Term) bool {
	t, ok := l.TermAt(index)
	return ok && t == term
}

// Slice returns copies of the entries in [lo, hi]. Out of range bounds are
// clamped to the log.
func (l *Log) Slice(lo, hi Index) []LogEntry {
	if lo == 0 {
		lo = 1
	}
	if hi > l.LastIndex() {
		hi = l.LastIndex()
	}
	if lo > hi {
		return nil
	}
	return cloneEntries(l.logs[lo-1 : hi])
}

// FirstIndexOfTerm walks back from index to the first entry that carries the
// same term.
func (l *Log) FirstIndexOfTerm(index Index) Index {
	term, ok := l.TermAt(index)
	if !ok || index == 0 {
		return 0
	}
	for index > 1 && l.logs[index-2].Term == term {
		index--
	}
	return index
}

// LastIndexOfTerm returns the highest index holding term, or 0.
func (l *Log) LastIndexOfTerm(term Term) Index {
	for i := len(l.logs) - 1; i >= 0; i-- {
		switch {
		case l.logs[i].Term == term:
			return l.logs[i].Index
		case l.logs[i].Term < term:
			return 0
		}
	}
	return 0
}

// Append writes entries positionally starting at at, which must be at most
// LastIndex()+1. Entries already present with the same term are kept; the
// first entry whose term differs truncates the log from that index before the
// remaining entries are appended.
//
// It returns the entries that were actually written, which is what must be
// persisted. Truncating at or below CommitIndex is refused and leaves the log
// untouched.
func (l *Log) Append(entries []LogEntry, at Index) ([]LogEntry, error) {
	if at == 0 || at > l.LastIndex()+1 {
		return nil, fmt.Errorf("append at %d with last index %d: %w", at, l.LastIndex(), ErrLogIndexGap)
	}
	for i, e := range entries {
		if e.Index != at+Index(i) {
			return nil, fmt.Errorf("entry %d has index %d: %w", at+Index(i), e.Index, ErrLogIndexGap)
		}
	}

	for i, e := range entries {
		existing, ok := l.Get(e.Index)
		if !ok {
			written := cloneEntries(entries[i:])
			l.logs = append(l.logs, written...)
			return written, nil
		}
		if existing.Term == e.Term {
			continue
		}
		if e.Index <= l.CommitIndex {
			return nil, fmt.Errorf("conflict at %d (term %d vs %d) with commit %d: %w", e.Index, existing.Term, e.Term, l.CommitIndex, ErrCommittedTruncation)
		}
		written := cloneEntries(entries[i:])
		l.logs = append(l.logs[:e.Index-1:e.Index-1], written...)
		return written, nil
	}

	return nil, nil
}

// commit advances CommitIndex to index and returns the newly committed
// entries in order. It never moves the watermark backwards.
func (l *Log) commit(index Index) []LogEntry {
	if index > l.LastIndex() {
		index = l.LastIndex()
	}
	if l.CommitIndex >= index {
		return nil
	}

	committed := l.Slice(l.CommitIndex+1, index)
	l.CommitIndex = index

	return committed
}
