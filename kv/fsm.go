// Package kv is the replicated key/value application fed by committed raft
// entries.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var ErrUnknownOp = errors.New("kv: unknown operation")

// Store is implemented by the client representing the underlying data store
type Store interface {
	Set(key string, val []byte)
	Delete(key string)
	Get(key string) ([]byte, bool)
}

type Operation string

const (
	Set    Operation = "set"
	Delete Operation = "delete"
)

// Command is the payload of a log entry. ID lets the proposer recognise its
// own command once it is committed.
type Command struct {
	ID  uuid.UUID `json:"id"`
	Op  Operation `json:"op"`
	Key string    `json:"key"`
	Val []byte    `json:"val,omitempty"`
}

func NewCommand(op Operation, key string, val []byte) Command {
	return Command{ID: uuid.New(), Op: op, Key: key, Val: val}
}

func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}

func Decode(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return c, nil
}

// Apply executes c against s.
func Apply(s Store, c Command) error {
	switch c.Op {
	case Set:
		s.Set(c.Key, c.Val)
	case Delete:
		s.Delete(c.Key)
	default:
		return fmt.Errorf("%q: %w", c.Op, ErrUnknownOp)
	}
	return nil
}

// MapStore is a Store backed by a map.
type MapStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMapStore() *MapStore {
	return &MapStore{data: make(map[string][]byte)}
}

func (m *MapStore) Set(key string, val []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), val...)
}

func (m *MapStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

func (m *MapStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (m *MapStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
