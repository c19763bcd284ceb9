package rawstore

import (
	"context"
	"sync"

	"github.com/roach88/matchlog/internal/record"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	records map[record.ID]record.Record
	writes  map[record.ID]int
	failErr error
	closed  bool
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[record.ID]record.Record),
		writes:  make(map[record.ID]int),
	}
}

func (m *Memory) Exists(ctx context.Context, id record.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.records[id]
	return ok, nil
}

func (m *Memory) Write(ctx context.Context, rec record.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if m.failErr != nil {
		return false, m.failErr
	}
	m.writes[rec.ID]++
	if _, ok := m.records[rec.ID]; ok {
		return false, nil
	}
	m.records[rec.ID] = rec
	return true, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Get returns the stored record for id.
func (m *Memory) Get(id record.ID) (record.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Writes returns how many times Write was called for id.
func (m *Memory) Writes(id record.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[id]
}

// FailWrites makes every later Write return err. Pass nil to recover.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}
