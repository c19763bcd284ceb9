package progress

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/roach88/matchlog/internal/record"
)

// Ledger persists State. Save must be atomic.
type Ledger interface {
	// Load returns the persisted state, or an empty state if none exists.
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
	Close() error
}

// Open selects a ledger implementation from the path's extension:
// ".db", ".sqlite" and ".sqlite3" open a SQLiteLedger, ":memory:" a
// MemoryLedger, and anything else a FileLedger.
func Open(path string) (Ledger, error) {
	if path == ":memory:" {
		return NewMemoryLedger(), nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path)
	}
	return NewFileLedger(path), nil
}

// document is the serialized form shared by the file ledger and tests.
type document struct {
	Version     int            `yaml:"version" json:"version"`
	RunID       string         `yaml:"run_id,omitempty" json:"run_id,omitempty"`
	UpdatedAt   time.Time      `yaml:"updated_at" json:"updated_at"`
	Base        record.ID      `yaml:"base" json:"base"`
	Frontier    record.ID      `yaml:"frontier" json:"frontier"`
	Cursor      record.ID      `yaml:"cursor" json:"cursor"`
	Bound       record.ID      `yaml:"bound,omitempty" json:"bound,omitempty"`
	TargetPatch *record.Patch  `yaml:"target_patch,omitempty" json:"target_patch,omitempty"`
	Pending     []pendingEntry `yaml:"pending" json:"pending"`
	Absent      []absentEntry  `yaml:"absent" json:"absent"`
}

type pendingEntry struct {
	ID        record.ID `yaml:"id" json:"id"`
	Attempts  int       `yaml:"attempts" json:"attempts"`
	Seq       int64     `yaml:"seq" json:"seq"`
	NotBefore time.Time `yaml:"not_before,omitempty" json:"not_before,omitempty"`
	Cause     string    `yaml:"cause,omitempty" json:"cause,omitempty"`
}

type absentEntry struct {
	ID     record.ID `yaml:"id" json:"id"`
	Reason Reason    `yaml:"reason" json:"reason"`
	Cause  string    `yaml:"cause,omitempty" json:"cause,omitempty"`
}

const documentVersion = 1

func toDocument(s State) document {
	doc := document{
		Version:     documentVersion,
		RunID:       s.RunID,
		UpdatedAt:   s.UpdatedAt,
		Base:        s.Base,
		Frontier:    s.Frontier,
		Cursor:      s.Cursor,
		Bound:       s.Bound,
		TargetPatch: s.TargetPatch,
		Pending:     make([]pendingEntry, 0, len(s.Pending)),
		Absent:      make([]absentEntry, 0, len(s.Absent)),
	}
	for _, id := range s.PendingIDs() {
		r := s.Pending[id]
		doc.Pending = append(doc.Pending, pendingEntry{
			ID: id, Attempts: r.Attempts, Seq: r.Seq, NotBefore: r.NotBefore, Cause: r.LastCause,
		})
	}
	for _, id := range s.AbsentIDs() {
		a := s.Absent[id]
		doc.Absent = append(doc.Absent, absentEntry{ID: id, Reason: a.Reason, Cause: a.Cause})
	}
	return doc
}

func fromDocument(doc document) State {
	s := NewState()
	s.RunID = doc.RunID
	s.UpdatedAt = doc.UpdatedAt
	s.Base = doc.Base
	s.Frontier = doc.Frontier
	s.Cursor = doc.Cursor
	s.Bound = doc.Bound
	s.TargetPatch = doc.TargetPatch
	for _, p := range doc.Pending {
		s.Pending[p.ID] = Retry{Attempts: p.Attempts, Seq: p.Seq, NotBefore: p.NotBefore, LastCause: p.Cause}
	}
	for _, a := range doc.Absent {
		s.Absent[a.ID] = Absence{Reason: a.Reason, Cause: a.Cause}
	}
	return s
}

// MemoryLedger keeps state in memory. It counts saves for tests.
type MemoryLedger struct {
	mu    sync.Mutex
	state *State
	saves int
	err   error
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// NewMemoryLedgerWith returns a MemoryLedger preloaded with s.
func NewMemoryLedgerWith(s State) *MemoryLedger {
	c := s.Clone()
	return &MemoryLedger{state: &c}
}

func (m *MemoryLedger) Load(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return NewState(), nil
	}
	return m.state.Clone(), nil
}

func (m *MemoryLedger) Save(ctx context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	c := s.Clone()
	m.state = &c
	m.saves++
	return nil
}

func (m *MemoryLedger) Close() error { return nil }

// Saves returns how many times Save succeeded.
func (m *MemoryLedger) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailSaves makes every later Save return err. Pass nil to recover.
func (m *MemoryLedger) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
