package harness

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/matchlog/internal/ingest"
	"github.com/roach88/matchlog/internal/record"
)

// Snapshot is the deterministic view of a run compared against golden files.
type Snapshot struct {
	Scenario string            `json:"scenario"`
	Error    string            `json:"error,omitempty"`
	Summary  ingest.Summary    `json:"summary"`
	Pending  []record.ID       `json:"pending"`
	Absent   map[string]string `json:"absent"`
	Stored   []record.ID       `json:"stored"`
	Calls    map[string]int    `json:"calls"`
}

// NewSnapshot builds the snapshot of a result.
func NewSnapshot(name string, r *Result) Snapshot {
	s := Snapshot{
		Scenario: name,
		Error:    r.RunError,
		Summary:  r.Summary,
		Pending:  r.State.PendingIDs(),
		Absent:   make(map[string]string, len(r.State.Absent)),
		Stored:   r.Stored,
		Calls:    make(map[string]int, len(r.Calls)),
	}
	if s.Pending == nil {
		s.Pending = []record.ID{}
	}
	if s.Stored == nil {
		s.Stored = []record.ID{}
	}
	for id, a := range r.State.Absent {
		s.Absent[id.String()] = string(a.Reason)
	}
	for id, n := range r.Calls {
		s.Calls[strconv.FormatInt(int64(id), 10)] = n
	}
	return s
}

// MarshalCanonical renders the snapshot as canonical JSON.
func (s Snapshot) MarshalCanonical() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return record.Canonicalize(raw)
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).MarshalCanonical()
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
