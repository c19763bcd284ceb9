package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/matchlog/internal/progress"
	"github.com/roach88/matchlog/internal/record"
)

// Scenario is a scripted ingestion run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	Options Options `yaml:"options"`

	// Ledger seeds the progress ledger. Nil starts fresh.
	Ledger *LedgerSeed `yaml:"ledger,omitempty"`

	// Stored lists IDs already in the raw store before the run.
	Stored []int64 `yaml:"stored,omitempty"`

	// Default answers unscripted IDs. Nil means found.
	Default *ReplySpec `yaml:"default,omitempty"`

	// Replies scripts the remote per ID.
	Replies map[int64][]ReplySpec `yaml:"replies,omitempty"`

	Assertions []Assertion `yaml:"assertions"`

	// RunID fixes the run ID. Defaults to "scenario-run".
	RunID string `yaml:"run_id,omitempty"`
}

// Options are the controller settings a scenario can vary.
type Options struct {
	Start         int64  `yaml:"start"`
	End           int64  `yaml:"end"`
	Workers       int    `yaml:"workers"`
	MaxAttempts   int    `yaml:"max_attempts"`
	FailurePolicy string `yaml:"failure_policy"`
	PatchFence    bool   `yaml:"patch_fence"`
	ForceStart    bool   `yaml:"force_start"`

	// Rate paces remote calls. Nil leaves the governor effectively open.
	Rate *RateOptions `yaml:"rate,omitempty"`

	// Timeout bounds the run. Defaults to 10s.
	Timeout string `yaml:"timeout"`
}

// RateOptions configures the rate governor of a scenario.
type RateOptions struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

// LedgerSeed is a starting ledger.
type LedgerSeed struct {
	Base     int64            `yaml:"base"`
	Frontier int64            `yaml:"frontier"`
	Cursor   int64            `yaml:"cursor"`
	Pending  []int64          `yaml:"pending"`
	Absent   map[int64]string `yaml:"absent"`
}

// ReplySpec is one scripted remote reply.
type ReplySpec struct {
	Kind string `yaml:"kind"`

	// Patch is the game patch of a found record, "MAJOR.MINOR". Defaults to 1.0.
	Patch string `yaml:"patch,omitempty"`

	// RetryAfter is sent with throttled replies.
	RetryAfter string `yaml:"retry_after,omitempty"`
}

// Reply kinds.
const (
	ReplyFound       = "found"
	ReplyMissing     = "missing"
	ReplyThrottled   = "throttled"
	ReplyUnavailable = "unavailable"
	ReplyForbidden   = "forbidden"
	ReplyGarbled     = "garbled"
	ReplyReset       = "reset"
)

// Assertion checks the outcome of a run.
type Assertion struct {
	Type   string  `yaml:"type"`
	ID     int64   `yaml:"id,omitempty"`
	IDs    []int64 `yaml:"ids,omitempty"`
	Count  int     `yaml:"count,omitempty"`
	Reason string  `yaml:"reason,omitempty"`
	Value  string  `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertFrontier  = "frontier"
	AssertStored    = "stored"
	AssertAbsent    = "absent"
	AssertPending   = "pending"
	AssertCalls     = "calls"
	AssertStoppedBy = "stopped_by"

	// AssertRateWindow checks that no rate window saw more calls than the limit.
	AssertRateWindow = "rate_window"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Options.End <= 0 && !s.Options.PatchFence {
		return fmt.Errorf("options.end is required unless patch_fence is set")
	}
	if s.Options.Timeout != "" {
		if _, err := time.ParseDuration(s.Options.Timeout); err != nil {
			return fmt.Errorf("options.timeout: %w", err)
		}
	}
	if s.Options.Rate != nil {
		if s.Options.Rate.Limit <= 0 {
			return fmt.Errorf("options.rate.limit must be positive")
		}
		if d, err := time.ParseDuration(s.Options.Rate.Window); err != nil || d <= 0 {
			return fmt.Errorf("options.rate.window must be a positive duration")
		}
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Default != nil {
		if err := validateReply(*s.Default); err != nil {
			return fmt.Errorf("default: %w", err)
		}
	}
	for id, replies := range s.Replies {
		if id <= 0 {
			return fmt.Errorf("replies: id %d must be positive", id)
		}
		if len(replies) == 0 {
			return fmt.Errorf("replies[%d]: at least one reply is required", id)
		}
		for i, r := range replies {
			if err := validateReply(r); err != nil {
				return fmt.Errorf("replies[%d][%d]: %w", id, i, err)
			}
		}
	}

	if s.Ledger != nil {
		for id, reason := range s.Ledger.Absent {
			if !progress.Reason(reason).Valid() {
				return fmt.Errorf("ledger.absent[%d]: unknown reason %q", id, reason)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateReply(r ReplySpec) error {
	switch r.Kind {
	case ReplyFound, ReplyMissing, ReplyThrottled, ReplyUnavailable, ReplyForbidden, ReplyGarbled, ReplyReset:
	case "":
		return fmt.Errorf("kind is required")
	default:
		return fmt.Errorf("unknown reply kind %q", r.Kind)
	}
	if r.Patch != "" {
		if r.Kind != ReplyFound {
			return fmt.Errorf("patch only applies to found replies")
		}
		if _, err := record.ParsePatch(r.Patch); err != nil {
			return err
		}
	}
	if r.RetryAfter != "" {
		if r.Kind != ReplyThrottled {
			return fmt.Errorf("retry_after only applies to throttled replies")
		}
		if _, err := time.ParseDuration(r.RetryAfter); err != nil {
			return fmt.Errorf("retry_after: %w", err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertFrontier:
		if a.ID < 0 {
			return fmt.Errorf("assertions[%d]: id must not be negative for frontier", index)
		}
	case AssertStored, AssertPending:
	case AssertAbsent:
		if a.ID <= 0 {
			return fmt.Errorf("assertions[%d]: id is required for absent", index)
		}
		if !progress.Reason(a.Reason).Valid() {
			return fmt.Errorf("assertions[%d]: unknown reason %q", index, a.Reason)
		}
	case AssertCalls:
		if a.ID <= 0 {
			return fmt.Errorf("assertions[%d]: id is required for calls", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for calls", index)
		}
	case AssertStoppedBy:
		if a.Value == "" {
			return fmt.Errorf("assertions[%d]: value is required for stopped_by", index)
		}
	case AssertRateWindow:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
