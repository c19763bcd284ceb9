package ingest

import (
	"fmt"
	"time"
)

// RetryPolicy bounds transient-error retries.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts before an ID is marked
	// exhausted.
	MaxAttempts int

	Base time.Duration
	Cap  time.Duration
}

// Retry profiles.
const (
	ProfileStandard   = "standard"
	ProfileAggressive = "aggressive"
)

// Profile returns a named retry policy. The standard profile is patient
// with a flaky API; the aggressive one gives up fast.
func Profile(name string) (RetryPolicy, error) {
	switch name {
	case ProfileStandard, "":
		return RetryPolicy{MaxAttempts: 6, Base: time.Second, Cap: 30 * time.Second}, nil
	case ProfileAggressive:
		return RetryPolicy{MaxAttempts: 3, Base: time.Second, Cap: 5 * time.Second}, nil
	}
	return RetryPolicy{}, fmt.Errorf("unknown retry profile %q", name)
}

// Validate rejects unusable policies.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.Base < 0 || p.Cap < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	if p.Cap < p.Base {
		return fmt.Errorf("backoff cap %s is below base %s", p.Cap, p.Base)
	}
	return nil
}

// Backoff returns the delay before retry number attempt (0-based):
// min(Base × 2^attempt, Cap) plus jitter(Base).
func (p RetryPolicy) Backoff(attempt int, jitter func(time.Duration) time.Duration) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	d := p.Cap
	if attempt >= 0 && attempt < 32 {
		if exp := p.Base << attempt; exp > 0 && exp < p.Cap {
			d = exp
		}
	}
	if jitter != nil {
		d += jitter(p.Base)
	}
	return d
}

// FailurePolicy decides what a failed record does to the run.
type FailurePolicy string

const (
	// FailSkip records the failure and keeps going.
	FailSkip FailurePolicy = "skip"

	// FailHalt records the failure and stops the run.
	FailHalt FailurePolicy = "halt"
)

// ParseFailurePolicy parses "skip" or "halt".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case FailSkip, "":
		return FailSkip, nil
	case FailHalt:
		return FailHalt, nil
	}
	return "", fmt.Errorf("unknown failure policy %q: must be skip or halt", s)
}
