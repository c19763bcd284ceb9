package harness

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/matchlog/internal/progress"
	"github.com/roach88/matchlog/internal/record"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages, empty when all hold.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertFrontier:
		return assertFrontier(result, a)
	case AssertStored:
		return assertIDs(AssertStored, toIDs(a.IDs), result.Stored)
	case AssertPending:
		return assertIDs(AssertPending, toIDs(a.IDs), result.State.PendingIDs())
	case AssertAbsent:
		return assertAbsent(result, a)
	case AssertCalls:
		return assertCalls(result, a)
	case AssertRateWindow:
		return assertRateWindow(result)
	case AssertStoppedBy:
		if result.Summary.StoppedBy != a.Value {
			return &AssertionError{Type: a.Type, Expected: a.Value, Actual: result.Summary.StoppedBy}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertFrontier(result *Result, a Assertion) error {
	if got := result.State.Frontier; got != record.ID(a.ID) {
		return &AssertionError{
			Type:     AssertFrontier,
			Expected: fmt.Sprintf("frontier %d", a.ID),
			Actual:   fmt.Sprintf("frontier %d (cursor %d, pending %v)", got, result.State.Cursor, result.State.PendingIDs()),
		}
	}
	return nil
}

// assertIDs compares sets; order does not matter.
func assertIDs(kind string, want, got []record.ID) error {
	want = slices.Sorted(slices.Values(want))
	got = slices.Sorted(slices.Values(got))
	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertAbsent(result *Result, a Assertion) error {
	id := record.ID(a.ID)
	abs, ok := result.State.Absent[id]
	if !ok {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("%d absent (%s)", id, a.Reason),
			Actual:   fmt.Sprintf("%d not in absent set %v", id, result.State.AbsentIDs()),
		}
	}
	if abs.Reason != progress.Reason(a.Reason) {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("%d absent (%s)", id, a.Reason),
			Actual:   fmt.Sprintf("%d absent (%s: %s)", id, abs.Reason, abs.Cause),
		}
	}
	return nil
}

func assertCalls(result *Result, a Assertion) error {
	id := record.ID(a.ID)
	if got := result.Calls[id]; got != a.Count {
		return &AssertionError{
			Type:     AssertCalls,
			Expected: fmt.Sprintf("%d requested %d times", id, a.Count),
			Actual:   fmt.Sprintf("%d requested %d times", id, got),
		}
	}
	return nil
}

func toIDs(raw []int64) []record.ID {
	ids := make([]record.ID, len(raw))
	for i, v := range raw {
		ids[i] = record.ID(v)
	}
	return ids
}

// callSlack absorbs the scheduling delay between a permit and the call it
// was issued for.
const callSlack = 50 * time.Millisecond

// assertRateWindow checks that any Limit+1 consecutive calls span at
// least one window.
func assertRateWindow(result *Result) error {
	limit, window := result.Rate.Limit, result.Rate.Window
	times := result.CallTimes
	for i := 0; i+limit < len(times); i++ {
		span := times[i+limit].Sub(times[i])
		if span < window-callSlack {
			return &AssertionError{
				Type:     AssertRateWindow,
				Expected: fmt.Sprintf("at most %d calls per %s", limit, window),
				Actual:   fmt.Sprintf("calls %d..%d within %s", i+1, i+limit+1, span),
			}
		}
	}
	return nil
}
