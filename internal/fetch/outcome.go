// Package fetch turns one remote call into a classified outcome.
//
// A Worker always takes a permit from the rate governor before calling the
// remote service. It never touches storage or progress; outcomes are
// reported back to the ingestion controller, the single writer.
package fetch

import (
	"fmt"
	"time"

	"github.com/roach88/matchlog/internal/record"
)

// Kind classifies a fetch outcome.
type Kind int

const (
	// Success carries the record payload.
	Success Kind = iota

	// NotFound means the ID does not exist remotely. Not an error.
	NotFound

	// RateLimited is the server's throttling signal. Always retried.
	RateLimited

	// Transient covers network errors, timeouts and 5xx responses.
	Transient

	// Fatal covers malformed responses and unrecoverable 4xx responses.
	Fatal
)

var kindNames = [...]string{
	Success:     "success",
	NotFound:    "not_found",
	RateLimited: "rate_limited",
	Transient:   "transient",
	Fatal:       "fatal",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Outcome is the result of one attempt at one ID.
type Outcome struct {
	ID   record.ID
	Gen  uint64 // dispatch generation the attempt belongs to
	Kind Kind

	Payload    []byte        // Success
	RetryAfter time.Duration // RateLimited; zero when the server gave none
	Cause      error         // Transient and Fatal

	Status int           // HTTP status, zero when no response arrived
	Waited time.Duration // time spent waiting for a permit
}

func (o Outcome) String() string {
	if o.Cause != nil {
		return fmt.Sprintf("%d: %s (%v)", o.ID, o.Kind, o.Cause)
	}
	return fmt.Sprintf("%d: %s", o.ID, o.Kind)
}
