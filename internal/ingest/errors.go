package ingest

import (
	"errors"
	"fmt"

	"github.com/roach88/matchlog/internal/record"
)

// ErrorCode categorizes errors that end a run.
type ErrorCode string

const (
	// ErrCodeStorage indicates the raw store or the ledger could not persist.
	ErrCodeStorage ErrorCode = "STORAGE"

	// ErrCodeHalted indicates a record failed under the halt failure policy.
	ErrCodeHalted ErrorCode = "HALTED"

	// ErrCodeConfig indicates invalid controller options.
	ErrCodeConfig ErrorCode = "CONFIG"
)

// Error is an error that ended a run.
type Error struct {
	Code ErrorCode

	// Op names the failed operation, e.g. "write" or "save ledger".
	Op string

	// ID is the record involved, zero when none.
	ID record.ID

	Err error
}

func (e *Error) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s: %s %d: %v", e.Code, e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func storageError(op string, id record.ID, err error) *Error {
	return &Error{Code: ErrCodeStorage, Op: op, ID: id, Err: err}
}

func configError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeConfig, Op: "configure", Err: fmt.Errorf(format, args...)}
}

// IsStorageError reports whether err is a storage failure.
// Uses errors.As to handle wrapped errors.
func IsStorageError(err error) bool {
	return hasCode(err, ErrCodeStorage)
}

// IsHaltError reports whether err stopped the run under the halt policy.
func IsHaltError(err error) bool {
	return hasCode(err, ErrCodeHalted)
}

// IsConfigError reports whether err is an options validation failure.
func IsConfigError(err error) bool {
	return hasCode(err, ErrCodeConfig)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
