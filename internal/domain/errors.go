package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable: a market-data fetch failed or returned a malformed payload.
	// Callers skip the candidate or retry the tick.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrVenue: transaction submission or confirmation failed at the venue.
	ErrVenue = errors.New("venue error")

	// ErrPositionNotFound: the venue does not know the position handle.
	ErrPositionNotFound = errors.New("position not found on venue")

	// ErrNotFound: the store does not know the record id.
	ErrNotFound = errors.New("not found")

	// ErrStoreWriteFailed: the store could not durably persist a write.
	ErrStoreWriteFailed = errors.New("store write failed")

	// ErrAlreadyClosed: a close (or any mutation) was attempted on a closed position.
	ErrAlreadyClosed = errors.New("position already closed")

	// ErrConfiguration is matched by every ConfigurationError.
	ErrConfiguration = errors.New("configuration error")

	// ErrLockHeld: another worker owns the position lease.
	ErrLockHeld = errors.New("lock already held")
)

// ConfigurationError is never retriable and blocks a position from being opened.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return "configuration error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// InconsistencyError means a venue-mutating call succeeded but the store write that
// should record it did not. On-chain truth and the durable record have diverged
// and an operator has to reconcile them.
type InconsistencyError struct {
	Op         string // open | rebalance | close
	PositionID string
	Handle     string
	Err        error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("INCONSISTENT STATE after %s (position=%q handle=%q): %v", e.Op, e.PositionID, e.Handle, e.Err)
}

func (e *InconsistencyError) Unwrap() error { return e.Err }

// CloseError is returned when the close transition was abandoned at a venue step.
// The position is still active in the store; its worker starts another round
// after the check interval.
type CloseError struct {
	PositionID string
	Attempts   int
	Err        error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("close position %s abandoned after %d attempts: %v", e.PositionID, e.Attempts, e.Err)
}

func (e *CloseError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying after the standard interval.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPositionNotFound) || errors.Is(err, ErrConfiguration) || errors.Is(err, ErrNotFound) {
		return false
	}
	var inc *InconsistencyError
	if errors.As(err, &inc) {
		return false
	}
	return errors.Is(err, ErrDataUnavailable) ||
		errors.Is(err, ErrVenue) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsInconsistency reports whether err carries an InconsistencyError.
func IsInconsistency(err error) bool {
	var inc *InconsistencyError
	return errors.As(err, &inc)
}
