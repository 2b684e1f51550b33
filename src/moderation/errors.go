package moderation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the referenced guild does not exist.
	ErrNotFound = errors.New("not found")
	// ErrQuotaExceeded is returned when the owner's daily allowance is used up.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrInconsistentState is returned when a structural invariant is broken,
	// e.g. a guild whose owner has no plan. It is never retried.
	ErrInconsistentState = errors.New("inconsistent state")
	// ErrClassifierUnavailable is returned when the inference backend cannot serve a call.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrStoreUnavailable is returned when the persistence layer fails.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrMessageConflict is returned when a message id is already recorded
	// for a different guild or text.
	ErrMessageConflict = errors.New("message id already recorded for another message")
)

// QuotaError carries the numbers behind a quota denial.
type QuotaError struct {
	Limit int64
	Used  int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %d of %d requests used today", e.Used, e.Limit)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }
