// Package common defines sentinel errors shared across server layers.
// Callers match them with errors.Is / errors.As.
package common

import (
	"errors"
	"fmt"
)

var (
	// ErrRevisionConflict signals an optimistic-concurrency race: the caller's
	// expected base revision no longer matches the stored one. Recovered
	// internally by the merge path unless retries run out.
	ErrRevisionConflict = errors.New("revision conflict")

	// ErrMergeExhausted is surfaced when the merge-and-commit path keeps
	// racing past its retry budget. The caller has to re-sync.
	ErrMergeExhausted = errors.New("merge retries exhausted")

	// Auth errors (invalid, malformed, or expired token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// MalformedEntryError reports a structurally invalid entry in a sync batch.
// It keeps the offending identifier so the client can tell which entry to fix.
type MalformedEntryError struct {
	ID     string
	Reason string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("malformed entry %q: %s", e.ID, e.Reason)
}
