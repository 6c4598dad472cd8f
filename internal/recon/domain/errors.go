package recon

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingIDs is returned when a confirm request lacks an id.
	ErrMissingIDs = errors.New("recon: payout id and entry id are required")
	// ErrUnsupportedMethod is returned when a payout's method has no pool.
	ErrUnsupportedMethod = errors.New("recon: unsupported payout method")
	// ErrEntryNotFound is returned when the candidate is not in the method's pool.
	ErrEntryNotFound = errors.New("recon: entry not found in pool")
	// ErrNotInflow is returned when a ledger candidate is not an inflow.
	ErrNotInflow = errors.New("recon: ledger entry is not an inflow")
	// ErrAlreadyLinked is returned when either side is linked to another counterpart.
	ErrAlreadyLinked = errors.New("recon: already linked to a different counterpart")
	// ErrInvalidRange is returned when from is after to.
	ErrInvalidRange = errors.New("recon: from is after to")
)

// PersistenceError reports a failed reconciliation write. The write was
// rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("recon: %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
