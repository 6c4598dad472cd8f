package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNilEntry is returned when saving a nil entry.
	ErrNilEntry = errors.New("ledger: nil entry")
	// ErrEntryNotFound is returned when an entry does not exist.
	ErrEntryNotFound = errors.New("ledger: entry not found")
	// ErrConflict is returned when another run changed the active entry of a group key first.
	ErrConflict = errors.New("ledger: concurrent write on group key")
	// ErrTxDone is returned when a finished ingest transaction is used again.
	ErrTxDone = errors.New("ledger: transaction already finished")
)

// ValidationError rejects a request before any row is processed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: invalid %s: %s", e.Field, e.Reason)
}

// RowError describes a row that was skipped because a cell could not be parsed.
type RowError struct {
	Row    int
	Field  string
	Raw    string
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("ledger: row %d: %s %q: %s", e.Row, e.Field, e.Raw, e.Reason)
}

// Counts are the counters accumulated by a run when it stopped.
type Counts struct {
	RowsRead   int
	Inserted   int
	Duplicates int
	Superseded int
}

// PersistenceError aborts an ingestion run. The run's writes are rolled back.
type PersistenceError struct {
	Stage    string
	Row      int
	GroupKey string
	Counts   Counts
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("ledger: %s failed at row %d (read=%d inserted=%d duplicates=%d superseded=%d): %v",
			e.Stage, e.Row, e.Counts.RowsRead, e.Counts.Inserted, e.Counts.Duplicates, e.Counts.Superseded, e.Err)
	}
	return fmt.Sprintf("ledger: %s failed (read=%d inserted=%d duplicates=%d superseded=%d): %v",
		e.Stage, e.Counts.RowsRead, e.Counts.Inserted, e.Counts.Duplicates, e.Counts.Superseded, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
