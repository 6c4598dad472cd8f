package ledger

import (
	"context"
	"time"
)

// EntryReader answers the read-only questions of an ingestion run.
type EntryReader interface {
	LoadAllContentHashes(ctx context.Context) (map[string]struct{}, error)
	// FindActiveByGroupKey returns nil, nil when the group has no active entry.
	FindActiveByGroupKey(ctx context.Context, groupKey string) (*Entry, error)
}

// EntryStore persists ledger entries.
type EntryStore interface {
	EntryReader
	BeginIngest(ctx context.Context, imp Import) (IngestTx, error)
}

// IngestTx is the write side of one ingestion run. Nothing is visible to
// other runs before Commit.
type IngestTx interface {
	// LockGroupKey serializes runs touching the same group key. It must be
	// called before FindActiveByGroupKey for that key.
	LockGroupKey(ctx context.Context, groupKey string) error
	FindActiveByGroupKey(ctx context.Context, groupKey string) (*Entry, error)
	Insert(ctx context.Context, entry *Entry) error
	// Supersede marks previous inactive and inserts successor as the active
	// version of the same group key.
	Supersede(ctx context.Context, previous, successor *Entry, summary string, at time.Time) error
	Commit() error
	Rollback() error
}

// EntryQuery filters the entry listing.
type EntryQuery struct {
	Page       int
	PerPage    int
	Sort       string
	Desc       bool
	Search     string
	DateFrom   *time.Time
	DateTo     *time.Time
	SourceFile string
	ActiveOnly bool
}

// EntryRow is a listed entry with its running balance.
type EntryRow struct {
	Entry
	Balance string
}

// EntryPage is one page of the entry listing.
type EntryPage struct {
	Page    int
	PerPage int
	Total   int
	Rows    []EntryRow
}

// EntryLister lists persisted entries.
type EntryLister interface {
	ListEntries(ctx context.Context, q EntryQuery) (EntryPage, error)
}
