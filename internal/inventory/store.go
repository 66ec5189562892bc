package inventory

import (
	"context"
	"time"
)

// Store is the persistence API for the media catalog.
//
// All mutating calls are safe for concurrent use; MarkSent is a compare-and-set
// so a racing double-send loses with ErrAlreadySent instead of silently
// re-marking.
type Store interface {
	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key string) (Record, error)

	// UpsertIfAbsent inserts an Unsent record for key if none exists and
	// reports whether it inserted. An existing record is returned unchanged.
	UpsertIfAbsent(ctx context.Context, key string, mt MediaType) (Record, bool, error)

	// MarkSent transitions key from Unsent to Sent. It fails with
	// ErrAlreadySent if the record is already Sent and ErrNotFound if the
	// key is unknown.
	MarkSent(ctx context.Context, key string, at time.Time) (Record, error)

	// ListUnsent returns Unsent records, optionally restricted to the given
	// types. Ordering is stable (by key) for a given snapshot.
	ListUnsent(ctx context.Context, types ...MediaType) ([]Record, error)

	// ListSent returns Sent records (repair pass input).
	ListSent(ctx context.Context) ([]Record, error)

	// Count returns the number of records with the given status.
	Count(ctx context.Context, st Status) (int, error)

	// AlignStatus forces a record's status to match external ground truth
	// (the filename marker). Repair-only; it bypasses the CAS guard.
	AlignStatus(ctx context.Context, key string, st Status, sentAt *time.Time) error

	// AppendDispatch appends one dispatch attempt to the audit trail.
	AppendDispatch(ctx context.Context, e DispatchEntry) error

	Close() error
}
