package dlq

import (
	"context"
	"time"

	"github.com/meftunca/courier/pkg/types"
)

// Entry wraps one failed envelope in the dead letter store. EntryID is
// distinct from the envelope id so the same envelope can fail and be
// archived more than once across requeues.
type Entry struct {
	EntryID          string          `cbor:"eid" json:"dlq_entry_id" msgpack:"eid"`
	Envelope         *types.Envelope `cbor:"env" json:"envelope" msgpack:"env"`
	FailedAt         int64           `cbor:"fa" json:"failed_at" msgpack:"fa"` // Unix seconds
	FailureReason    string          `cbor:"fr" json:"failure_reason" msgpack:"fr"`
	OriginalQueue    string          `cbor:"oq" json:"original_queue" msgpack:"oq"`
	PermanentFailure bool            `cbor:"pf,omitempty" json:"permanent_failure,omitempty" msgpack:"pf,omitempty"`
}

// Age returns how long ago the entry failed.
func (e *Entry) Age() time.Duration {
	return time.Since(time.Unix(e.FailedAt, 0))
}

// EntryStore is the persistence layer beneath the dead letter store.
type EntryStore interface {
	// Insert persists an entry.
	Insert(ctx context.Context, entry *Entry) error

	// Get returns the entry or a NOT_FOUND error.
	Get(ctx context.Context, entryID string) (*Entry, error)

	// Delete removes the entry or returns a NOT_FOUND error.
	Delete(ctx context.Context, entryID string) error

	// List returns up to limit entries, most-recent-first by failed_at.
	List(ctx context.Context, limit int) ([]*Entry, error)

	// OlderThan returns all entries with failed_at before cutoff.
	OlderThan(ctx context.Context, cutoff time.Time) ([]*Entry, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)
}
