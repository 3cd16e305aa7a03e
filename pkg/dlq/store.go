package dlq

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meftunca/courier/pkg/types"
)

// autoRequeueMaxRetryCount caps which entries auto-requeue picks up.
// Entries that already retried twice stay parked for operator review even
// when the envelope's own max_retries is higher.
const autoRequeueMaxRetryCount = 2

// RequeueFunc re-enqueues a recovered envelope onto the delivery queue.
// The caller re-signs before enqueueing since the reset invalidates the
// old signature.
type RequeueFunc func(ctx context.Context, env *types.Envelope) error

// Store archives envelopes that exhausted their retries and supports
// inspection, recovery, and retention cleanup.
type Store struct {
	entries EntryStore
	requeue RequeueFunc
}

// Stats summarizes the stored entries.
type Stats struct {
	Total         int     `json:"total"`
	AvgRetryCount float64 `json:"avg_retry_count"`
	AvgAgeHours   float64 `json:"avg_age_hours"`
	SizeBytes     int64   `json:"size_bytes"`
}

// NewStore creates a dead letter store over the given entry storage.
// requeue may be nil when recovery is driven externally.
func NewStore(entries EntryStore, requeue RequeueFunc) *Store {
	return &Store{entries: entries, requeue: requeue}
}

// Add archives a failed envelope with failed_at stamped now and returns the
// new entry id.
func (s *Store) Add(ctx context.Context, env *types.Envelope, failureReason, originalQueue string, permanent bool) (string, error) {
	entry := &Entry{
		EntryID:          uuid.NewString(),
		Envelope:         env,
		FailedAt:         time.Now().Unix(),
		FailureReason:    failureReason,
		OriginalQueue:    originalQueue,
		PermanentFailure: permanent,
	}
	if err := s.entries.Insert(ctx, entry); err != nil {
		return "", err
	}
	return entry.EntryID, nil
}

// List returns up to limit entries, most-recent-first.
func (s *Store) List(ctx context.Context, limit int) ([]*Entry, error) {
	return s.entries.List(ctx, limit)
}

// Get returns a single entry by id.
func (s *Store) Get(ctx context.Context, entryID string) (*Entry, error) {
	return s.entries.Get(ctx, entryID)
}

// Requeue hands the entry's envelope to enqueue reset for redelivery:
// retry_count zeroed, last error cleared, created_at restamped, signature
// stripped so enqueue re-signs. The entry is removed only after enqueue
// succeeds, so a broker failure leaves it parked in the store. A second
// Requeue on the same id fails with NOT_FOUND.
func (s *Store) Requeue(ctx context.Context, entryID string, enqueue RequeueFunc) (*types.Envelope, error) {
	entry, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	env := entry.Envelope
	env.RetryCount = 0
	env.LastError = ""
	env.Signature = ""
	env.CreatedAt = time.Now().Unix()

	if enqueue != nil {
		if err := enqueue(ctx, env); err != nil {
			return nil, err
		}
	}
	if err := s.entries.Delete(ctx, entryID); err != nil {
		return nil, err
	}
	return env, nil
}

// AutoRequeueEligible requeues entries older than the threshold that kept a
// low retry count and did not fail permanently. Returns the number requeued.
func (s *Store) AutoRequeueEligible(ctx context.Context, threshold time.Duration) (int, error) {
	if s.requeue == nil {
		return 0, nil
	}

	cutoff := time.Now().Add(-threshold)
	aged, err := s.entries.OlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, entry := range aged {
		if entry.PermanentFailure || entry.Envelope.RetryCount >= autoRequeueMaxRetryCount {
			continue
		}
		if _, err := s.Requeue(ctx, entry.EntryID, s.requeue); err != nil {
			if types.AsCourierError(err).Code == types.ErrCodeNotFound {
				// Raced with a manual requeue; skip.
				continue
			}
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// CleanupExpired permanently deletes entries older than the retention
// window. Returns the number removed.
func (s *Store) CleanupExpired(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	expired, err := s.entries.OlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range expired {
		if err := s.entries.Delete(ctx, entry.EntryID); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

// Stats aggregates entry counts, retry averages, age, and payload size.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	// The scan-everything cutoff: all entries failed before now.
	all, err := s.entries.OlderThan(ctx, time.Now().Add(time.Second))
	if err != nil {
		return nil, err
	}

	stats := &Stats{Total: len(all)}
	if len(all) == 0 {
		return stats, nil
	}

	var retrySum, ageSum float64
	for _, entry := range all {
		retrySum += float64(entry.Envelope.RetryCount)
		ageSum += entry.Age().Hours()
		stats.SizeBytes += int64(len(entry.Envelope.Payload))
	}
	stats.AvgRetryCount = retrySum / float64(len(all))
	stats.AvgAgeHours = ageSum / float64(len(all))
	return stats, nil
}
