package dlq

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Reaper periodically auto-requeues eligible entries and removes expired
// ones. A tick that fires while the previous cycle is still running is
// skipped, never queued, so two cycles cannot mutate the same entries.
type Reaper struct {
	store                *Store
	interval             time.Duration
	autoRequeueThreshold time.Duration
	retention            time.Duration

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewReaper creates a reaper over the store.
func NewReaper(store *Store, interval, autoRequeueThreshold, retention time.Duration) *Reaper {
	return &Reaper{
		store:                store,
		interval:             interval,
		autoRequeueThreshold: autoRequeueThreshold,
		retention:            retention,
	}
}

// Start launches the reap loop.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.reap(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}

// reap runs one cycle with single-flight semantics.
func (r *Reaper) reap(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		log.Printf("[dlq-reaper] previous cycle still running, skipping tick")
		return
	}
	defer r.running.Store(false)

	requeued, err := r.store.AutoRequeueEligible(ctx, r.autoRequeueThreshold)
	if err != nil {
		log.Printf("[dlq-reaper] auto-requeue failed: %v", err)
	} else if requeued > 0 {
		log.Printf("[dlq-reaper] auto-requeued %d entries", requeued)
	}

	removed, err := r.store.CleanupExpired(ctx, r.retention)
	if err != nil {
		log.Printf("[dlq-reaper] cleanup failed: %v", err)
	} else if removed > 0 {
		log.Printf("[dlq-reaper] removed %d expired entries", removed)
	}
}
