package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meftunca/courier/pkg/dlq"
	"github.com/meftunca/courier/pkg/types"
)

func newTestCoordinator(baseDelay time.Duration) (*Coordinator, *dlq.Store) {
	store := dlq.NewStore(dlq.NewMemoryEntryStore(), nil)
	return NewCoordinator(store, "test:delivery", baseDelay, false), store
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	coord, store := newTestCoordinator(time.Millisecond)
	env := types.NewEnvelope("agent-1", "task.created", []byte(`{}`)).WithMaxRetries(3)

	calls := 0
	state, err := coord.Run(context.Background(), func(ctx context.Context, env *types.Envelope) error {
		calls++
		return nil
	}, env)

	if state != StateSuccess || err != nil {
		t.Errorf("expected success, got state=%s err=%v", state, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if entries, _ := store.List(context.Background(), 10); len(entries) != 0 {
		t.Error("successful delivery must not dead-letter")
	}
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	coord, _ := newTestCoordinator(time.Millisecond)
	env := types.NewEnvelope("agent-1", "task.created", []byte(`{}`)).WithMaxRetries(3)

	calls := 0
	state, err := coord.Run(context.Background(), func(ctx context.Context, env *types.Envelope) error {
		calls++
		if calls < 3 {
			return errors.New("transient failure")
		}
		return nil
	}, env)

	if state != StateSuccess || err != nil {
		t.Errorf("expected eventual success, got state=%s err=%v", state, err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if env.RetryCount != 2 {
		t.Errorf("expected 2 retries consumed, got %d", env.RetryCount)
	}
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	coord, store := newTestCoordinator(time.Millisecond)
	env := types.NewEnvelope("agent-1", "task.created", []byte(`{}`)).WithMaxRetries(2)

	calls := 0
	state, err := coord.Run(context.Background(), func(ctx context.Context, env *types.Envelope) error {
		calls++
		return errors.New("handler down")
	}, env)

	if state != StateDeadLettered {
		t.Errorf("expected dead-lettered, got %s", state)
	}
	if err == nil {
		t.Error("expected the terminal cause")
	}
	// initial attempt plus two retries
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if env.RetryCount != 2 {
		t.Errorf("expected retry count 2 at exhaustion, got %d", env.RetryCount)
	}
	if env.LastError == "" {
		t.Error("expected last error recorded")
	}

	entries, _ := store.List(context.Background(), 10)
	if len(entries) != 1 {
		t.Fatalf("expected 1 dead letter entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Envelope.ID != env.ID {
		t.Error("entry should carry the failed envelope")
	}
	if entry.PermanentFailure {
		t.Error("exhaustion is not a permanent failure")
	}
	if entry.OriginalQueue != "test:delivery" {
		t.Errorf("expected original queue recorded, got %q", entry.OriginalQueue)
	}
}

func TestRunPermanentFailureSkipsRetries(t *testing.T) {
	coord, store := newTestCoordinator(time.Second)
	env := types.NewEnvelope("agent-1", "task.created", []byte(`{}`)).WithMaxRetries(5)

	calls := 0
	start := time.Now()
	state, err := coord.Run(context.Background(), func(ctx context.Context, env *types.Envelope) error {
		calls++
		return types.ErrPermanent("unknown message type", nil)
	}, env)

	if state != StateDeadLettered {
		t.Errorf("expected dead-lettered, got %s", state)
	}
	if calls != 1 {
		t.Errorf("permanent failure must not retry, got %d calls", calls)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("permanent failure must not wait out a backoff")
	}
	if ce := types.AsCourierError(err); ce.Code != types.ErrCodePermanentFailure {
		t.Errorf("expected permanent cause, got %v", err)
	}

	entries, _ := store.List(context.Background(), 10)
	if len(entries) != 1 || !entries[0].PermanentFailure {
		t.Error("expected a permanent dead letter entry")
	}
}

func TestRunCancelledMidBackoffDeadLetters(t *testing.T) {
	coord, store := newTestCoordinator(5 * time.Second)
	env := types.NewEnvelope("agent-1", "task.created", []byte(`{}`)).WithMaxRetries(3)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	state, _ := coord.Run(ctx, func(ctx context.Context, env *types.Envelope) error {
		return errors.New("down")
	}, env)

	if state != StateDeadLettered {
		t.Errorf("expected dead-lettered on shutdown, got %s", state)
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation should cut the backoff short")
	}

	// at-least-once: the envelope is parked, not dropped
	entries, _ := store.List(context.Background(), 10)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after shutdown, got %d", len(entries))
	}
}

func TestBackoffDoubling(t *testing.T) {
	coord, _ := newTestCoordinator(time.Second)

	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, want := range expected {
		if got := coord.Backoff(i + 1); got != want {
			t.Errorf("attempt %d: expected %v, got %v", i+1, want, got)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	store := dlq.NewStore(dlq.NewMemoryEntryStore(), nil)
	coord := NewCoordinator(store, "q", time.Second, true)

	for i := 0; i < 100; i++ {
		d := coord.Backoff(2) // nominal 2s
		if d < 1600*time.Millisecond || d > 2400*time.Millisecond {
			t.Fatalf("jittered delay %v outside the 20%% band", d)
		}
	}
}
