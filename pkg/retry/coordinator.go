package retry

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/meftunca/courier/pkg/dlq"
	"github.com/meftunca/courier/pkg/types"
)

// State represents the delivery state of one in-flight envelope.
type State string

const (
	StateProcessing     State = "processing"
	StateSuccess        State = "success"
	StateRetryScheduled State = "retry_scheduled"
	StateDeadLettered   State = "dead_lettered"
)

// Handler processes a dequeued envelope. Returning a PERMANENT_FAILURE
// error skips the remaining retries and dead-letters immediately.
type Handler func(ctx context.Context, env *types.Envelope) error

// Coordinator wraps handler invocation with bounded exponential-backoff
// retry. Each Run owns its envelope exclusively; backoff sleeps hold no
// locks, so concurrent envelopes never block one another.
type Coordinator struct {
	deadLetters *dlq.Store
	queueName   string
	baseDelay   time.Duration
	jitter      bool
}

// NewCoordinator creates a coordinator. queueName is recorded as the
// original queue on dead-lettered envelopes.
func NewCoordinator(deadLetters *dlq.Store, queueName string, baseDelay time.Duration, jitter bool) *Coordinator {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Coordinator{
		deadLetters: deadLetters,
		queueName:   queueName,
		baseDelay:   baseDelay,
		jitter:      jitter,
	}
}

// Run drives the envelope through the retry state machine until it
// succeeds, dead-letters, or the context is cancelled. Call it from a
// dedicated goroutine per envelope. On dead-lettering, the returned error
// is the terminal failure cause.
func (c *Coordinator) Run(ctx context.Context, handler Handler, env *types.Envelope) (State, error) {
	for {
		err := handler(ctx, env)
		if err == nil {
			return StateSuccess, nil
		}

		ce := types.AsCourierError(err)
		env.LastError = ce.Error()

		if ce.IsPermanent() {
			return c.deadLetter(ctx, env, ce, true)
		}

		if env.RetryCount >= env.MaxRetries {
			return c.deadLetter(ctx, env, ce, false)
		}

		env.RetryCount++
		delay := c.Backoff(env.RetryCount)
		log.Printf("[retry] envelope %s attempt %d/%d failed, retrying in %v: %v",
			env.ID, env.RetryCount, env.MaxRetries, delay, ce)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Shutdown mid-backoff: the envelope is no longer in the queue,
			// so park it in the DLQ instead of dropping it.
			return c.deadLetter(context.WithoutCancel(ctx), env, ce, false)
		}
	}
}

// Backoff returns the delay before the given retry attempt (1-based):
// base * 2^(attempt-1), with ±20% jitter when enabled.
func (c *Coordinator) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.baseDelay << (attempt - 1)
	if c.jitter {
		// ±20%
		spread := 0.8 + 0.4*rand.Float64()
		delay = time.Duration(float64(delay) * spread)
	}
	return delay
}

func (c *Coordinator) deadLetter(ctx context.Context, env *types.Envelope, cause *types.CourierError, permanent bool) (State, error) {
	entryID, err := c.deadLetters.Add(ctx, env, cause.Error(), c.queueName, permanent)
	if err != nil {
		log.Printf("[retry] failed to dead-letter envelope %s: %v", env.ID, err)
		return StateDeadLettered, err
	}
	log.Printf("[retry] envelope %s dead-lettered as %s (permanent=%t, retries=%d)",
		env.ID, entryID, permanent, env.RetryCount)
	return StateDeadLettered, cause
}
