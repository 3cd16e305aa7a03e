package consumer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/meftunca/courier/pkg/metrics"
	"github.com/meftunca/courier/pkg/queue"
	"github.com/meftunca/courier/pkg/retry"
	"github.com/meftunca/courier/pkg/security"
	"github.com/meftunca/courier/pkg/types"
)

// Config holds consumer pool settings.
type Config struct {
	Workers         int
	DequeueTimeout  time.Duration
	GracefulTimeout time.Duration
	MaxAge          time.Duration
}

// Consumer drains the delivery queue with a pool of workers. Each dequeued
// envelope is verified, decrypted, and dispatched by type through the retry
// coordinator on its own goroutine, so a backing-off envelope never blocks
// the dequeue loop.
type Consumer struct {
	cfg     Config
	queue   *queue.Queue
	guard   *security.Guard
	coord   *retry.Coordinator
	metrics *metrics.Metrics

	handlers map[string]retry.Handler
	fallback retry.Handler
	mu       sync.RWMutex

	cancel   context.CancelFunc
	loops    sync.WaitGroup
	inflight sync.WaitGroup
}

// New creates a consumer pool.
func New(cfg Config, q *queue.Queue, guard *security.Guard, coord *retry.Coordinator, m *metrics.Metrics) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 5 * time.Second
	}
	return &Consumer{
		cfg:      cfg,
		queue:    q,
		guard:    guard,
		coord:    coord,
		metrics:  m,
		handlers: make(map[string]retry.Handler),
	}
}

// Handle registers a handler for an envelope type.
func (c *Consumer) Handle(envType string, h retry.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[envType] = h
}

// HandleDefault registers the handler used for unregistered types. Without
// one, unknown types fail permanently.
func (c *Consumer) HandleDefault(h retry.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = h
}

// Start launches the worker loops.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	for i := 0; i < c.cfg.Workers; i++ {
		c.loops.Add(1)
		go c.workerLoop(ctx, i)
	}
	log.Printf("[consumer] started %d workers on queue %s", c.cfg.Workers, c.queue.Name())
}

// Stop stops issuing new dequeues and waits up to the graceful timeout for
// in-flight envelopes to finish their current retry sequence.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.loops.Wait()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[consumer] stopped gracefully")
	case <-time.After(c.cfg.GracefulTimeout):
		log.Printf("[consumer] graceful timeout reached, abandoning in-flight envelopes")
	}
}

func (c *Consumer) workerLoop(ctx context.Context, id int) {
	defer c.loops.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		env, err := c.queue.Dequeue(ctx, c.cfg.DequeueTimeout)
		if err != nil {
			// Transient broker faults must not kill the loop.
			log.Printf("[consumer-%d] dequeue failed: %v", id, err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if env == nil {
			continue // idle poll, loop again
		}

		c.inflight.Add(1)
		go func(env *types.Envelope) {
			defer c.inflight.Done()
			c.process(ctx, id, env)
		}(env)
	}
}

func (c *Consumer) process(ctx context.Context, workerID int, env *types.Envelope) {
	if ok, err := c.guard.Verify(env); !ok {
		c.metrics.AuthFailures.Inc()
		log.Printf("[consumer-%d] dropping envelope %s: %v", workerID, env.ID, err)
		return
	}
	if c.cfg.MaxAge > 0 && !c.guard.IsFresh(env, c.cfg.MaxAge) {
		c.metrics.AuthFailures.Inc()
		log.Printf("[consumer-%d] dropping stale envelope %s (created_at=%d)", workerID, env.ID, env.CreatedAt)
		return
	}

	decrypted, err := c.guard.Decrypt(env)
	if err != nil {
		c.metrics.AuthFailures.Inc()
		log.Printf("[consumer-%d] dropping undecryptable envelope %s: %v", workerID, env.ID, err)
		return
	}
	env = decrypted

	c.metrics.PayloadSize.Observe(float64(len(env.Payload)))

	before := env.RetryCount
	state, err := c.coord.Run(ctx, c.dispatch, env)
	if err != nil {
		log.Printf("[consumer-%d] envelope %s finished with error: %v", workerID, env.ID, err)
	}
	c.metrics.Retries.Add(float64(env.RetryCount - before))

	switch state {
	case retry.StateSuccess:
		c.metrics.Consumed.WithLabelValues("success").Inc()
	case retry.StateDeadLettered:
		c.metrics.Consumed.WithLabelValues("dead_lettered").Inc()
		permanent := "false"
		if ce := types.AsCourierError(err); ce != nil && ce.IsPermanent() {
			permanent = "true"
		}
		c.metrics.DeadLettered.WithLabelValues(permanent).Inc()
	}
}

// dispatch routes an envelope to its typed handler, timing the invocation.
func (c *Consumer) dispatch(ctx context.Context, env *types.Envelope) error {
	c.mu.RLock()
	handler, ok := c.handlers[env.Type]
	if !ok {
		handler = c.fallback
	}
	c.mu.RUnlock()

	if handler == nil {
		return types.ErrPermanent(fmt.Sprintf("no handler registered for type %q", env.Type), nil)
	}

	start := time.Now()
	err := handler(ctx, env)
	c.metrics.HandlerDuration.Observe(time.Since(start).Seconds())
	return err
}
