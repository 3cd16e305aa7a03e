package broker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meftunca/courier/pkg/config"
	"github.com/meftunca/courier/pkg/types"
)

// RedisBroker implements Broker over a Redis-compatible list store.
type RedisBroker struct {
	client        redis.UniversalClient
	retryAttempts int
	retryBackoff  time.Duration
}

// NewRedisBroker creates a broker client from configuration.
func NewRedisBroker(cfg config.BrokerConfig) *RedisBroker {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{cfg.URL},
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	return &RedisBroker{
		client:        client,
		retryAttempts: cfg.RetryAttempts,
		retryBackoff:  cfg.RetryBackoff,
	}
}

// NewRedisBrokerWithClient wraps an existing client. Used by tests.
func NewRedisBrokerWithClient(client redis.UniversalClient) *RedisBroker {
	return &RedisBroker{client: client, retryAttempts: 1, retryBackoff: 50 * time.Millisecond}
}

// Client exposes the underlying connection so other stores can share it.
func (b *RedisBroker) Client() redis.UniversalClient {
	return b.client
}

// PushLeft prepends a blob, retrying transient faults with the client-side
// backoff before surfacing BROKER_UNAVAILABLE.
func (b *RedisBroker) PushLeft(ctx context.Context, queue string, blob []byte) error {
	return b.withRetry(ctx, "LPUSH", func() error {
		return b.client.LPush(ctx, queue, blob).Err()
	})
}

// PopRightBlocking pops from the first non-empty queue in priority order.
// BRPOP serves the keys in listed order, which is what gives priority tiers
// their precedence. A zero timeout polls without blocking; BRPOP would treat
// it as waiting forever.
func (b *RedisBroker) PopRightBlocking(ctx context.Context, queues []string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		return b.popRight(ctx, queues)
	}

	res, err := b.client.BRPop(ctx, timeout, queues...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // timeout, no work available
		}
		if ctx.Err() != nil {
			return nil, nil // shutdown, treated like an empty poll
		}
		return nil, types.ErrBrokerUnavailable("BRPOP", err)
	}
	// BRPOP returns [key, value]
	if len(res) != 2 {
		return nil, types.ErrBrokerUnavailable("BRPOP", errors.New("unexpected reply shape"))
	}
	return []byte(res[1]), nil
}

// popRight drains the first non-empty queue with plain RPOP, returning
// (nil, nil) when every queue is empty.
func (b *RedisBroker) popRight(ctx context.Context, queues []string) ([]byte, error) {
	for _, queue := range queues {
		blob, err := b.client.RPop(ctx, queue).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, types.ErrBrokerUnavailable("RPOP", err)
		}
		return blob, nil
	}
	return nil, nil
}

// Length returns the list length.
func (b *RedisBroker) Length(ctx context.Context, queue string) (int64, error) {
	var n int64
	err := b.withRetry(ctx, "LLEN", func() error {
		var e error
		n, e = b.client.LLen(ctx, queue).Result()
		return e
	})
	return n, err
}

// Range returns up to count oldest blobs without removing them.
func (b *RedisBroker) Range(ctx context.Context, queue string, count int64) ([][]byte, error) {
	var vals []string
	err := b.withRetry(ctx, "LRANGE", func() error {
		var e error
		// The tail holds the oldest entries; LPUSH prepends.
		vals, e = b.client.LRange(ctx, queue, -count, -1).Result()
		return e
	})
	if err != nil {
		return nil, err
	}

	// Reverse so the oldest entry comes first.
	blobs := make([][]byte, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		blobs = append(blobs, []byte(vals[i]))
	}
	return blobs, nil
}

// Clear removes the list.
func (b *RedisBroker) Clear(ctx context.Context, queue string) error {
	return b.withRetry(ctx, "DEL", func() error {
		return b.client.Del(ctx, queue).Err()
	})
}

// Ping checks connectivity.
func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return types.ErrBrokerUnavailable("PING", err)
	}
	return nil
}

// Close releases the connection pool.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

// withRetry runs op with the short transport backoff. This backoff is
// independent of message-level retries.
func (b *RedisBroker) withRetry(ctx context.Context, operation string, op func() error) error {
	attempts := b.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = op()
		if err == nil || errors.Is(err, redis.Nil) {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		if i < attempts-1 {
			select {
			case <-time.After(b.retryBackoff * time.Duration(i+1)):
			case <-ctx.Done():
				return types.ErrBrokerUnavailable(operation, ctx.Err())
			}
		}
	}
	return types.ErrBrokerUnavailable(operation, err)
}
