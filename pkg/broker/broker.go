package broker

import (
	"context"
	"time"
)

// Broker is the ordered-list store backing the delivery queue. Any store
// with list push/pop semantics and a blocking pop can implement it.
type Broker interface {
	// PushLeft prepends a blob to the named list.
	PushLeft(ctx context.Context, queue string, blob []byte) error

	// PopRightBlocking pops the oldest blob from the first non-empty list
	// in queues, blocking up to timeout. Returns (nil, nil) on timeout;
	// that is the normal "no work available" signal, not an error.
	PopRightBlocking(ctx context.Context, queues []string, timeout time.Duration) ([]byte, error)

	// Length returns the number of blobs in the named list.
	Length(ctx context.Context, queue string) (int64, error)

	// Range returns up to count blobs from the tail (oldest first) without
	// removing them.
	Range(ctx context.Context, queue string, count int64) ([][]byte, error)

	// Clear removes the named list entirely.
	Clear(ctx context.Context, queue string) error

	// Ping checks broker connectivity.
	Ping(ctx context.Context) error

	// Close releases broker resources.
	Close() error
}
