package broker

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is an in-process Broker used by tests and single-node
// deployments without an external store.
type MemoryBroker struct {
	mu     sync.Mutex
	lists  map[string][][]byte
	notify chan struct{}
	closed bool
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		lists:  make(map[string][][]byte),
		notify: make(chan struct{}, 1),
	}
}

// PushLeft prepends a blob to the named list.
func (b *MemoryBroker) PushLeft(ctx context.Context, queue string, blob []byte) error {
	cp := make([]byte, len(blob))
	copy(cp, blob)

	b.mu.Lock()
	b.lists[queue] = append([][]byte{cp}, b.lists[queue]...)
	b.mu.Unlock()

	b.wake()
	return nil
}

// wake signals one blocked consumer. The buffered channel coalesces
// signals, so poppers re-arm it while work remains.
func (b *MemoryBroker) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// PopRightBlocking pops the oldest blob from the first non-empty queue,
// blocking up to timeout. Returns (nil, nil) on timeout or cancellation.
func (b *MemoryBroker) PopRightBlocking(ctx context.Context, queues []string, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if blob := b.tryPop(queues); blob != nil {
			return blob, nil
		}
		if timeout <= 0 {
			return nil, nil
		}

		select {
		case <-b.notify:
			// new data somewhere, try again
		case <-deadline.C:
			return nil, nil
		case <-ctx.Done():
			return nil, nil
		}
	}
}

func (b *MemoryBroker) tryPop(queues []string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range queues {
		list := b.lists[q]
		if len(list) == 0 {
			continue
		}
		blob := list[len(list)-1]
		b.lists[q] = list[:len(list)-1]

		// Hand the wakeup on: a concurrent push may have found the
		// notify buffer full while another waiter still sleeps.
		for _, rest := range b.lists {
			if len(rest) > 0 {
				b.wake()
				break
			}
		}
		return blob
	}
	return nil
}

// Length returns the list length.
func (b *MemoryBroker) Length(ctx context.Context, queue string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.lists[queue])), nil
}

// Range returns up to count oldest blobs without removing them.
func (b *MemoryBroker) Range(ctx context.Context, queue string, count int64) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.lists[queue]
	n := int64(len(list))
	if count < n {
		n = count
	}

	out := make([][]byte, 0, n)
	for i := int64(0); i < n; i++ {
		// oldest entries live at the tail
		out = append(out, list[int64(len(list))-1-i])
	}
	return out, nil
}

// Clear removes the named list.
func (b *MemoryBroker) Clear(ctx context.Context, queue string) error {
	b.mu.Lock()
	delete(b.lists, queue)
	b.mu.Unlock()
	return nil
}

// Ping always succeeds for the in-memory broker.
func (b *MemoryBroker) Ping(ctx context.Context) error {
	return nil
}

// Close marks the broker closed.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
