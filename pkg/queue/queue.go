package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/meftunca/courier/pkg/broker"
	"github.com/meftunca/courier/pkg/codec"
	"github.com/meftunca/courier/pkg/types"
)

// Queue is the FIFO delivery queue client. Each priority tier is a distinct
// broker list; dequeue drains lower-numbered tiers first. Within one tier,
// enqueue order is preserved. No ordering holds across tiers or across
// consumers racing to dequeue.
type Queue struct {
	broker   broker.Broker
	name     string
	wire     *codec.WireCodec
	comp     *codec.Compressor
	maxBytes int

	// tier keys in priority order, computed once
	tierKeys []string
}

// Options configures queue construction.
type Options struct {
	Name                 string
	MaxPayloadBytes      int
	JSONLibrary          codec.JSONLibrary
	Compression          codec.CompressionType
	CompressionThreshold int
}

// New creates a queue client over the given broker.
func New(b broker.Broker, opts Options) (*Queue, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	comp, err := codec.NewCompressor(opts.Compression, opts.CompressionThreshold)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		broker:   b,
		name:     opts.Name,
		wire:     codec.NewWireCodec(opts.JSONLibrary),
		comp:     comp,
		maxBytes: opts.MaxPayloadBytes,
	}

	for p := types.PriorityHighest; p <= types.PriorityLowest; p++ {
		q.tierKeys = append(q.tierKeys, q.tierKey(p))
	}
	return q, nil
}

func (q *Queue) tierKey(p types.Priority) string {
	return fmt.Sprintf("%s:p%02d", q.name, p)
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Enqueue validates, encodes, and pushes the envelope onto its priority
// tier. Returns the envelope id as the message id.
func (q *Queue) Enqueue(ctx context.Context, env *types.Envelope) (types.EnvelopeID, error) {
	if err := env.Validate(q.maxBytes); err != nil {
		return "", err
	}

	data, err := q.wire.EncodeEnvelope(env)
	if err != nil {
		return "", err
	}
	blob, err := q.comp.Compress(data)
	if err != nil {
		return "", types.ErrValidation("envelope compression failed").WithCause(err)
	}

	if err := q.broker.PushLeft(ctx, q.tierKey(env.Priority), blob); err != nil {
		return "", err
	}
	return env.ID, nil
}

// Dequeue blocks up to timeout for the next envelope, draining priority
// tiers lowest-number-first. Returns (nil, nil) when no work is available;
// that is the normal idle signal, not an error. A cancelled context or zero
// timeout returns immediately.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*types.Envelope, error) {
	if ctx.Err() != nil {
		return nil, nil
	}

	blob, err := q.broker.PopRightBlocking(ctx, q.tierKeys, timeout)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, nil
	}
	return q.decode(blob)
}

// Peek returns up to count envelopes without removing them, scanning tiers
// in priority order.
func (q *Queue) Peek(ctx context.Context, count int) ([]*types.Envelope, error) {
	envelopes := make([]*types.Envelope, 0, count)
	for _, key := range q.tierKeys {
		if len(envelopes) >= count {
			break
		}
		blobs, err := q.broker.Range(ctx, key, int64(count-len(envelopes)))
		if err != nil {
			return nil, err
		}
		for _, blob := range blobs {
			env, err := q.decode(blob)
			if err != nil {
				return nil, err
			}
			envelopes = append(envelopes, env)
		}
	}
	return envelopes, nil
}

// Size returns the total number of queued envelopes across all tiers.
func (q *Queue) Size(ctx context.Context) (int, error) {
	total := int64(0)
	for _, key := range q.tierKeys {
		n, err := q.broker.Length(ctx, key)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return int(total), nil
}

// Clear drops all tiers.
func (q *Queue) Clear(ctx context.Context) error {
	for _, key := range q.tierKeys {
		if err := q.broker.Clear(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) decode(blob []byte) (*types.Envelope, error) {
	data, err := q.comp.Decompress(blob)
	if err != nil {
		return nil, types.ErrValidation("envelope decompression failed").WithCause(err)
	}
	return q.wire.DecodeEnvelope(data)
}
