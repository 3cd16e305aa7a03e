package dlq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meftunca/courier/pkg/codec"
	"github.com/meftunca/courier/pkg/types"
)

// RedisEntryStore persists entries in a Redis-compatible store: one key per
// serialized entry plus a sorted-set index scored by failed_at for the
// time-ordered scans.
type RedisEntryStore struct {
	client     redis.UniversalClient
	serializer codec.Serializer

	entryPrefix string
	indexKey    string
}

// NewRedisEntryStore creates a redis-backed entry store. keyPrefix
// namespaces all keys; the serializer controls the archive format.
func NewRedisEntryStore(client redis.UniversalClient, keyPrefix string, serializer codec.Serializer) *RedisEntryStore {
	if keyPrefix == "" {
		keyPrefix = "courier"
	}
	return &RedisEntryStore{
		client:      client,
		serializer:  serializer,
		entryPrefix: fmt.Sprintf("%s:dlq:entry:", keyPrefix),
		indexKey:    fmt.Sprintf("%s:dlq:index", keyPrefix),
	}
}

// Insert persists an entry and indexes it by failed_at.
func (r *RedisEntryStore) Insert(ctx context.Context, entry *Entry) error {
	data, err := r.serializer.Marshal(entry)
	if err != nil {
		return fmt.Errorf("dlq entry serialization failed: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.entryPrefix+entry.EntryID, data, 0)
	pipe.ZAdd(ctx, r.indexKey, redis.Z{
		Score:  float64(entry.FailedAt),
		Member: entry.EntryID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return types.ErrBrokerUnavailable("DLQ SET", err)
	}
	return nil
}

// Get returns the entry or NOT_FOUND.
func (r *RedisEntryStore) Get(ctx context.Context, entryID string) (*Entry, error) {
	data, err := r.client.Get(ctx, r.entryPrefix+entryID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, types.ErrNotFound("dead letter entry", entryID)
		}
		return nil, types.ErrBrokerUnavailable("DLQ GET", err)
	}

	entry := &Entry{}
	if err := r.serializer.Unmarshal(data, entry); err != nil {
		return nil, fmt.Errorf("dlq entry deserialization failed: %w", err)
	}
	return entry, nil
}

// Delete removes the entry and its index member, or returns NOT_FOUND.
func (r *RedisEntryStore) Delete(ctx context.Context, entryID string) error {
	removed, err := r.client.Del(ctx, r.entryPrefix+entryID).Result()
	if err != nil {
		return types.ErrBrokerUnavailable("DLQ DEL", err)
	}
	if removed == 0 {
		return types.ErrNotFound("dead letter entry", entryID)
	}
	if err := r.client.ZRem(ctx, r.indexKey, entryID).Err(); err != nil {
		return types.ErrBrokerUnavailable("DLQ ZREM", err)
	}
	return nil
}

// List returns up to limit entries, most-recent-first by failed_at.
func (r *RedisEntryStore) List(ctx context.Context, limit int) ([]*Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := r.client.ZRevRange(ctx, r.indexKey, 0, stop).Result()
	if err != nil {
		return nil, types.ErrBrokerUnavailable("DLQ ZREVRANGE", err)
	}
	return r.fetch(ctx, ids)
}

// OlderThan returns all entries that failed before cutoff.
func (r *RedisEntryStore) OlderThan(ctx context.Context, cutoff time.Time) ([]*Entry, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.indexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, types.ErrBrokerUnavailable("DLQ ZRANGEBYSCORE", err)
	}
	return r.fetch(ctx, ids)
}

// Count returns the number of indexed entries.
func (r *RedisEntryStore) Count(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.indexKey).Result()
	if err != nil {
		return 0, types.ErrBrokerUnavailable("DLQ ZCARD", err)
	}
	return int(n), nil
}

func (r *RedisEntryStore) fetch(ctx context.Context, ids []string) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := r.Get(ctx, id)
		if err != nil {
			// Index member without a live entry: a concurrent delete won the
			// race. Drop the stale member and continue.
			if ce, ok := err.(*types.CourierError); ok && ce.Code == types.ErrCodeNotFound {
				r.client.ZRem(ctx, r.indexKey, id)
				continue
			}
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
