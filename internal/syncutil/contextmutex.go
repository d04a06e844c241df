// Package syncutil holds small concurrency helpers shared across services.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ContextShardedMutex is a fixed pool of channel-based locks keyed by
// string. Unlike sync.Mutex, acquisition can be abandoned when the
// caller's context is cancelled. Event ingest locks on the merchant ID so
// the quota check-then-insert cannot race with itself, without one hot
// merchant blocking the rest.
//
// Keys that hash to the same shard share a lock; callers only get more
// contention, never less safety.
type ContextShardedMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewContextShardedMutex returns a ready-to-use sharded mutex.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			ch := make(chan struct{}, 1)
			ch <- struct{}{} // starts unlocked
			m.shards[i] = ch
		}
	})
}

// LockContext acquires the lock for key, or gives up when ctx is done.
// On success the returned func releases the lock and must be called
// exactly once; on cancellation it returns nil and the context error.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := m.shards[shardFor(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
