package collab

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryStoreShards = 16

type memoryShard struct {
	mu    sync.Mutex
	locks map[DocumentKey]Lock
}

// MemoryLockStore keeps the lock table in process memory. Keys are spread
// over a fixed set of mutex-guarded shards so contention on one document
// never serializes requests for another.
type MemoryLockStore struct {
	shards [memoryStoreShards]*memoryShard
}

// NewMemoryLockStore returns an empty in-memory lock table.
func NewMemoryLockStore() *MemoryLockStore {
	store := &MemoryLockStore{}
	for i := range store.shards {
		store.shards[i] = &memoryShard{locks: make(map[DocumentKey]Lock)}
	}
	return store
}

func (s *MemoryLockStore) shardFor(key DocumentKey) *memoryShard {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(key.String()))
	return s.shards[hasher.Sum32()%memoryStoreShards]
}

// Acquire implements LockStore.
func (s *MemoryLockStore) Acquire(_ context.Context, key DocumentKey, owner Owner, now time.Time, ttl time.Duration) (AcquireOutcome, error) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	existing, ok := shard.locks[key]
	if ok && existing.Live(now) {
		if !existing.OwnedBy(owner.UserID) {
			return AcquireOutcome{Granted: false, Lock: existing}, nil
		}
		existing.LockedByName = owner.DisplayName
		existing.ExpiresAt = now.Add(ttl)
		shard.locks[key] = existing
		return AcquireOutcome{Granted: true, Lock: existing}, nil
	}

	granted := Lock{
		Key:          key,
		LockedBy:     owner.UserID,
		LockedByName: owner.DisplayName,
		LockedAt:     now,
		ExpiresAt:    now.Add(ttl),
	}
	shard.locks[key] = granted
	return AcquireOutcome{Granted: true, Lock: granted, Evicted: ok}, nil
}

// Release implements LockStore.
func (s *MemoryLockStore) Release(_ context.Context, key DocumentKey, userID string, now time.Time) (Lock, bool, error) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	existing, ok := shard.locks[key]
	if !ok || !existing.Live(now) || !existing.OwnedBy(userID) {
		return Lock{}, false, nil
	}
	delete(shard.locks, key)
	return existing, true, nil
}

// Renew implements LockStore.
func (s *MemoryLockStore) Renew(_ context.Context, key DocumentKey, userID string, now time.Time, ttl time.Duration) (Lock, bool, error) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	existing, ok := shard.locks[key]
	if !ok || !existing.Live(now) || !existing.OwnedBy(userID) {
		return Lock{}, false, nil
	}
	existing.ExpiresAt = now.Add(ttl)
	shard.locks[key] = existing
	return existing, true, nil
}

// ForceRelease implements LockStore.
func (s *MemoryLockStore) ForceRelease(_ context.Context, key DocumentKey) (Lock, bool, error) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	existing, ok := shard.locks[key]
	if !ok {
		return Lock{}, false, nil
	}
	delete(shard.locks, key)
	return existing, true, nil
}

// Transfer implements LockStore.
func (s *MemoryLockStore) Transfer(_ context.Context, key DocumentKey, owner Owner, now time.Time, ttl time.Duration) (Lock, *Lock, error) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	var prior *Lock
	if existing, ok := shard.locks[key]; ok {
		replaced := existing
		prior = &replaced
	}
	granted := Lock{
		Key:          key,
		LockedBy:     owner.UserID,
		LockedByName: owner.DisplayName,
		LockedAt:     now,
		ExpiresAt:    now.Add(ttl),
	}
	shard.locks[key] = granted
	return granted, prior, nil
}

// Get implements LockStore.
func (s *MemoryLockStore) Get(_ context.Context, key DocumentKey, now time.Time) (Lock, bool, error) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	existing, ok := shard.locks[key]
	if !ok || !existing.Live(now) {
		return Lock{}, false, nil
	}
	return existing, true, nil
}

// SweepExpired implements LockStore.
func (s *MemoryLockStore) SweepExpired(_ context.Context, now time.Time) ([]Lock, error) {
	var removed []Lock
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, existing := range shard.locks {
			if !existing.Live(now) {
				removed = append(removed, existing)
				delete(shard.locks, key)
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}
