package collab

import (
	"context"
	"testing"
	"time"
)

var storeEpoch = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryStoreGrantsFreeKey(t *testing.T) {
	store := NewMemoryLockStore()
	key := mustKey(t, "case_study", "cs-1")

	outcome, err := store.Acquire(context.Background(), key, Owner{UserID: "user-a", DisplayName: "Ada"}, storeEpoch, 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Granted {
		t.Fatalf("expected grant on free key")
	}
	if outcome.Lock.LockedBy != "user-a" || outcome.Lock.LockedByName != "Ada" {
		t.Fatalf("unexpected lock owner: %+v", outcome.Lock)
	}
	if !outcome.Lock.ExpiresAt.Equal(storeEpoch.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", outcome.Lock.ExpiresAt)
	}
	if outcome.Evicted {
		t.Fatalf("grant on a free key must not report an eviction")
	}
}

func TestMemoryStoreSelfAcquireExtendsExpiry(t *testing.T) {
	store := NewMemoryLockStore()
	key := mustKey(t, "case_study", "cs-1")
	owner := Owner{UserID: "user-a", DisplayName: "Ada"}

	first, err := store.Acquire(context.Background(), key, owner, storeEpoch, 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := store.Acquire(context.Background(), key, owner, storeEpoch.Add(time.Minute), 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Granted {
		t.Fatalf("expected self-renewal to be granted")
	}
	if !second.Lock.LockedAt.Equal(first.Lock.LockedAt) {
		t.Fatalf("renewal must not reset locked-at")
	}
	if !second.Lock.ExpiresAt.Equal(storeEpoch.Add(6 * time.Minute)) {
		t.Fatalf("expected extended expiry, got %v", second.Lock.ExpiresAt)
	}
}

func TestMemoryStoreSelfAcquireRefreshesDisplayName(t *testing.T) {
	store := NewMemoryLockStore()
	key := mustKey(t, "case_study", "cs-1")

	if _, err := store.Acquire(context.Background(), key, Owner{UserID: "user-a", DisplayName: "Ada"}, storeEpoch, 5*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	renamed, err := store.Acquire(context.Background(), key, Owner{UserID: "user-a", DisplayName: "Ada Lovelace"}, storeEpoch.Add(time.Minute), 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if renamed.Lock.LockedByName != "Ada Lovelace" {
		t.Fatalf("self-renewal must carry the current display name, got %q", renamed.Lock.LockedByName)
	}
}

func TestMemoryStoreContendedKeyReportsHolder(t *testing.T) {
	store := NewMemoryLockStore()
	key := mustKey(t, "event", "ev-1")

	if _, err := store.Acquire(context.Background(), key, Owner{UserID: "user-a", DisplayName: "Ada"}, storeEpoch, 5*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome, err := store.Acquire(context.Background(), key, Owner{UserID: "user-b", DisplayName: "Ben"}, storeEpoch.Add(time.Second), 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Granted {
		t.Fatalf("expected contention on held key")
	}
	if outcome.Lock.LockedBy != "user-a" {
		t.Fatalf("expected existing holder in outcome, got %q", outcome.Lock.LockedBy)
	}
}

func TestMemoryStoreExpiredLockIsAcquirable(t *testing.T) {
	store := NewMemoryLockStore()
	key := mustKey(t, "event", "ev-1")

	if _, err := store.Acquire(context.Background(), key, Owner{UserID: "user-a"}, storeEpoch, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome, err := store.Acquire(context.Background(), key, Owner{UserID: "user-b", DisplayName: "Ben"}, storeEpoch.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Granted {
		t.Fatalf("expected expired lock to be acquirable without explicit release")
	}
	if outcome.Lock.LockedBy != "user-b" {
		t.Fatalf("expected new owner, got %q", outcome.Lock.LockedBy)
	}
	if !outcome.Evicted {
		t.Fatalf("grant over an expired record must report the eviction")
	}
}

func TestMemoryStoreReleaseRequiresOwner(t *testing.T) {
	store := NewMemoryLockStore()
	key := mustKey(t, "case_study", "cs-1")

	if _, err := store.Acquire(context.Background(), key, Owner{UserID: "user-a"}, storeEpoch, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, released, _ := store.Release(context.Background(), key, "user-b", storeEpoch.Add(time.Second)); released {
		t.Fatalf("non-owner release must be a no-op")
	}
	if _, ok, _ := store.Get(context.Background(), key, storeEpoch.Add(time.Second)); !ok {
		t.Fatalf("lock must survive a non-owner release")
	}
	removed, released, err := store.Release(context.Background(), key, "user-a", storeEpoch.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !released || removed.LockedBy != "user-a" {
		t.Fatalf("owner release failed: released=%v lock=%+v", released, removed)
	}
}

func TestMemoryStoreTransferDispossessesHolder(t *testing.T) {
	store := NewMemoryLockStore()
	key := mustKey(t, "case_study", "cs-1")

	if _, err := store.Acquire(context.Background(), key, Owner{UserID: "user-a", DisplayName: "Ada"}, storeEpoch, 5*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	granted, prior, err := store.Transfer(context.Background(), key, Owner{UserID: "user-b", DisplayName: "Ben"}, storeEpoch.Add(time.Second), 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if granted.LockedBy != "user-b" {
		t.Fatalf("expected new owner after transfer, got %q", granted.LockedBy)
	}
	if prior == nil || prior.LockedBy != "user-a" {
		t.Fatalf("expected dispossessed prior holder, got %+v", prior)
	}
}

func TestMemoryStoreTransferReturnsExpiredPrior(t *testing.T) {
	store := NewMemoryLockStore()
	key := mustKey(t, "event", "ev-1")

	if _, err := store.Acquire(context.Background(), key, Owner{UserID: "user-a", DisplayName: "Ada"}, storeEpoch, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	granted, prior, err := store.Transfer(context.Background(), key, Owner{UserID: "user-b", DisplayName: "Ben"}, storeEpoch.Add(2*time.Minute), 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if granted.LockedBy != "user-b" {
		t.Fatalf("expected new owner after transfer, got %q", granted.LockedBy)
	}
	if prior == nil || prior.LockedBy != "user-a" {
		t.Fatalf("transfer must return the replaced record even when expired, got %+v", prior)
	}
	if prior.Live(storeEpoch.Add(2 * time.Minute)) {
		t.Fatalf("replaced record should read as expired at transfer time")
	}

	// A transfer onto a genuinely free key carries no prior record.
	_, none, err := store.Transfer(context.Background(), mustKey(t, "event", "ev-free"), Owner{UserID: "user-b"}, storeEpoch, 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no prior on free key, got %+v", none)
	}
}

func TestMemoryStoreSweepRemovesOnlyExpired(t *testing.T) {
	store := NewMemoryLockStore()
	stale := mustKey(t, "case_study", "cs-stale")
	fresh := mustKey(t, "case_study", "cs-fresh")

	if _, err := store.Acquire(context.Background(), stale, Owner{UserID: "user-a"}, storeEpoch, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Acquire(context.Background(), fresh, Owner{UserID: "user-b"}, storeEpoch, time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	removed, err := store.SweepExpired(context.Background(), storeEpoch.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(removed) != 1 || removed[0].Key != stale {
		t.Fatalf("expected only the stale lock to be swept, got %+v", removed)
	}
	if _, ok, _ := store.Get(context.Background(), fresh, storeEpoch.Add(5*time.Minute)); !ok {
		t.Fatalf("fresh lock must survive the sweep")
	}
}
