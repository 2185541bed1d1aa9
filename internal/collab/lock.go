package collab

import (
	"context"
	"time"
)

// Owner identifies the user a lock is granted to. The display name is
// denormalized into the lock record so watchers can render the holder
// without a directory round-trip.
type Owner struct {
	UserID      string
	DisplayName string
}

// Lock is the authoritative record of exclusive edit access to a document.
// At most one live Lock exists per DocumentKey; only the LockManager mutates it.
type Lock struct {
	Key          DocumentKey
	LockedBy     string
	LockedByName string
	LockedAt     time.Time
	ExpiresAt    time.Time
}

// Live reports whether the lock has not yet expired at the given instant.
func (l Lock) Live(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// OwnedBy reports whether the lock belongs to the given user.
func (l Lock) OwnedBy(userID string) bool {
	return l.LockedBy == userID
}

// AcquireOutcome is the result of an atomic check-and-set on a key.
// When Granted is false, Lock carries the record blocking the caller.
// Evicted reports that the grant displaced an expired record the sweep
// had not reclaimed yet; gauge accounting depends on the distinction.
type AcquireOutcome struct {
	Granted bool
	Lock    Lock
	Evicted bool
}

// LockStore is the authoritative table mapping a DocumentKey to at most one
// lock record. Implementations must make each method atomic per key; callers
// (the LockManager) supply the clock so stores hold no time policy of their own.
type LockStore interface {
	// Acquire grants the lock when the key is free, the existing lock has
	// expired, or the caller already owns it (self-renewal).
	Acquire(ctx context.Context, key DocumentKey, owner Owner, now time.Time, ttl time.Duration) (AcquireOutcome, error)

	// Release removes the lock only when owned by userID. The removed lock
	// and true are returned on success; false means no state changed.
	Release(ctx context.Context, key DocumentKey, userID string, now time.Time) (Lock, bool, error)

	// Renew extends the expiry of a live lock owned by userID.
	Renew(ctx context.Context, key DocumentKey, userID string, now time.Time, ttl time.Duration) (Lock, bool, error)

	// ForceRelease removes any lock for the key regardless of owner,
	// returning the prior record when one existed.
	ForceRelease(ctx context.Context, key DocumentKey) (Lock, bool, error)

	// Transfer replaces the current holder (if any) with the new owner in a
	// single step. The prior record is returned whether it was live or
	// expired; callers check liveness to decide whether anyone was
	// dispossessed.
	Transfer(ctx context.Context, key DocumentKey, owner Owner, now time.Time, ttl time.Duration) (Lock, *Lock, error)

	// Get returns the live lock for the key, if any. Expired records are
	// reported as absent but are left for the sweep to remove.
	Get(ctx context.Context, key DocumentKey, now time.Time) (Lock, bool, error)

	// SweepExpired removes every lock whose expiry has passed and returns
	// the removed records so the caller can notify watchers.
	SweepExpired(ctx context.Context, now time.Time) ([]Lock, error)
}
