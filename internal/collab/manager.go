package collab

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultLockTTL bounds how long an unrenewed lock is honored. The value
	// is a contract with the editor countdown, not a tunable to change lightly.
	DefaultLockTTL = 5 * time.Minute
	// DefaultReaperInterval is how often expired locks are swept.
	DefaultReaperInterval = 5 * time.Second
)

var (
	errMissingStore = errors.New("lock store is required")
	noOpLogger      = zap.NewNop()
)

const (
	opRequestLock  = "collab.request_lock"
	opReleaseLock  = "collab.release_lock"
	opRenewLock    = "collab.renew_lock"
	opForceUnlock  = "collab.force_unlock"
	opTransferLock = "collab.transfer_lock"
	opGetLock      = "collab.get_lock"
	opReapLocks    = "collab.reap_locks"
)

// LockEvent describes a lock state change for fan-out to watching sessions.
type LockEvent struct {
	Key DocumentKey
	// Lock is the record now in force, nil after a release or expiry.
	Lock *Lock
	// Dispossessed names the prior holder when the change removed someone
	// else's lock (force-unlock, transfer, expiry).
	Dispossessed *Lock
	// Reason carries the administrative justification for a force-unlock.
	Reason string
}

// PresenceEvent describes a viewer-set change for fan-out.
type PresenceEvent struct {
	Key     DocumentKey
	Viewers []Viewer
}

// Broadcaster delivers collaboration events to every session subscribed to a
// key. Implementations must not block: managers publish after the per-key
// mutation has committed and expect best-effort delivery.
type Broadcaster interface {
	PublishLock(event LockEvent)
	PublishPresence(event PresenceEvent)
}

// NopBroadcaster discards events; useful for tests and tools.
type NopBroadcaster struct{}

// PublishLock implements Broadcaster.
func (NopBroadcaster) PublishLock(LockEvent) {}

// PublishPresence implements Broadcaster.
func (NopBroadcaster) PublishPresence(PresenceEvent) {}

// LockManagerConfig describes the dependencies of the LockManager.
type LockManagerConfig struct {
	Store          LockStore
	Broadcaster    Broadcaster
	TTL            time.Duration
	ReaperInterval time.Duration
	Clock          func() time.Time
	Logger         *zap.Logger
	Metrics        *Metrics
}

// LockManager enacts the request/release/renew/force-unlock protocol over a
// LockStore and announces every state change through the Broadcaster.
type LockManager struct {
	store          LockStore
	broadcaster    Broadcaster
	ttl            time.Duration
	reaperInterval time.Duration
	clock          func() time.Time
	logger         *zap.Logger
	metrics        *Metrics
}

// NewLockManager constructs a LockManager with sane defaults.
func NewLockManager(cfg LockManagerConfig) (*LockManager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	interval := cfg.ReaperInterval
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &LockManager{
		store:          cfg.Store,
		broadcaster:    broadcaster,
		ttl:            ttl,
		reaperInterval: interval,
		clock:          clock,
		logger:         logger,
		metrics:        cfg.Metrics,
	}, nil
}

// TTL exposes the configured lock lifetime so transports can report it.
func (m *LockManager) TTL() time.Duration {
	return m.ttl
}

// RequestLock attempts to acquire the lock for owner. A request by the
// current holder renews the hold; a request while another user holds a live
// lock is the expected contention outcome, not an error.
func (m *LockManager) RequestLock(ctx context.Context, key DocumentKey, owner Owner) (AcquireOutcome, error) {
	now := m.clock().UTC()
	outcome, err := m.store.Acquire(ctx, key, owner, now, m.ttl)
	if err != nil {
		m.logError(opRequestLock, "store_failed", err, key)
		return AcquireOutcome{}, err
	}
	if !outcome.Granted {
		if m.metrics != nil {
			m.metrics.LockContentions.Inc()
		}
		return outcome, nil
	}
	if m.metrics != nil {
		m.metrics.LockGrants.Inc()
		// A grant that evicted an expired record replaces a lock the gauge
		// still counts; only a grant on a truly free key adds one.
		if outcome.Lock.LockedAt.Equal(now) && !outcome.Evicted {
			m.metrics.ActiveLocksGauge.Inc()
		}
	}
	granted := outcome.Lock
	m.broadcaster.PublishLock(LockEvent{Key: key, Lock: &granted})
	return outcome, nil
}

// ReleaseLock removes the lock when userID owns it. Releasing a lock that is
// absent, expired, or owned by someone else is a no-op returning false.
func (m *LockManager) ReleaseLock(ctx context.Context, key DocumentKey, userID string) (bool, error) {
	now := m.clock().UTC()
	_, released, err := m.store.Release(ctx, key, userID, now)
	if err != nil {
		m.logError(opReleaseLock, "store_failed", err, key)
		return false, err
	}
	if !released {
		return false, nil
	}
	if m.metrics != nil {
		m.metrics.ActiveLocksGauge.Dec()
	}
	m.broadcaster.PublishLock(LockEvent{Key: key})
	return true, nil
}

// Renew extends the expiry of a live lock held by userID. It is the explicit
// heartbeat for long edits; ownership checks match ReleaseLock.
func (m *LockManager) Renew(ctx context.Context, key DocumentKey, userID string) (Lock, bool, error) {
	now := m.clock().UTC()
	renewed, ok, err := m.store.Renew(ctx, key, userID, now, m.ttl)
	if err != nil {
		m.logError(opRenewLock, "store_failed", err, key)
		return Lock{}, false, err
	}
	if !ok {
		return Lock{}, false, nil
	}
	if m.metrics != nil {
		m.metrics.LockGrants.Inc()
	}
	m.broadcaster.PublishLock(LockEvent{Key: key, Lock: &renewed})
	return renewed, true, nil
}

// ForceUnlock removes any lock on the key regardless of owner. The caller
// must already have verified admin privilege. The previous holder is carried
// in the broadcast so the dispossessed client can surface a notice.
// Forcing a key with no lock succeeds idempotently.
func (m *LockManager) ForceUnlock(ctx context.Context, key DocumentKey, adminUserID, reason string) (bool, error) {
	prior, removed, err := m.store.ForceRelease(ctx, key)
	if err != nil {
		m.logError(opForceUnlock, "store_failed", err, key)
		return false, err
	}
	event := LockEvent{Key: key, Reason: reason}
	if removed {
		dispossessed := prior
		event.Dispossessed = &dispossessed
		if m.metrics != nil {
			m.metrics.ForceUnlocks.Inc()
			m.metrics.ActiveLocksGauge.Dec()
		}
	}
	m.broadcaster.PublishLock(event)
	m.logger.Info("lock force-unlocked",
		zap.String("operation", opForceUnlock),
		zap.String("document", key.String()),
		zap.String("admin_user_id", adminUserID),
		zap.String("reason", reason),
		zap.Bool("lock_removed", removed),
	)
	return removed, nil
}

// TransferLock atomically hands the lock to a new owner, dispossessing the
// current holder if one exists. This replaces the race-prone client pattern
// of releasing, sleeping, and re-requesting to take control.
func (m *LockManager) TransferLock(ctx context.Context, key DocumentKey, owner Owner) (Lock, *Lock, error) {
	now := m.clock().UTC()
	granted, prior, err := m.store.Transfer(ctx, key, owner, now, m.ttl)
	if err != nil {
		m.logError(opTransferLock, "store_failed", err, key)
		return Lock{}, nil, err
	}
	// The store hands back whatever record the transfer replaced. Only a
	// live record means someone was dispossessed; an expired one was already
	// counted by the gauge and merely changes hands.
	var dispossessed *Lock
	if prior != nil && prior.Live(now) {
		dispossessed = prior
	}
	if m.metrics != nil {
		m.metrics.LockGrants.Inc()
		if prior == nil {
			m.metrics.ActiveLocksGauge.Inc()
		}
	}
	lock := granted
	m.broadcaster.PublishLock(LockEvent{Key: key, Lock: &lock, Dispossessed: dispossessed})
	return granted, dispossessed, nil
}

// GetLock returns the live lock for the key, if any.
func (m *LockManager) GetLock(ctx context.Context, key DocumentKey) (Lock, bool, error) {
	lock, ok, err := m.store.Get(ctx, key, m.clock().UTC())
	if err != nil {
		m.logError(opGetLock, "store_failed", err, key)
		return Lock{}, false, err
	}
	return lock, ok, err
}

// RunReaper sweeps expired locks until the context is cancelled. Each
// reclaimed lock produces a release broadcast, so clients waiting on a stale
// holder learn the key is free without issuing another request.
func (m *LockManager) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(m.reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapOnce(ctx)
		}
	}
}

func (m *LockManager) reapOnce(ctx context.Context) {
	now := m.clock().UTC()
	expired, err := m.store.SweepExpired(ctx, now)
	if err != nil {
		m.logError(opReapLocks, "sweep_failed", err, DocumentKey{})
	}
	for _, lock := range expired {
		dispossessed := lock
		if m.metrics != nil {
			m.metrics.LockExpirations.Inc()
			m.metrics.ActiveLocksGauge.Dec()
		}
		m.broadcaster.PublishLock(LockEvent{Key: lock.Key, Dispossessed: &dispossessed})
		m.logger.Debug("expired lock reclaimed",
			zap.String("operation", opReapLocks),
			zap.String("document", lock.Key.String()),
			zap.String("locked_by", lock.LockedBy),
		)
	}
}

func (m *LockManager) logError(operation, reason string, err error, key DocumentKey) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	if !key.Zero() {
		fields = append(fields, zap.String("document", key.String()))
	}
	m.logger.Error("lock manager error", fields...)
}
