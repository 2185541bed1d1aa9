package collab

import (
	"go.uber.org/zap"
)

// PresenceManagerConfig describes the dependencies of the PresenceManager.
type PresenceManagerConfig struct {
	Tracker     *PresenceTracker
	Broadcaster Broadcaster
	Logger      *zap.Logger
	Metrics     *Metrics
}

// PresenceManager applies join/leave semantics over the PresenceTracker and
// announces viewer-set changes. It holds no locking state: presence never
// affects lock acquisition outcomes.
type PresenceManager struct {
	tracker     *PresenceTracker
	broadcaster Broadcaster
	logger      *zap.Logger
	metrics     *Metrics
}

// NewPresenceManager constructs a PresenceManager with sane defaults.
func NewPresenceManager(cfg PresenceManagerConfig) *PresenceManager {
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewPresenceTracker()
	}
	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &PresenceManager{
		tracker:     tracker,
		broadcaster: broadcaster,
		logger:      logger,
		metrics:     cfg.Metrics,
	}
}

// StartViewing records that a connection is viewing the document. Calls are
// idempotent per (key, connection); every call re-broadcasts the viewer set
// so a reconnecting client converges on the server state.
func (m *PresenceManager) StartViewing(key DocumentKey, viewer Viewer) {
	viewer.Key = key
	if m.tracker.Add(viewer) && m.metrics != nil {
		m.metrics.ViewersGauge.Inc()
	}
	m.broadcaster.PublishPresence(PresenceEvent{Key: key, Viewers: m.tracker.Viewers(key)})
}

// StopViewing removes the connection's viewer entry for the document.
func (m *PresenceManager) StopViewing(key DocumentKey, connectionID string) {
	if !m.tracker.Remove(key, connectionID) {
		return
	}
	if m.metrics != nil {
		m.metrics.ViewersGauge.Dec()
	}
	m.broadcaster.PublishPresence(PresenceEvent{Key: key, Viewers: m.tracker.Viewers(key)})
}

// Viewers returns the document's current viewers de-duplicated by user.
func (m *PresenceManager) Viewers(key DocumentKey) []Viewer {
	return m.tracker.Viewers(key)
}
