package collab

import "time"

// Urgency classifies how much hold time remains, mirroring the badge colors
// the editors render. The band boundaries are part of the lock contract:
// clients compute the same value from the broadcast ExpiresAt.
type Urgency string

const (
	// UrgencyHealthy means at least three minutes remain.
	UrgencyHealthy Urgency = "healthy"
	// UrgencyWarning means between one and three minutes remain.
	UrgencyWarning Urgency = "warning"
	// UrgencyCritical means under a minute remains.
	UrgencyCritical Urgency = "critical"
	// UrgencyExpired means the lock has run out.
	UrgencyExpired Urgency = "expired"
)

const (
	healthyThresholdSeconds = 180
	warningThresholdSeconds = 60
)

// RemainingSeconds returns the whole seconds left on the lock, floored at zero.
func (l Lock) RemainingSeconds(now time.Time) int64 {
	remaining := l.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int64(remaining / time.Second)
}

// CountdownUrgency classifies the remaining hold time into a display band.
func CountdownUrgency(remainingSeconds int64) Urgency {
	switch {
	case remainingSeconds <= 0:
		return UrgencyExpired
	case remainingSeconds < warningThresholdSeconds:
		return UrgencyCritical
	case remainingSeconds < healthyThresholdSeconds:
		return UrgencyWarning
	default:
		return UrgencyHealthy
	}
}
