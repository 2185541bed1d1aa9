package collab

import (
	"sort"
	"sync"
)

// Viewer records one connection looking at a document. A user with several
// tabs open contributes one Viewer per connection; display readers should
// use the de-duplicated listing.
type Viewer struct {
	Key          DocumentKey
	UserID       string
	Name         string
	ConnectionID string
}

// PresenceTracker is the authoritative table of who is viewing which
// document. Presence carries no mutual-exclusion semantics; it exists purely
// to inform users who else has a record open.
type PresenceTracker struct {
	mu      sync.RWMutex
	viewers map[DocumentKey]map[string]Viewer
}

// NewPresenceTracker returns an empty presence table.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{viewers: make(map[DocumentKey]map[string]Viewer)}
}

// Add registers a viewer; repeated adds for the same (key, connection) pair
// refresh the record in place. The return value reports whether the entry
// was new.
func (t *PresenceTracker) Add(viewer Viewer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	byConnection, ok := t.viewers[viewer.Key]
	if !ok {
		byConnection = make(map[string]Viewer)
		t.viewers[viewer.Key] = byConnection
	}
	_, existed := byConnection[viewer.ConnectionID]
	byConnection[viewer.ConnectionID] = viewer
	return !existed
}

// Remove drops the viewer entry for the connection, reporting whether an
// entry existed.
func (t *PresenceTracker) Remove(key DocumentKey, connectionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	byConnection, ok := t.viewers[key]
	if !ok {
		return false
	}
	if _, present := byConnection[connectionID]; !present {
		return false
	}
	delete(byConnection, connectionID)
	if len(byConnection) == 0 {
		delete(t.viewers, key)
	}
	return true
}

// Viewers returns the current viewers of a key de-duplicated by user, in a
// stable order for rendering.
func (t *PresenceTracker) Viewers(key DocumentKey) []Viewer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	byConnection, ok := t.viewers[key]
	if !ok {
		return nil
	}
	byUser := make(map[string]Viewer, len(byConnection))
	for _, viewer := range byConnection {
		byUser[viewer.UserID] = viewer
	}
	deduplicated := make([]Viewer, 0, len(byUser))
	for _, viewer := range byUser {
		deduplicated = append(deduplicated, viewer)
	}
	sort.Slice(deduplicated, func(i, j int) bool {
		return deduplicated[i].UserID < deduplicated[j].UserID
	})
	return deduplicated
}
