// Package voicecache gates how many TTS voice renders may exist on disk at
// once per track, admitting new voices when room exists and otherwise
// evicting the first idle non-default voice it finds.
package voicecache

import (
	"time"

	"github.com/duskcast/streamcore/internal/ttlcache"
)

// AccessInfo is the per-(track,voice) access record the Stream manager
// updates on every segment served.
type AccessInfo struct {
	LastAccess     time.Time
	SegmentCount   int
	UniqueSegments map[int]struct{}
}

// Tracker records and queries recency of access for each (track, voice)
// pair, backed by ttlcache.Store for automatic TTL-based expiry.
type Tracker struct {
	store *ttlcache.Store[AccessInfo]
}

// NewTracker creates a Tracker whose entries expire after idleTTL of no
// RecordAccess activity.
func NewTracker(idleTTL time.Duration) *Tracker {
	return &Tracker{store: ttlcache.New[AccessInfo](idleTTL)}
}

func trackerKey(trackID, voiceID string) string {
	return trackID + "/" + voiceID
}

// RecordAccess registers that segmentIndex of (trackID, voiceID) was just
// served, updating last-access time and the unique-segment set.
func (t *Tracker) RecordAccess(trackID, voiceID string, segmentIndex int) {
	key := trackerKey(trackID, voiceID)
	info, ok := t.store.Get(key)
	if !ok {
		info = AccessInfo{UniqueSegments: make(map[int]struct{})}
	}
	info.LastAccess = time.Now()
	info.SegmentCount++
	if info.UniqueSegments == nil {
		info.UniqueSegments = make(map[int]struct{})
	}
	info.UniqueSegments[segmentIndex] = struct{}{}
	t.store.Set(key, info)
}

// Get returns the access record for (trackID, voiceID), if any.
func (t *Tracker) Get(trackID, voiceID string) (AccessInfo, bool) {
	return t.store.Get(trackerKey(trackID, voiceID))
}

// IsIdle reports whether (trackID, voiceID) has had no recorded access
// within idleTimeout, or has never been accessed at all.
func (t *Tracker) IsIdle(trackID, voiceID string, idleTimeout time.Duration) bool {
	info, ok := t.store.Get(trackerKey(trackID, voiceID))
	if !ok {
		return true
	}
	return time.Since(info.LastAccess) >= idleTimeout
}

// Clear removes the access record for (trackID, voiceID), used after an
// eviction so a future access starts a fresh idle window.
func (t *Tracker) Clear(trackID, voiceID string) {
	t.store.Delete(trackerKey(trackID, voiceID))
}

// Run starts the background sweep goroutine.
func (t *Tracker) Run(interval time.Duration) {
	t.store.Run(interval, nil)
}

// Stop halts the background sweep goroutine.
func (t *Tracker) Stop() {
	t.store.Stop()
}
