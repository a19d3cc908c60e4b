package grant

import (
	"strings"
	"time"

	"github.com/duskcast/streamcore/internal/ttlcache"
)

// Cache optionally remembers the content_version a grant token was minted
// against, keyed by "grant:{sid}:{tid}:{vid}", so a future validation path
// could short-circuit a stale lookup. spec.md allows omitting this cache
// entirely; it's kept here so PurgeTrack has somewhere to invalidate from
// when a track's content_version changes.
type Cache struct {
	store *ttlcache.Store[int64]
}

// NewCache creates a Cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: ttlcache.New[int64](ttl)}
}

func cacheKey(streamID, trackID, voiceID string) string {
	return "grant:" + streamID + ":" + trackID + ":" + voiceID
}

// Put records that a grant for (streamID, trackID, voiceID) was minted
// against contentVersion.
func (c *Cache) Put(streamID, trackID, voiceID string, contentVersion int64) {
	c.store.Set(cacheKey(streamID, trackID, voiceID), contentVersion)
}

// Get returns the cached content_version for (streamID, trackID, voiceID).
func (c *Cache) Get(streamID, trackID, voiceID string) (int64, bool) {
	return c.store.Get(cacheKey(streamID, trackID, voiceID))
}

// PurgeTrack deletes every cached entry for trackID, used when the track's
// content_version is bumped (new voice, regenerated HLS, tier change).
func (c *Cache) PurgeTrack(trackID string) int {
	needle := ":" + trackID + ":"
	purged := 0
	for _, key := range c.store.Keys() {
		if strings.Contains(key, needle) {
			if c.store.Delete(key) {
				purged++
			}
		}
	}
	return purged
}

// Run starts the background sweep goroutine.
func (c *Cache) Run(interval time.Duration) {
	c.store.Run(interval, nil)
}

// Stop halts the background sweep goroutine.
func (c *Cache) Stop() {
	c.store.Stop()
}
