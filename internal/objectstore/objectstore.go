// Package objectstore provides blob storage for track audio and rendered
// TTS voice segments, backed by either a local sandboxed filesystem or S3.
package objectstore

import "context"

// DeletionReport collects the outcome of a best-effort batch delete: a
// failure on one key never aborts the rest (spec.md's non-fatal-partial-
// failure posture for cleanup operations).
type DeletionReport struct {
	Deleted []string
	Failed  map[string]error
}

// NewDeletionReport returns an empty report ready for accumulation.
func NewDeletionReport() DeletionReport {
	return DeletionReport{Failed: make(map[string]error)}
}

// OK returns true if every key was deleted without error.
func (r DeletionReport) OK() bool {
	return len(r.Failed) == 0
}

// Adapter is the storage backend for track blobs and rendered TTS segments.
// Keys are opaque forward-slash paths relative to the adapter's root (e.g.
// "audio/{track_id}/source.mp3" or "tts/{track_id}/{voice}.mp3").
type Adapter interface {
	// Upload copies the local file at localPath to key, replacing any
	// existing object at that key atomically from the reader's perspective.
	Upload(ctx context.Context, localPath, key string) error
	// Download copies key to the local file at localPath.
	Download(ctx context.Context, key, localPath string) error
	// Delete removes a single key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeleteAll deletes every key in keys, collecting per-key failures
	// rather than aborting on the first error.
	DeleteAll(ctx context.Context, keys []string) DeletionReport
}

// FallbackVoiceIDs is the best-effort voice list used by DeleteAllTTSVoices
// when the caller has no record of which voices were ever generated for a
// track (e.g. a crash before any VoiceGenerationStatus row was written).
var FallbackVoiceIDs = []string{"default", "narrator", "alloy", "nova"}

// ttsKey returns the storage key for one track/voice's rendered TTS audio.
func ttsKey(trackID, voiceID string) string {
	return "tts/" + trackID + "/" + voiceID + ".mp3"
}

// DeleteAllTTSVoices deletes the rendered audio for every voice in voiceIDs
// (or FallbackVoiceIDs, if empty) for the given track, tolerating missing
// or already-deleted keys.
func DeleteAllTTSVoices(ctx context.Context, adapter Adapter, trackID string, voiceIDs []string) DeletionReport {
	if len(voiceIDs) == 0 {
		voiceIDs = FallbackVoiceIDs
	}

	keys := make([]string, len(voiceIDs))
	for i, v := range voiceIDs {
		keys[i] = ttsKey(trackID, v)
	}

	return adapter.DeleteAll(ctx, keys)
}
