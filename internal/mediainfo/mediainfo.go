// Package mediainfo extracts duration and codec metadata from uploaded
// audio files via ffprobe.
package mediainfo

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/duskcast/streamcore/internal/ffmpeg"
	"github.com/duskcast/streamcore/internal/models"
	"github.com/duskcast/streamcore/internal/repository"
)

// Metadata is the subset of ffprobe output this domain persists onto a
// Track row.
type Metadata struct {
	DurationSeconds float64
	Codec           string
	FormatName      string
	BitrateKbps     int
	SampleRateHz    int
	Channels        int
}

// Extractor probes local audio files with ffprobe, serializing concurrent
// probes of the same path so a retried pipeline step never races its own
// earlier attempt.
type Extractor struct {
	prober  *ffmpeg.Prober
	ttsRepo repository.TTSRepository

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewExtractor creates an Extractor using the given Prober and, for
// TTS duration summation, a TTSRepository.
func NewExtractor(prober *ffmpeg.Prober, ttsRepo repository.TTSRepository) *Extractor {
	return &Extractor{
		prober:  prober,
		ttsRepo: ttsRepo,
		locks:   make(map[string]*sync.Mutex),
	}
}

// pathLock returns the per-path mutex used to serialize concurrent probes
// of the same file, creating it on first use.
func (e *Extractor) pathLock(path string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	lock, ok := e.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[path] = lock
	}
	return lock
}

// Probe extracts duration and codec metadata for the audio file at path.
func (e *Extractor) Probe(ctx context.Context, path string) (*Metadata, error) {
	lock := e.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	result, err := e.prober.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}

	meta := &Metadata{
		DurationSeconds: float64(result.Duration()) / 1000.0,
		FormatName:      result.Format.FormatName,
		BitrateKbps:     result.Bitrate() / 1000,
	}

	if audio := result.GetAudioStream(); audio != nil {
		meta.Codec = audio.CodecName
		meta.Channels = audio.Channels
		if sr, err := strconv.Atoi(audio.SampleRate); err == nil {
			meta.SampleRateHz = sr
		}
	}

	return meta, nil
}

// VoiceDuration returns the effective duration for a track under a given
// voice: the sum of actual_duration_seconds across every ready
// TTSVoiceSegment for (track, voice), or track.DurationSeconds for
// non-TTS tracks (or TTS tracks with no rendered segments yet).
func (e *Extractor) VoiceDuration(ctx context.Context, track *models.Track, voiceID string) (float64, error) {
	if track.VariantType != models.VariantTypeTTS || voiceID == "" {
		return track.DurationSeconds, nil
	}

	segments, err := e.ttsRepo.GetVoiceSegments(ctx, track.ID, voiceID)
	if err != nil {
		return 0, fmt.Errorf("loading voice segments: %w", err)
	}

	if len(segments) == 0 {
		return track.DurationSeconds, nil
	}

	var total float64
	for _, seg := range segments {
		if seg.Status != models.VoiceSegmentReady {
			continue
		}
		total += seg.ActualDurationSeconds
	}
	return total, nil
}
