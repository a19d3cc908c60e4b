package hlsprep

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/duskcast/streamcore/internal/ffmpeg"
	"github.com/duskcast/streamcore/internal/hlsplaylist"
	"github.com/duskcast/streamcore/internal/mediainfo"
	"github.com/duskcast/streamcore/internal/models"
	"github.com/duskcast/streamcore/internal/objectstore"
	"github.com/duskcast/streamcore/internal/repository"
	"github.com/duskcast/streamcore/internal/statuslock"
	"github.com/duskcast/streamcore/internal/storage"
	"github.com/duskcast/streamcore/internal/wordtiming"
)

// defaultSegmentSeconds is the target HLS segment length when the caller's
// config doesn't override it.
const defaultSegmentSeconds = 6

// defaultBandwidth is the nominal bandwidth advertised in the master
// playlist's EXT-X-STREAM-INF, used when no ffprobe bitrate is available.
const defaultBandwidth = 128000

// StandardPipeline runs the six-step preparation sequence: fetch the source
// locally if remote, probe it, write the master playlist, segment with
// ffmpeg into a VOD variant, map word timings for TTS voices, and persist
// the resulting Track/lock state.
type StandardPipeline struct {
	sandbox   *storage.Sandbox
	objects   objectstore.Adapter
	extractor *mediainfo.Extractor
	tracks    repository.TrackRepository
	tts       repository.TTSRepository
	locker    *statuslock.Locker
	mapper    *wordtiming.Mapper

	ffmpegPath     string
	segmentSeconds int
}

// NewStandardPipeline creates a StandardPipeline. segmentSeconds falls back
// to defaultSegmentSeconds when zero.
func NewStandardPipeline(
	sandbox *storage.Sandbox,
	objects objectstore.Adapter,
	extractor *mediainfo.Extractor,
	tracks repository.TrackRepository,
	tts repository.TTSRepository,
	locker *statuslock.Locker,
	mapper *wordtiming.Mapper,
	ffmpegPath string,
	segmentSeconds int,
) *StandardPipeline {
	if segmentSeconds <= 0 {
		segmentSeconds = defaultSegmentSeconds
	}
	return &StandardPipeline{
		sandbox:        sandbox,
		objects:        objects,
		extractor:      extractor,
		tracks:         tracks,
		tts:            tts,
		locker:         locker,
		mapper:         mapper,
		ffmpegPath:     ffmpegPath,
		segmentSeconds: segmentSeconds,
	}
}

// segmentsRoot is segments/{track_id}, or segments/{track_id}/voice-{voice_id}
// for a TTS variant.
func segmentsRoot(trackID string, voiceID string) string {
	if voiceID == "" {
		return filepath.Join("segments", trackID)
	}
	return filepath.Join("segments", trackID, "voice-"+voiceID)
}

// Prepare runs the pipeline for a single task, publishing incremental
// status through publish as it progresses. On any failure it releases the
// lock the caller acquired (or that it itself holds on LockAlreadyHeld
// tasks) as failed, and always removes the downloaded source temp file.
func (p *StandardPipeline) Prepare(ctx context.Context, task Task, publish func(TaskStatus)) (err error) {
	trackID, err := models.ParseULID(task.TrackID)
	if err != nil {
		return fmt.Errorf("parsing track id: %w", err)
	}

	released := false
	defer func() {
		if err != nil && !released {
			p.releaseFailed(ctx, trackID, task, err)
		}
	}()

	localPath := task.LocalPath
	if task.SourceIsRemote {
		tmp, terr := p.sandbox.CreateTemp("tmp", "source-*")
		if terr != nil {
			return fmt.Errorf("allocating source temp file: %w", terr)
		}
		tmpPath := tmp.Name()
		tmp.Close()
		defer os.Remove(tmpPath)
		if terr := p.objects.Download(ctx, task.SourceKey, tmpPath); terr != nil {
			return fmt.Errorf("downloading source: %w", terr)
		}
		localPath = tmpPath
	}

	meta, err := p.extractor.Probe(ctx, localPath)
	if err != nil {
		return fmt.Errorf("probing source: %w", err)
	}
	publish(TaskStatus{State: StateProcessing, TotalDurationSeconds: meta.DurationSeconds})

	root := segmentsRoot(task.TrackID, task.VoiceID)
	variantDir := filepath.Join(root, "default")
	if err := p.sandbox.MkdirAll(variantDir); err != nil {
		return fmt.Errorf("creating variant dir: %w", err)
	}

	masterPath, err := p.sandbox.ResolvePath(filepath.Join(root, "master.m3u8"))
	if err != nil {
		return fmt.Errorf("resolving master playlist path: %w", err)
	}
	variantRelPath := "default/playlist.m3u8"
	if err := hlsplaylist.WriteMaster(masterPath, defaultBandwidth, variantRelPath); err != nil {
		return fmt.Errorf("writing master playlist: %w", err)
	}

	playlistPath, err := p.sandbox.ResolvePath(filepath.Join(variantDir, "playlist.m3u8"))
	if err != nil {
		return fmt.Errorf("resolving variant playlist path: %w", err)
	}
	variantAbsDir, err := p.sandbox.ResolvePath(variantDir)
	if err != nil {
		return fmt.Errorf("resolving variant dir: %w", err)
	}
	segmentPattern := filepath.Join(variantAbsDir, "segment_%05d.ts")

	publish(TaskStatus{State: StateCreatingSegments, TotalDurationSeconds: meta.DurationSeconds})
	cmd := ffmpeg.NewCommandBuilder(p.ffmpegPath).
		Input(localPath).
		AudioCodec("copy").
		HLSVODArgs(p.segmentSeconds, segmentPattern).
		Output(playlistPath).
		Build()
	if err := cmd.Run(ctx); err != nil {
		return fmt.Errorf("running ffmpeg segmenter: %w", err)
	}

	playlist, err := hlsplaylist.Parse(playlistPath)
	if err != nil {
		return fmt.Errorf("parsing generated playlist: %w", err)
	}

	segmentCount, err := hlsplaylist.CountSegmentFiles(variantAbsDir)
	if err != nil {
		return fmt.Errorf("counting segment files: %w", err)
	}
	if segmentCount != len(playlist.Segments) {
		return fmt.Errorf("playlist lists %d segments but %d files exist on disk", len(playlist.Segments), segmentCount)
	}

	indexPath, err := p.sandbox.ResolvePath(filepath.Join(root, "index.json"))
	if err != nil {
		return fmt.Errorf("resolving index path: %w", err)
	}
	if err := hlsplaylist.WriteIndex(indexPath, hlsplaylist.Index{
		Segments:       playlist.Segments,
		TotalDuration:  playlist.TotalDuration(),
		SegmentSeconds: p.segmentSeconds,
	}); err != nil {
		return fmt.Errorf("writing segment index: %w", err)
	}

	durations := make([]float64, len(playlist.Segments))
	for i, s := range playlist.Segments {
		durations[i] = s.DurationSeconds
	}

	wordsMapped := 0
	if task.IsTTS {
		timings, err := p.tts.GetWordTimings(ctx, trackID, task.VoiceID)
		if err != nil {
			return fmt.Errorf("loading word timings: %w", err)
		}
		if len(timings) > 0 {
			result := p.mapper.Map(ctx, timings, playlist.Segments)
			if err := p.tts.UpdateSegmentMapping(ctx, timings); err != nil {
				return fmt.Errorf("persisting segment mapping: %w", err)
			}
			wordsMapped = int(result.Coverage * float64(len(timings)))
		}
	}

	absRoot, err := p.sandbox.ResolvePath(root)
	if err != nil {
		return fmt.Errorf("resolving segments root: %w", err)
	}
	if err := p.finalize(ctx, trackID, task, absRoot, meta); err != nil {
		return err
	}
	released = true

	publish(TaskStatus{
		State:                  StateComplete,
		CurrentDurationSeconds: meta.DurationSeconds,
		TotalDurationSeconds:   meta.DurationSeconds,
		SegmentDurations:       durations,
		WordsMapped:            wordsMapped,
	})
	return nil
}

func (p *StandardPipeline) finalize(ctx context.Context, trackID models.ULID, task Task, root string, meta *mediainfo.Metadata) error {
	outcome := statuslock.OutcomeComplete
	info := statuslock.ReleaseInfo{SegmentsRoot: root}

	var releaseErr error
	if task.VoiceID == "" {
		releaseErr = p.locker.ReleaseTrackLock(ctx, trackID, outcome, info)
	} else {
		releaseErr = p.locker.ReleaseVoiceLock(ctx, trackID, task.VoiceID, outcome, info)
	}
	if releaseErr != nil {
		return fmt.Errorf("releasing lock: %w", releaseErr)
	}

	if task.VoiceID != "" {
		return nil
	}

	track, err := p.tracks.GetByID(ctx, trackID)
	if err != nil {
		return fmt.Errorf("reloading track: %w", err)
	}
	track.DurationSeconds = meta.DurationSeconds
	track.Codec = meta.Codec
	track.FormatName = meta.FormatName
	track.BitrateKbps = meta.BitrateKbps
	track.SampleRateHz = meta.SampleRateHz
	track.Channels = meta.Channels
	if err := p.tracks.Update(ctx, track); err != nil {
		return fmt.Errorf("persisting track metadata: %w", err)
	}
	return nil
}

// releaseFailed downgrades the lock this task holds to failed, logging
// rather than propagating a release error since the caller already has a
// more specific pipeline error to report.
func (p *StandardPipeline) releaseFailed(ctx context.Context, trackID models.ULID, task Task, cause error) {
	info := statuslock.ReleaseInfo{ErrorMessage: cause.Error()}

	var releaseErr error
	if task.VoiceID == "" {
		releaseErr = p.locker.ReleaseTrackLock(ctx, trackID, statuslock.OutcomeFailed, info)
	} else {
		releaseErr = p.locker.ReleaseVoiceLock(ctx, trackID, task.VoiceID, statuslock.OutcomeFailed, info)
	}
	if releaseErr != nil {
		slog.ErrorContext(ctx, "failed to release lock after preparation failure",
			slog.String("track_id", task.TrackID), slog.String("voice_id", task.VoiceID), slog.Any("error", releaseErr))
	}
}
