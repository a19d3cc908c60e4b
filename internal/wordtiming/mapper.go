// Package wordtiming assigns word-level timings to their final HLS segment
// boundaries and consolidates per-generation raw timing shards into a
// single compressed blob served alongside a voice's HLS tree.
package wordtiming

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/duskcast/streamcore/internal/hlsplaylist"
	"github.com/duskcast/streamcore/internal/models"
)

// precisionCoverageThreshold is the mapping_coverage fraction above which
// the client is told it may rely on word-level seek precision.
const precisionCoverageThreshold = 0.8

// MapResult reports the quality of a mapping pass.
type MapResult struct {
	// Coverage is the fraction of timings that ended up tagged with a
	// segment_index.
	Coverage float64
	// SupportsPrecision is true when Coverage exceeds the precision
	// threshold.
	SupportsPrecision bool
}

// Mapper assigns segment_index/segment_offset to word timings.
type Mapper struct {
	shards *ShardStore
}

// NewMapper creates a Mapper backed by the given shard store, used for
// Consolidate.
func NewMapper(shards *ShardStore) *Mapper {
	return &Mapper{shards: shards}
}

// Map assigns each timing to the segment whose span contains its midpoint,
// clamping timings that start beyond the last segment to that segment with
// a logged warning. Mutates timings in place.
func (m *Mapper) Map(ctx context.Context, timings []*models.TTSWordTiming, segments []hlsplaylist.Segment) MapResult {
	if len(segments) == 0 || len(timings) == 0 {
		return MapResult{}
	}

	last := segments[len(segments)-1]
	lastEnd := last.StartOffset + last.DurationSeconds

	tagged := 0
	for _, t := range timings {
		midpoint := (t.StartSeconds + t.EndSeconds) / 2

		if t.StartSeconds >= lastEnd {
			slog.WarnContext(ctx, "word timing starts beyond final segment, clamping",
				"word", t.Word, "start", t.StartSeconds, "last_segment_end", lastEnd)
			idx := last.Index
			offset := t.StartSeconds - last.StartOffset
			t.SegmentIndex = &idx
			t.SegmentOffset = &offset
			tagged++
			continue
		}

		for _, seg := range segments {
			segEnd := seg.StartOffset + seg.DurationSeconds
			if midpoint >= seg.StartOffset && midpoint < segEnd {
				idx := seg.Index
				offset := t.StartSeconds - seg.StartOffset
				t.SegmentIndex = &idx
				t.SegmentOffset = &offset
				tagged++
				break
			}
		}
	}

	coverage := float64(tagged) / float64(len(timings))
	return MapResult{
		Coverage:          coverage,
		SupportsPrecision: coverage > precisionCoverageThreshold,
	}
}

// Consolidate merges every shard in shardPaths (in order) into a single
// zstd-compressed JSON-Lines blob at destPath, the timings.zst served
// alongside a voice's HLS tree.
func (m *Mapper) Consolidate(ctx context.Context, trackID, voiceID string, shardPaths []string, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating consolidated timings file: %w", err)
	}
	defer f.Close()

	writer, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	defer writer.Close()

	buffered := bufio.NewWriter(writer)
	for _, path := range shardPaths {
		timings, err := m.shards.ReadShard(path)
		if err != nil {
			return fmt.Errorf("reading shard %s: %w", path, err)
		}
		for _, t := range timings {
			line := fmt.Sprintf(`{"word":%q,"start":%v,"end":%v}`+"\n", t.Word, t.Start, t.End)
			if _, err := buffered.WriteString(line); err != nil {
				return fmt.Errorf("writing consolidated timing: %w", err)
			}
		}
	}

	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("flushing consolidated timings: %w", err)
	}
	return nil
}
