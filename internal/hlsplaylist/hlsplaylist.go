// Package hlsplaylist parses and writes the HLS master/variant playlists
// and segment index shared by the status-lock validator and the
// preparation pipeline.
package hlsplaylist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Segment is a single media segment entry parsed from a variant playlist.
type Segment struct {
	Index           int     `json:"index"`
	Filename        string  `json:"filename"`
	DurationSeconds float64 `json:"duration_seconds"`
	// StartOffset is the cumulative start time of this segment within the
	// track, computed while walking the playlist in order.
	StartOffset float64 `json:"start_offset"`
}

// Playlist is the parsed content of a variant (media) playlist.
type Playlist struct {
	TargetDuration int
	Segments       []Segment
	EndList        bool
}

// TotalDuration returns the sum of every segment's duration.
func (p *Playlist) TotalDuration() float64 {
	var total float64
	for _, s := range p.Segments {
		total += s.DurationSeconds
	}
	return total
}

// Parse reads a variant playlist from path and returns its segments.
func Parse(path string) (*Playlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening playlist: %w", err)
	}
	defer f.Close()

	playlist := &Playlist{}
	var pendingDuration float64
	var haveDuration bool
	var cumulative float64
	index := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:")); err == nil {
				playlist.TargetDuration = v
			}
		case strings.HasPrefix(line, "#EXTINF:"):
			value := strings.TrimPrefix(line, "#EXTINF:")
			value = strings.TrimSuffix(value, ",")
			if d, err := strconv.ParseFloat(value, 64); err == nil {
				pendingDuration = d
				haveDuration = true
			}
		case line == "#EXT-X-ENDLIST":
			playlist.EndList = true
		case line == "" || strings.HasPrefix(line, "#"):
			// ignore other tags/comments
		default:
			if haveDuration {
				playlist.Segments = append(playlist.Segments, Segment{
					Index:           index,
					Filename:        line,
					DurationSeconds: pendingDuration,
					StartOffset:     cumulative,
				})
				cumulative += pendingDuration
				index++
				haveDuration = false
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning playlist: %w", err)
	}

	return playlist, nil
}

// WriteMaster writes a minimal master playlist referencing a single
// variant, the only layout this domain produces (one rendition per
// track/voice, no multi-bitrate ladder).
func WriteMaster(path string, bandwidth int, variantPath string) error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d\n", bandwidth)
	b.WriteString(variantPath + "\n")

	return os.WriteFile(path, []byte(b.String()), 0o640)
}

// WriteVariant writes a VOD variant playlist for the given segments.
func WriteVariant(path string, segmentSeconds int, segments []Segment) error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", segmentSeconds)
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")

	for _, seg := range segments {
		fmt.Fprintf(&b, "#EXTINF:%.6f,\n", seg.DurationSeconds)
		b.WriteString(seg.Filename + "\n")
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	return os.WriteFile(path, []byte(b.String()), 0o640)
}

// CountSegmentFiles returns the number of segment_*.ts files present in dir,
// used by the status-lock validator to cross-check the variant playlist's
// #EXTINF count against what was actually written to disk.
func CountSegmentFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading segment dir: %w", err)
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "segment_") && strings.HasSuffix(name, ".ts") {
			count++
		}
	}
	return count, nil
}

// Index is the on-disk index.json summarizing a prepared variant, used by
// segment-progress polling and by the word-timing mapper.
type Index struct {
	SegmentSeconds int       `json:"segment_seconds"`
	TotalDuration  float64   `json:"total_duration_seconds"`
	Segments       []Segment `json:"segments"`
}

// WriteIndex serializes an Index to path as JSON.
func WriteIndex(path string, index Index) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}
	return os.WriteFile(path, data, 0o640)
}

// ReadIndex reads and parses an index.json file.
func ReadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}

	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parsing index: %w", err)
	}
	return &index, nil
}

// ValidateComplete reports whether dir contains a complete, valid VOD
// output: the variant playlist parses, ends with #EXT-X-ENDLIST, and its
// #EXTINF count does not exceed the number of segment files on disk.
func ValidateComplete(variantPath, segmentsDir string) (bool, error) {
	playlist, err := Parse(variantPath)
	if err != nil {
		return false, err
	}
	if !playlist.EndList {
		return false, nil
	}

	onDisk, err := CountSegmentFiles(segmentsDir)
	if err != nil {
		return false, err
	}

	return len(playlist.Segments) <= onDisk, nil
}

// SegmentFilename returns the conventional zero-padded segment filename
// for the given index.
func SegmentFilename(index int) string {
	return fmt.Sprintf("segment_%05d.ts", index)
}

// JoinSegmentPath joins a segments directory with a segment filename.
func JoinSegmentPath(dir string, index int) string {
	return filepath.Join(dir, SegmentFilename(index))
}
