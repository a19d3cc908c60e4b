package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ProbeResult contains the ffprobe output for a local audio file.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename       string            `json:"filename"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	ProbeScore     int               `json:"probe_score"`
	Tags           map[string]string `json:"tags"`
}

// ProbeStream contains the audio-stream fields this domain persists.
// ffprobe emits a much larger per-stream surface (video dimensions, pixel
// format, color space, field order...); only the audio fields an upload's
// single audio stream can populate are kept.
type ProbeStream struct {
	Index         int               `json:"index"`
	CodecName     string            `json:"codec_name"`
	CodecLongName string            `json:"codec_long_name"`
	CodecType     string            `json:"codec_type"` // audio, subtitle, data
	SampleFmt     string            `json:"sample_fmt,omitempty"`
	SampleRate    string            `json:"sample_rate,omitempty"`
	Channels      int               `json:"channels,omitempty"`
	ChannelLayout string            `json:"channel_layout,omitempty"`
	BitsPerSample int               `json:"bits_per_sample,omitempty"`
	Duration      string            `json:"duration,omitempty"`
	BitRate       string            `json:"bit_rate,omitempty"`
	NumFrames     string            `json:"nb_frames,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// Prober handles ffprobe invocations against local files.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new Prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// Probe runs ffprobe against a local file path and returns its parsed
// format/stream JSON.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	return &result, nil
}

// GetAudioStream returns the first audio stream from the probe result.
func (r *ProbeResult) GetAudioStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "audio" {
			return &r.Streams[i]
		}
	}
	return nil
}

// Duration returns the container duration in milliseconds.
func (r *ProbeResult) Duration() int64 {
	if r.Format.Duration == "" {
		return 0
	}
	if dur, err := strconv.ParseFloat(r.Format.Duration, 64); err == nil {
		return int64(dur * 1000)
	}
	return 0
}

// Bitrate returns the overall bitrate in bits per second.
func (r *ProbeResult) Bitrate() int {
	if r.Format.BitRate == "" {
		return 0
	}
	if br, err := strconv.Atoi(r.Format.BitRate); err == nil {
		return br
	}
	return 0
}
