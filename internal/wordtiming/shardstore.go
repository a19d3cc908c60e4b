package wordtiming

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/duskcast/streamcore/internal/storage"
)

// RawTiming is a single word timing as produced by the TTS worker, before
// segment-boundary mapping.
type RawTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ShardStore is a sharded, append-only JSON-Lines store for per-generation
// raw word timings, rooted at a sandboxed directory.
type ShardStore struct {
	sandbox *storage.Sandbox
}

// NewShardStore creates a ShardStore rooted at sandbox.
func NewShardStore(sandbox *storage.Sandbox) *ShardStore {
	return &ShardStore{sandbox: sandbox}
}

func shardDir(trackID, voiceID string) string {
	return filepath.Join("timing-shards", trackID, voiceID)
}

// AppendShard writes a new JSON-Lines shard file for one generation run and
// returns its path relative to the sandbox root.
func (s *ShardStore) AppendShard(trackID, voiceID string, timings []RawTiming) (string, error) {
	dir := shardDir(trackID, voiceID)
	if err := s.sandbox.MkdirAll(dir); err != nil {
		return "", fmt.Errorf("creating shard dir: %w", err)
	}

	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	for _, t := range timings {
		if err := enc.Encode(t); err != nil {
			return "", fmt.Errorf("encoding timing: %w", err)
		}
	}

	f, err := s.sandbox.CreateTemp(dir, "shard-*.jsonl")
	if err != nil {
		return "", fmt.Errorf("creating shard file: %w", err)
	}
	name := f.Name()
	if _, err := f.WriteString(buf.String()); err != nil {
		f.Close()
		return "", fmt.Errorf("writing shard: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing shard: %w", err)
	}

	rel, err := filepath.Rel(s.sandbox.BaseDir(), name)
	if err != nil {
		return "", fmt.Errorf("relativizing shard path: %w", err)
	}
	return rel, nil
}

// ListShards returns every shard path for (trackID, voiceID), sorted by file
// name. Shard names carry a random suffix, so this is not write order.
func (s *ShardStore) ListShards(trackID, voiceID string) ([]string, error) {
	dir := shardDir(trackID, voiceID)
	entries, err := s.sandbox.List(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing shards: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadShard reads a single shard file's timings in order.
func (s *ShardStore) ReadShard(path string) ([]RawTiming, error) {
	abs, err := s.sandbox.ResolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving shard path: %w", err)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("opening shard: %w", err)
	}
	defer f.Close()

	var timings []RawTiming
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var t RawTiming
		if err := json.Unmarshal(line, &t); err != nil {
			return nil, fmt.Errorf("parsing shard line: %w", err)
		}
		timings = append(timings, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning shard: %w", err)
	}
	return timings, nil
}
