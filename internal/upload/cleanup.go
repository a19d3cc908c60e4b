package upload

import (
	"context"
	"log/slog"
	"strings"

	"github.com/duskcast/streamcore/internal/models"
)

// ComprehensiveCleanup tears down every artifact of a failed or cancelled
// upload: the object-store blob (unless it's still a temp marker), the
// on-disk HLS tree, any queued preparation task, the Track row, and the
// chunk directory. Failures are collected rather than aborting partway, the
// same non-fatal-partial-failure posture objectstore.DeletionReport models.
func (c *Coordinator) ComprehensiveCleanup(ctx context.Context, trackID models.ULID) {
	track, err := c.tracks.GetByID(ctx, trackID)
	if err != nil || track == nil {
		slog.WarnContext(ctx, "comprehensive cleanup: track already gone", "track_id", trackID.String())
		return
	}

	if track.SourceBlobPath != "" && !strings.HasPrefix(track.SourceBlobPath, tempMarkerPrefix) {
		if err := c.objects.Delete(ctx, track.SourceBlobPath); err != nil {
			slog.ErrorContext(ctx, "comprehensive cleanup: deleting blob failed",
				"track_id", trackID.String(), "error", err)
		}
	}

	root := segmentsRootFor(trackID.String())
	if err := c.sandbox.RemoveAll(root); err != nil {
		slog.ErrorContext(ctx, "comprehensive cleanup: removing hls tree failed",
			"track_id", trackID.String(), "error", err)
	}

	c.prep.Cancel(trackID.String())

	if err := c.tracks.Delete(ctx, trackID); err != nil {
		slog.ErrorContext(ctx, "comprehensive cleanup: deleting track row failed",
			"track_id", trackID.String(), "error", err)
	}

	if strings.HasPrefix(track.SourceBlobPath, tempMarkerPrefix) {
		chunksDir := strings.TrimPrefix(track.SourceBlobPath, tempMarkerPrefix)
		if err := c.sandbox.RemoveAll(chunksDir); err != nil {
			slog.ErrorContext(ctx, "comprehensive cleanup: removing chunks dir failed",
				"track_id", trackID.String(), "error", err)
		}
	}
}

func segmentsRootFor(trackID string) string {
	return "segments/" + trackID
}
