package progress

import (
	"errors"
	"strings"
	"sync"

	"github.com/duskcast/streamcore/internal/hlsprep"
	"github.com/duskcast/streamcore/internal/models"
)

// HLSPrepReporter bridges hlsprep.Manager task status callbacks into
// Service operations, so HLS preparation is visible over the SSE/REST
// progress API the same way other long-running work is tracked.
type HLSPrepReporter struct {
	svc *Service

	mu  sync.Mutex
	ops map[string]*OperationManager
}

// NewHLSPrepReporter creates a reporter that publishes into svc. Wire it to
// an hlsprep.Manager with Manager.SetProgressReporter.
func NewHLSPrepReporter(svc *Service) *HLSPrepReporter {
	return &HLSPrepReporter{svc: svc, ops: make(map[string]*OperationManager)}
}

// ReportTaskStatus implements hlsprep.ProgressReporter.
func (r *HLSPrepReporter) ReportTaskStatus(streamID string, status hlsprep.TaskStatus) {
	switch status.State {
	case hlsprep.StateComplete:
		if mgr := r.take(streamID); mgr != nil {
			mgr.Complete("HLS preparation complete")
		}
		return
	case hlsprep.StateError:
		if mgr := r.take(streamID); mgr != nil {
			mgr.Fail(errors.New(status.ErrorMessage))
		}
		return
	}

	mgr := r.operationFor(streamID)
	if mgr == nil {
		return
	}

	stage := mgr.StartStage("prepare")
	if status.TotalDurationSeconds > 0 {
		stage.SetProgress(status.CurrentDurationSeconds/status.TotalDurationSeconds, string(status.State))
	} else {
		stage.SetProgress(0, string(status.State))
	}
}

// operationFor returns the tracked OperationManager for streamID, starting
// a new operation on first observation.
func (r *HLSPrepReporter) operationFor(streamID string) *OperationManager {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mgr, ok := r.ops[streamID]; ok {
		return mgr
	}

	ownerID, err := trackIDForStream(streamID)
	if err != nil {
		return nil
	}

	mgr, err := r.svc.StartOperation(OpAudioPreparation, ownerID, "hls_stream", streamID, []StageInfo{
		{ID: "prepare", Name: "Preparing HLS segments", Weight: 1.0},
	})
	if err != nil {
		return nil
	}
	r.ops[streamID] = mgr
	return mgr
}

// take removes and returns the tracked OperationManager for streamID, for
// use at a terminal state transition.
func (r *HLSPrepReporter) take(streamID string) *OperationManager {
	r.mu.Lock()
	defer r.mu.Unlock()

	mgr, ok := r.ops[streamID]
	if !ok {
		return nil
	}
	delete(r.ops, streamID)
	return mgr
}

// trackIDForStream extracts the owning track's ULID from a stream ID,
// which is either a bare track ID or "trackID/voiceID" for TTS variants.
func trackIDForStream(streamID string) (models.ULID, error) {
	trackPart := streamID
	if idx := strings.IndexByte(streamID, '/'); idx >= 0 {
		trackPart = streamID[:idx]
	}
	return models.ParseULID(trackPart)
}
