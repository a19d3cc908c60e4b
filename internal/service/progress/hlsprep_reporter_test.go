package progress

import (
	"testing"

	"github.com/duskcast/streamcore/internal/hlsprep"
	"github.com/duskcast/streamcore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHLSPrepReporter_TracksOperationLifecycle(t *testing.T) {
	svc := newTestService()
	reporter := NewHLSPrepReporter(svc)

	trackID := models.NewULID()
	streamID := trackID.String() + "/alloy"

	reporter.ReportTaskStatus(streamID, hlsprep.TaskStatus{State: hlsprep.StateProcessing})

	op, err := svc.GetOperationByOwner("hls_stream", trackID)
	require.NoError(t, err)
	assert.Equal(t, OpAudioPreparation, op.OperationType)
	assert.Equal(t, streamID, op.OwnerName)

	reporter.ReportTaskStatus(streamID, hlsprep.TaskStatus{
		State:                  hlsprep.StateCreatingSegments,
		CurrentDurationSeconds: 30,
		TotalDurationSeconds:   120,
	})

	op, err = svc.GetOperationByOwner("hls_stream", trackID)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, op.Progress, 0.001)

	reporter.ReportTaskStatus(streamID, hlsprep.TaskStatus{State: hlsprep.StateComplete})

	op, err = svc.GetOperationByOwner("hls_stream", trackID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, op.State)
}

func TestHLSPrepReporter_FailurePropagatesError(t *testing.T) {
	svc := newTestService()
	reporter := NewHLSPrepReporter(svc)

	trackID := models.NewULID()
	streamID := trackID.String()

	reporter.ReportTaskStatus(streamID, hlsprep.TaskStatus{State: hlsprep.StateProcessing})
	reporter.ReportTaskStatus(streamID, hlsprep.TaskStatus{
		State:        hlsprep.StateError,
		ErrorMessage: "ffmpeg exited with status 1",
	})

	op, err := svc.GetOperationByOwner("hls_stream", trackID)
	require.NoError(t, err)
	assert.Equal(t, StateError, op.State)
	assert.Equal(t, "ffmpeg exited with status 1", op.Error)
}

func TestHLSPrepReporter_IgnoresUnparseableStreamID(t *testing.T) {
	svc := newTestService()
	reporter := NewHLSPrepReporter(svc)

	// Must not panic on a malformed stream ID; the update is simply dropped.
	reporter.ReportTaskStatus("not-a-ulid", hlsprep.TaskStatus{State: hlsprep.StateProcessing})
}
