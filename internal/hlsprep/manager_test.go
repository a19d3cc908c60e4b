package hlsprep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	mu       sync.Mutex
	started  int
	block    chan struct{}
	failWith error
}

func (p *fakePipeline) Prepare(ctx context.Context, task Task, publish func(TaskStatus)) error {
	p.mu.Lock()
	p.started++
	p.mu.Unlock()
	publish(TaskStatus{State: StateCreatingSegments})
	if p.block != nil {
		<-p.block
	}
	return p.failWith
}

func waitForStatus(t *testing.T, m *Manager, streamID string, want State, timeout time.Duration) TaskStatus {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if status, ok := m.GetStatus(streamID); ok && status.State == want {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for stream %s to reach state %s", streamID, want)
	return TaskStatus{}
}

func TestManager_QueuePreparation_RunsToComplete(t *testing.T) {
	pipeline := &fakePipeline{}
	m := New(pipeline, 2, 4, nil)
	defer m.Stop()

	status, err := m.QueuePreparation(Task{StreamID: "s1", TrackID: "t1", Priority: PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, StateQueued, status.State)

	waitForStatus(t, m, "s1", StateComplete, time.Second)
}

func TestManager_QueuePreparation_PropagatesFailure(t *testing.T) {
	pipeline := &fakePipeline{failWith: assertError{}}
	m := New(pipeline, 1, 4, nil)
	defer m.Stop()

	_, err := m.QueuePreparation(Task{StreamID: "s2", TrackID: "t2"})
	require.NoError(t, err)

	status := waitForStatus(t, m, "s2", StateError, time.Second)
	assert.NotEmpty(t, status.ErrorMessage)
}

func TestManager_QueuePreparation_CoalescesDuplicates(t *testing.T) {
	block := make(chan struct{})
	pipeline := &fakePipeline{block: block}
	m := New(pipeline, 1, 4, nil)
	defer func() {
		close(block)
		m.Stop()
	}()

	_, err := m.QueuePreparation(Task{StreamID: "s3", TrackID: "t3"})
	require.NoError(t, err)

	waitForStatus(t, m, "s3", StateCreatingSegments, time.Second)

	status, err := m.QueuePreparation(Task{StreamID: "s3", TrackID: "t3"})
	require.NoError(t, err)
	assert.Equal(t, StateCreatingSegments, status.State)

	pipeline.mu.Lock()
	started := pipeline.started
	pipeline.mu.Unlock()
	assert.Equal(t, 1, started)
}

func TestManager_Cancel(t *testing.T) {
	pipeline := &fakePipeline{}
	m := New(pipeline, 1, 4, nil)
	defer m.Stop()

	_, err := m.QueuePreparation(Task{StreamID: "s4", TrackID: "t4"})
	require.NoError(t, err)
	waitForStatus(t, m, "s4", StateComplete, time.Second)

	assert.True(t, m.Cancel("s4"))
	assert.False(t, m.Cancel("s4"))

	_, ok := m.GetStatus("s4")
	assert.False(t, ok)
}

type assertError struct{}

func (assertError) Error() string { return "pipeline failed" }
