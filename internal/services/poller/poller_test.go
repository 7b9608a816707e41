package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/models"
)

func TestWatchResolvesTerminalState(t *testing.T) {
	var calls int32
	status := func(ctx context.Context, jobID string) (*models.JobRecord, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return &models.JobRecord{ID: jobID, Status: models.JobStatusInProgress}, nil
		}
		return &models.JobRecord{ID: jobID, Status: models.JobStatusCompleted, Answer: "result"}, nil
	}

	p := NewPoller(status, time.Millisecond, 10, arbor.NewLogger())
	record, err := p.Watch(context.Background(), "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, record.Status)
	assert.Equal(t, "result", record.Answer)
}

func TestWatchSwallowsTransientErrors(t *testing.T) {
	var calls int32
	status := func(ctx context.Context, jobID string) (*models.JobRecord, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("transient network failure")
		}
		return &models.JobRecord{ID: jobID, Status: models.JobStatusError, Error: "boom"}, nil
	}

	p := NewPoller(status, time.Millisecond, 10, arbor.NewLogger())
	record, err := p.Watch(context.Background(), "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, record.Status)
}

func TestWatchTimesOut(t *testing.T) {
	status := func(ctx context.Context, jobID string) (*models.JobRecord, error) {
		return &models.JobRecord{ID: jobID, Status: models.JobStatusPending}, nil
	}

	p := NewPoller(status, time.Millisecond, 5, arbor.NewLogger())
	_, err := p.Watch(context.Background(), "job_1")
	assert.ErrorIs(t, err, ErrPollTimeout)
}

func TestWatchHonorsContextCancellation(t *testing.T) {
	status := func(ctx context.Context, jobID string) (*models.JobRecord, error) {
		return &models.JobRecord{ID: jobID, Status: models.JobStatusPending}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(status, 10*time.Millisecond, 1000, arbor.NewLogger())

	done := make(chan error, 1)
	go func() {
		_, err := p.Watch(ctx, "job_1")
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}
