package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/courier/internal/models"
)

func TestNormalizeUpdateJobIDAliases(t *testing.T) {
	for _, alias := range []string{"jobId", "jobID", "job_id", "runID", "runId", "run_id", "executionId", "execution_id", "id"} {
		payload := map[string]interface{}{
			alias:    "job_42",
			"status": "completed",
		}
		update, err := NormalizeUpdate(payload)
		require.NoError(t, err, "alias=%s", alias)
		assert.Equal(t, "job_42", update.JobID, "alias=%s", alias)
	}
}

func TestNormalizeUpdateStatusInference(t *testing.T) {
	// Answer without status implies completion.
	update, err := NormalizeUpdate(map[string]interface{}{
		"jobId":  "job_1",
		"answer": "the result",
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, update.Status)
	assert.Equal(t, "the result", update.Answer)

	// Error without status implies error.
	update, err = NormalizeUpdate(map[string]interface{}{
		"jobId": "job_2",
		"error": "workflow exploded",
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, update.Status)

	// Explicit status wins over inference.
	update, err = NormalizeUpdate(map[string]interface{}{
		"jobId":  "job_3",
		"status": "in progress",
		"answer": "partial",
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusInProgress, update.Status)
}

func TestNormalizeUpdateAnswerShapes(t *testing.T) {
	update, err := NormalizeUpdate(map[string]interface{}{
		"jobId":  "job_1",
		"answer": []interface{}{"line one", "line two"},
	})
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", update.Answer)

	update, err = NormalizeUpdate(map[string]interface{}{
		"jobId":  "job_2",
		"answer": `"quoted"`,
	})
	require.NoError(t, err)
	assert.Equal(t, "quoted", update.Answer)
}

func TestNormalizeUpdateBroadcast(t *testing.T) {
	// No job id but a deliverable status: broadcast.
	update, err := NormalizeUpdate(map[string]interface{}{
		"status": "in_progress",
	})
	require.NoError(t, err)
	assert.True(t, update.IsBroadcast())

	// No job id and nothing deliverable: rejected.
	_, err = NormalizeUpdate(map[string]interface{}{
		"unrelated": "field",
	})
	assert.ErrorIs(t, err, ErrEmptyUpdate)
}

func TestNormalizeUpdateUnrecognizedStatus(t *testing.T) {
	_, err := NormalizeUpdate(map[string]interface{}{
		"jobId":  "job_1",
		"status": "galloping",
	})
	assert.ErrorIs(t, err, ErrNoStatus)
}

func TestNormalizeUpdateNoStatusNoAnswer(t *testing.T) {
	_, err := NormalizeUpdate(map[string]interface{}{
		"jobId": "job_1",
	})
	assert.ErrorIs(t, err, ErrNoStatus)
}

func TestNormalizeUpdateSessionAndPipeline(t *testing.T) {
	update, err := NormalizeUpdate(map[string]interface{}{
		"job_id":     "job_1",
		"session_id": "sess_9",
		"pipelineId": "pipe_3",
		"status":     "done",
		"meta":       map[string]interface{}{"step": "final"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sess_9", update.SessionID)
	assert.Equal(t, "pipe_3", update.PipelineID)
	assert.Equal(t, models.JobStatusCompleted, update.Status)
	assert.Equal(t, "final", update.Meta["step"])
}
