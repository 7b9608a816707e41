package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/models"
)

func TestJobStatusHandlerKnownJob(t *testing.T) {
	svc, _ := newTestIngress(t)
	updates := NewUpdateHandler(svc, arbor.NewLogger())
	status := NewStatusHandler(svc, arbor.NewLogger())

	postUpdate(t, updates, `{"jobId": "job_1", "status": "completed", "answer": "the result"}`)

	req := httptest.NewRequest(http.MethodGet, "/api/status/job_1", nil)
	rec := httptest.NewRecorder()
	status.JobStatusHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var record models.JobRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, models.JobStatusCompleted, record.Status)
	assert.Equal(t, "the result", record.Answer)
}

func TestJobStatusHandlerUnknownJobReportsPending(t *testing.T) {
	svc, _ := newTestIngress(t)
	status := NewStatusHandler(svc, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/status/job_unknown", nil)
	rec := httptest.NewRecorder()
	status.JobStatusHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var record models.JobRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, models.JobStatusPending, record.Status)
}

func TestJobStatusHandlerMissingJobID(t *testing.T) {
	svc, _ := newTestIngress(t)
	status := NewStatusHandler(svc, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/status/", nil)
	rec := httptest.NewRecorder()
	status.JobStatusHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
