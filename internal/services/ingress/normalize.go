package ingress

import (
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/courier/internal/models"
)

// Field-name aliasing has proliferated across automation backend versions.
// All alias handling lives in this one translation table; nothing outside
// this file inspects raw update keys.
var (
	jobIDAliases      = []string{"jobId", "jobID", "job_id", "runID", "runId", "run_id", "executionId", "execution_id", "id"}
	sessionIDAliases  = []string{"sessionId", "sessionID", "session_id"}
	pipelineIDAliases = []string{"pipelineId", "pipelineID", "pipeline_id"}
)

// ErrEmptyUpdate is returned when an update carries no job identifier and
// nothing deliverable (no status, no answer). Maps to HTTP 400.
var ErrEmptyUpdate = errors.New("update carries no job identifier, status, or answer")

// ErrNoStatus is returned when a job-targeted update has neither a
// recognizable status nor an answer to infer one from. Maps to HTTP 400.
var ErrNoStatus = errors.New("update carries no status and no answer")

// ExtractIdentifiers resolves the job, session, and pipeline identifiers from
// a raw document using the alias table. Shared with trigger-response
// classification, which sees the same aliasing on the synchronous path.
func ExtractIdentifiers(payload map[string]interface{}) (jobID, sessionID, pipelineID string) {
	return stringAlias(payload, jobIDAliases),
		stringAlias(payload, sessionIDAliases),
		stringAlias(payload, pipelineIDAliases)
}

func stringAlias(payload map[string]interface{}, aliases []string) string {
	for _, key := range aliases {
		if v, ok := payload[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// NormalizeUpdate translates a raw ingress document into the canonical
// JobUpdate. An update with no resolvable job identifier but a status or
// answer becomes a broadcast (empty JobID); one with nothing at all is
// rejected.
func NormalizeUpdate(payload map[string]interface{}) (models.JobUpdate, error) {
	update := models.JobUpdate{
		JobID:      stringAlias(payload, jobIDAliases),
		SessionID:  stringAlias(payload, sessionIDAliases),
		PipelineID: stringAlias(payload, pipelineIDAliases),
		Answer:     models.NormalizeAnswer(payload["answer"]),
		Timestamp:  time.Now(),
	}

	if meta, ok := payload["meta"].(map[string]interface{}); ok {
		update.Meta = meta
	}
	if errMsg, ok := payload["error"].(string); ok {
		update.Error = errMsg
	}

	rawStatus, hasStatus := payload["status"].(string)
	status, parsed := models.ParseJobStatus(rawStatus)

	switch {
	case parsed:
		update.Status = status
	case update.Answer != "":
		// Answer without an explicit status implies completion.
		update.Status = models.JobStatusCompleted
	case update.Error != "":
		update.Status = models.JobStatusError
	case update.JobID == "" && !hasStatus:
		return models.JobUpdate{}, ErrEmptyUpdate
	case hasStatus:
		return models.JobUpdate{}, fmt.Errorf("unrecognized status %q: %w", rawStatus, ErrNoStatus)
	default:
		return models.JobUpdate{}, ErrNoStatus
	}

	return update, nil
}
