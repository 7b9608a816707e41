// -----------------------------------------------------------------------
// Job Record - latest known state of one asynchronous workflow job
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a job. Transitions are monotonic:
// pending -> in_progress -> completed|error. Terminal records are immutable.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// statusSynonyms maps historically-observed automation backend status values
// onto the canonical set. Keys are folded (lowercase, separators stripped).
var statusSynonyms = map[string]JobStatus{
	"pending":    JobStatusPending,
	"queued":     JobStatusPending,
	"waiting":    JobStatusPending,
	"inprogress": JobStatusInProgress,
	"running":    JobStatusInProgress,
	"started":    JobStatusInProgress,
	"completed":  JobStatusCompleted,
	"complete":   JobStatusCompleted,
	"done":       JobStatusCompleted,
	"success":    JobStatusCompleted,
	"succeeded":  JobStatusCompleted,
	"error":      JobStatusError,
	"failed":     JobStatusError,
	"failure":    JobStatusError,
}

// ParseJobStatus normalizes a raw status value from the automation backend.
// Comparison is case-insensitive and separator-insensitive ("In Progress",
// "in-progress" and "IN_PROGRESS" all resolve to in_progress).
func ParseJobStatus(raw string) (JobStatus, bool) {
	folded := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_', '.':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(raw)))

	if folded == "" {
		return "", false
	}

	status, ok := statusSynonyms[folded]
	return status, ok
}

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// JobRecord is the stored state of one asynchronous job, keyed by its
// backend-assigned (or client-generated) identifier. The identifier is an
// opaque string - no format is assumed or enforced.
type JobRecord struct {
	ID         string                 `json:"job_id" badgerhold:"key"`
	SessionID  string                 `json:"session_id,omitempty"`
	PipelineID string                 `json:"pipeline_id,omitempty"`
	Status     JobStatus              `json:"status" badgerhold:"index"`
	Answer     string                 `json:"answer,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
	Error      string                 `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at" badgerhold:"index"`
}

// IsTerminal reports whether the record has reached a final state.
func (r *JobRecord) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// BroadcastJobID is the reserved subscription target for updates that arrive
// without a job identifier. Broadcast channels are never closed by a terminal
// status.
const BroadcastJobID = "broadcast"

// JobUpdate is the normalized update document fanned out to subscribers and
// delivered on push channels. A JobUpdate with an empty JobID is a broadcast.
type JobUpdate struct {
	JobID      string                 `json:"job_id,omitempty"`
	SessionID  string                 `json:"session_id,omitempty"`
	PipelineID string                 `json:"pipeline_id,omitempty"`
	Status     JobStatus              `json:"status"`
	Answer     string                 `json:"answer,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// IsBroadcast reports whether the update is tied to no specific job.
func (u *JobUpdate) IsBroadcast() bool {
	return u.JobID == ""
}

// IsTerminal reports whether the update carries a final status.
func (u *JobUpdate) IsTerminal() bool {
	return u.Status.IsTerminal()
}

// NormalizeAnswer flattens the heterogeneous answer shapes produced by the
// automation backend into a single display string:
//   - plain string (possibly a JSON-encoded string or array, which is unwrapped)
//   - array of strings (joined with newlines)
func NormalizeAnswer(raw interface{}) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		trimmed := strings.TrimSpace(v)
		// Unwrap one level of JSON encoding ("\"hi\"" or "[\"a\",\"b\"]").
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "\"") {
			var decoded interface{}
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				switch d := decoded.(type) {
				case string:
					return d
				case []interface{}:
					return NormalizeAnswer(d)
				}
			}
		}
		return v
	case []string:
		return strings.Join(v, "\n")
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := NormalizeAnswer(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
