// -----------------------------------------------------------------------
// Trigger response classification - decides how a backend reply becomes
// a conversation turn
// -----------------------------------------------------------------------

package dispatch

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ternarybob/courier/internal/models"
	"github.com/ternarybob/courier/internal/services/ingress"
)

// Disposition is the classified shape of a backend trigger response.
type Disposition int

const (
	// DispositionFailed: the response reports an error; render a failed turn.
	DispositionFailed Disposition = iota
	// DispositionTracked: the response acknowledges an asynchronous job;
	// render a provisional turn and wait for the terminal update.
	DispositionTracked
	// DispositionImmediate: the response carries the answer inline; render a
	// final turn, no tracking needed.
	DispositionImmediate
	// DispositionRaw: unrecognized shape; render the raw payload so the turn
	// is at least diagnosable.
	DispositionRaw
)

// answerAliases lists the keys backend workflows have used to carry the reply
// text in synchronous trigger responses. Checked at the top level first, then
// one nested level down (a workflow commonly wraps its output in a single
// result object).
var answerAliases = []string{"answer", "output", "text", "message", "result", "response", "reply"}

// Classification is the interpreted trigger response.
type Classification struct {
	Kind       Disposition
	JobID      string
	SessionID  string
	PipelineID string
	Status     models.JobStatus
	Answer     string
	Error      string
	// Raw holds the response body for DispositionRaw turns.
	Raw string
}

// Classify interprets a raw backend trigger response body. Rules, in order:
// an error field renders a failed turn; a job identifier with a non-terminal
// status (or no status and no inline answer) renders a provisional tracked
// turn; an answer renders an immediate final turn; anything else surfaces the
// raw body.
func Classify(body []byte) Classification {
	payload := decodeObject(body)
	if payload == nil {
		return rawClassification(body)
	}

	result := Classification{Kind: DispositionRaw, Raw: strings.TrimSpace(string(body))}
	result.JobID, result.SessionID, result.PipelineID = ingress.ExtractIdentifiers(payload)

	hasStatus := false
	if rawStatus, ok := payload["status"].(string); ok {
		if status, parsed := models.ParseJobStatus(rawStatus); parsed {
			result.Status = status
			hasStatus = true
		}
	}

	if errMsg, ok := payload["error"].(string); ok && errMsg != "" {
		result.Kind = DispositionFailed
		result.Error = errMsg
		return result
	}
	if hasStatus && result.Status == models.JobStatusError {
		result.Kind = DispositionFailed
		result.Error = "the workflow reported a failure"
		return result
	}

	answer := extractAnswer(payload)

	// A bare job identifier (or one with a non-terminal status) acknowledges
	// an asynchronous job. An inline answer with no status is a synchronous
	// reply that happens to echo the id - the answer wins there.
	if result.JobID != "" && !result.Status.IsTerminal() && (hasStatus || answer == "") {
		result.Kind = DispositionTracked
		if !hasStatus {
			result.Status = models.JobStatusInProgress
		}
		return result
	}

	if answer != "" {
		result.Kind = DispositionImmediate
		result.Answer = answer
		return result
	}

	return result
}

// decodeObject parses the body as a JSON object, unwrapping a single-element
// array (a workflow trigger configured in list mode returns its items as an
// array).
func decodeObject(body []byte) map[string]interface{} {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	var decoded interface{}
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil
	}

	switch v := decoded.(type) {
	case map[string]interface{}:
		return v
	case []interface{}:
		if len(v) > 0 {
			if obj, ok := v[0].(map[string]interface{}); ok {
				return obj
			}
		}
	}
	return nil
}

// extractAnswer finds the reply text under any answer alias, checking the top
// level first and then one nested level of object values.
func extractAnswer(payload map[string]interface{}) string {
	for _, key := range answerAliases {
		if v, ok := payload[key]; ok {
			if _, isObject := v.(map[string]interface{}); isObject {
				// An object under an answer alias is handled by the nested
				// scan below, not dumped as JSON.
				continue
			}
			if answer := models.NormalizeAnswer(v); answer != "" {
				return answer
			}
		}
	}

	for _, value := range payload {
		nested, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range answerAliases {
			if v, ok := nested[key]; ok {
				if answer := models.NormalizeAnswer(v); answer != "" {
					return answer
				}
			}
		}
	}

	return ""
}

func rawClassification(body []byte) Classification {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		raw = "(empty response)"
	}
	return Classification{Kind: DispositionRaw, Raw: raw}
}
