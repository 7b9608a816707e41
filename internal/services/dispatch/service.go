// -----------------------------------------------------------------------
// Backend client - relays chat submissions to the automation backend
// -----------------------------------------------------------------------

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/common"
)

// ErrBackendURLMissing is returned when no webhook URL is configured.
// Submission fails fast with an operator-actionable message instead of
// degrading into a stub mode.
var ErrBackendURLMissing = errors.New("automation backend webhook URL is not configured")

// voiceFilename is the fixed filename attached to voice recordings so the
// backend workflow can route them by name.
const voiceFilename = "voice-recording.webm"

// UploadFile is one attachment forwarded with a chat submission.
type UploadFile struct {
	Name    string
	Content []byte
}

// Client submits chat messages to the automation backend as multipart form
// posts and returns the raw trigger response for classification. The backend
// is opaque: no assumptions are made about its response shape beyond what
// Classify handles.
type Client struct {
	webhookURL string
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewClient creates a backend client. A timeout of zero waits indefinitely
// for the trigger call, which is an explicit operator choice for slow
// workflows.
func NewClient(webhookURL string, timeout time.Duration, logger arbor.ILogger) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// NewClientFromConfig creates a backend client from the [backend] section.
func NewClientFromConfig(cfg common.BackendConfig, logger arbor.ILogger) *Client {
	return NewClient(cfg.WebhookURL, common.ParseTimeout(cfg.Timeout), logger)
}

// Submit posts a chat message (plus any attachments and voice recording) to
// the backend trigger endpoint and returns its raw response body. jobID is a
// pre-generated identifier the workflow may adopt when reporting back;
// backends that assign their own ids simply ignore it. Non-2xx responses are
// errors carrying the status and body for diagnostics.
func (c *Client) Submit(ctx context.Context, sessionID, jobID, message string, files []UploadFile, voice []byte) ([]byte, error) {
	if c.webhookURL == "" {
		return nil, ErrBackendURLMissing
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("sessionId", sessionID); err != nil {
		return nil, fmt.Errorf("failed to encode session field: %w", err)
	}
	if jobID != "" {
		if err := writer.WriteField("jobId", jobID); err != nil {
			return nil, fmt.Errorf("failed to encode job id field: %w", err)
		}
	}
	if err := writer.WriteField("message", message); err != nil {
		return nil, fmt.Errorf("failed to encode message field: %w", err)
	}

	for _, file := range files {
		part, err := writer.CreateFormFile("files[]", file.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to attach file %s: %w", file.Name, err)
		}
		if _, err := part.Write(file.Content); err != nil {
			return nil, fmt.Errorf("failed to write file %s: %w", file.Name, err)
		}
	}

	if len(voice) > 0 {
		part, err := writer.CreateFormFile("voice", voiceFilename)
		if err != nil {
			return nil, fmt.Errorf("failed to attach voice recording: %w", err)
		}
		if _, err := part.Write(voice); err != nil {
			return nil, fmt.Errorf("failed to write voice recording: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend trigger call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}

	c.logger.Info().
		Str("session_id", sessionID).
		Int("status_code", resp.StatusCode).
		Str("duration", time.Since(start).String()).
		Msg("Backend trigger call completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, truncate(string(body), 500))
	}

	return body, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
