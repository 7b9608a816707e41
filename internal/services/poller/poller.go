// -----------------------------------------------------------------------
// Polling Fallback - periodic job store checks when push delivery fails
// -----------------------------------------------------------------------

package poller

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/models"
)

// ErrPollTimeout is returned when a job does not reach a terminal state
// within the configured attempt budget. Distinct from a failed job: the
// caller should surface it as "job timed out", not as the job's error.
var ErrPollTimeout = errors.New("job did not reach a terminal state before the polling deadline")

// StatusFunc fetches the current record for a job. Typically backed by the
// ingress Lookup method in-process, or by the HTTP status endpoint from a
// remote client.
type StatusFunc func(ctx context.Context, jobID string) (*models.JobRecord, error)

// Poller repeatedly checks job state at a fixed interval until the job is
// terminal, the attempt budget runs out, or the context is cancelled. It is
// the fallback path when the push channel is unavailable.
type Poller struct {
	status      StatusFunc
	interval    time.Duration
	maxAttempts int
	logger      arbor.ILogger
}

// NewPoller creates a poller. interval and maxAttempts fall back to the
// service defaults (2s, 300 attempts) when non-positive.
func NewPoller(status StatusFunc, interval time.Duration, maxAttempts int, logger arbor.ILogger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 300
	}
	return &Poller{
		status:      status,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Watch blocks until jobID reaches a terminal state and returns its record.
// Individual fetch failures are logged and retried; they count against the
// attempt budget but do not abort the watch. Exhausting the budget returns
// ErrPollTimeout.
func (p *Poller) Watch(ctx context.Context, jobID string) (*models.JobRecord, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		record, err := p.status(ctx, jobID)
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("job_id", jobID).
				Int("attempt", attempt).
				Msg("Status check failed, retrying")
		} else if record.IsTerminal() {
			p.logger.Debug().
				Str("job_id", jobID).
				Str("status", string(record.Status)).
				Int("attempts", attempt).
				Msg("Polling resolved terminal state")
			return record, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	p.logger.Warn().
		Str("job_id", jobID).
		Int("attempts", p.maxAttempts).
		Msg("Polling attempts exhausted")
	return nil, ErrPollTimeout
}
