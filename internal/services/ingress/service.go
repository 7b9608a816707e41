// -----------------------------------------------------------------------
// Update Ingress - normalizes, upserts, and fans out job status updates
// -----------------------------------------------------------------------

package ingress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/interfaces"
	"github.com/ternarybob/courier/internal/models"
)

// statusRank orders the monotonic lifecycle. An update may never move a
// record to a lower rank; equal-rank updates still merge answer and metadata.
var statusRank = map[models.JobStatus]int{
	models.JobStatusPending:    0,
	models.JobStatusInProgress: 1,
	models.JobStatusCompleted:  2,
	models.JobStatusError:      2,
}

// Service is the single mutation path for the job store. External triggers
// (the automation backend) post raw update documents; Ingest normalizes them,
// enforces terminal immutability, upserts, and fans out to subscribers.
type Service struct {
	store     interfaces.JobStore
	publisher interfaces.UpdatePublisher
	retention time.Duration
	logger    arbor.ILogger

	// ingestMu serializes the read-merge-write in Ingest so a concurrent
	// lower-rank update cannot interleave and regress a terminal record.
	ingestMu sync.Mutex

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewService creates the update ingress. retention is the grace period a
// terminal record stays queryable before deletion.
func NewService(store interfaces.JobStore, publisher interfaces.UpdatePublisher, retention time.Duration, logger arbor.ILogger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		retention: retention,
		logger:    logger,
		timers:    make(map[string]*time.Timer),
	}
}

// Ingest processes one update document. Always succeeds once the document
// normalizes, even with zero subscribers present - the record remains stored
// for a late poller. Updates for an already-terminal job are ignored (logged,
// not an error) so a terminal answer can never be overwritten.
func (s *Service) Ingest(ctx context.Context, payload map[string]interface{}) (*models.JobUpdate, error) {
	update, err := NormalizeUpdate(payload)
	if err != nil {
		return nil, err
	}

	// Broadcast ingress: not tied to any job, nothing to store. Delivered to
	// every broadcast subscriber; those connections stay open afterwards.
	if update.IsBroadcast() {
		s.logger.Info().
			Str("status", string(update.Status)).
			Msg("Broadcast update received")
		s.publisher.Publish(update)
		return &update, nil
	}

	// Held through the fan-out so per-job delivery order matches call-arrival
	// order.
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	stored, err := s.store.Get(ctx, update.JobID)
	switch {
	case err == nil:
		if stored.IsTerminal() {
			s.logger.Warn().
				Str("job_id", update.JobID).
				Str("stored_status", string(stored.Status)).
				Str("ignored_status", string(update.Status)).
				Msg("Update for terminal job ignored")
			terminal := recordToUpdate(stored)
			return &terminal, nil
		}
	case errors.Is(err, interfaces.ErrJobNotFound):
		stored = &models.JobRecord{
			ID:        update.JobID,
			CreatedAt: time.Now(),
			Status:    models.JobStatusPending,
		}
	default:
		return nil, err
	}

	mergeUpdate(stored, &update)

	if err := s.store.Upsert(ctx, stored); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", stored.ID).
		Str("status", string(stored.Status)).
		Msg("Job update ingested")

	// Fan-out reflects the merged record, not the raw document, so partial
	// updates still deliver the full known state.
	merged := recordToUpdate(stored)
	s.publisher.Publish(merged)

	if stored.IsTerminal() {
		s.scheduleDeletion(stored.ID)
	}

	return &merged, nil
}

// Lookup returns the stored record for jobID. Unknown jobs come back as a
// fresh pending record, which is what a poller that raced the first ingress
// (or arrived after cleanup) should see.
func (s *Service) Lookup(ctx context.Context, jobID string) (*models.JobRecord, error) {
	record, err := s.store.Get(ctx, jobID)
	if errors.Is(err, interfaces.ErrJobNotFound) {
		return &models.JobRecord{ID: jobID, Status: models.JobStatusPending}, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// SweepExpired removes terminal records older than the retention window.
// Run on a schedule to catch records whose deletion timer was lost with a
// previous process (badger backend).
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	removed, err := s.store.DeleteTerminalBefore(ctx, time.Now().Add(-s.retention))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Expired job records swept")
	}
	return removed, nil
}

func (s *Service) scheduleDeletion(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if timer, ok := s.timers[jobID]; ok {
		timer.Stop()
	}

	s.timers[jobID] = time.AfterFunc(s.retention, func() {
		if err := s.store.Delete(context.Background(), jobID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to delete expired job record")
		}
		s.mu.Lock()
		delete(s.timers, jobID)
		s.mu.Unlock()
	})
}

// Close stops all pending deletion timers. Stored records are left in place;
// the retention sweep reclaims them on the next start.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for jobID, timer := range s.timers {
		timer.Stop()
		delete(s.timers, jobID)
	}
	return nil
}

func mergeUpdate(record *models.JobRecord, update *models.JobUpdate) {
	if statusRank[update.Status] >= statusRank[record.Status] {
		record.Status = update.Status
	}
	if update.SessionID != "" {
		record.SessionID = update.SessionID
	}
	if update.PipelineID != "" {
		record.PipelineID = update.PipelineID
	}
	if update.Answer != "" {
		record.Answer = update.Answer
	}
	if update.Error != "" {
		record.Error = update.Error
	}
	if len(update.Meta) > 0 {
		if record.Meta == nil {
			record.Meta = make(map[string]interface{}, len(update.Meta))
		}
		for k, v := range update.Meta {
			record.Meta[k] = v
		}
	}
	record.UpdatedAt = time.Now()
}

func recordToUpdate(record *models.JobRecord) models.JobUpdate {
	return models.JobUpdate{
		JobID:      record.ID,
		SessionID:  record.SessionID,
		PipelineID: record.PipelineID,
		Status:     record.Status,
		Answer:     record.Answer,
		Meta:       record.Meta,
		Error:      record.Error,
		Timestamp:  record.UpdatedAt,
	}
}
