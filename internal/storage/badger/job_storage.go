package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/interfaces"
	"github.com/ternarybob/courier/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStore interface for Badger. Records survive
// process restarts; the retention sweep removes terminal records whose
// deletion timer was lost with the previous process.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStore {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) Upsert(ctx context.Context, record *models.JobRecord) error {
	if record.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save job record: %w", err)
	}
	return nil
}

func (s *JobStorage) Get(ctx context.Context, jobID string) (*models.JobRecord, error) {
	var record models.JobRecord
	if err := s.db.Store().Get(jobID, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}
	return &record, nil
}

func (s *JobStorage) Delete(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, models.JobRecord{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete job record: %w", err)
	}
	return nil
}

func (s *JobStorage) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var expired []models.JobRecord
	query := badgerhold.Where("Status").In(models.JobStatusCompleted, models.JobStatusError).
		And("UpdatedAt").Lt(cutoff)

	if err := s.db.Store().Find(&expired, query); err != nil {
		return 0, fmt.Errorf("failed to query expired job records: %w", err)
	}

	removed := 0
	for i := range expired {
		if err := s.db.Store().Delete(expired[i].ID, models.JobRecord{}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", expired[i].ID).Msg("Failed to delete expired job record")
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *JobStorage) Close() error {
	return s.db.Close()
}
