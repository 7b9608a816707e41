package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/interfaces"
	"github.com/ternarybob/courier/internal/models"
)

// JobStorage is the non-durable job store. State is lost on process restart,
// which the delivery contract explicitly tolerates.
type JobStorage struct {
	mu      sync.RWMutex
	records map[string]models.JobRecord
	logger  arbor.ILogger
}

// NewJobStorage creates an in-memory JobStore.
func NewJobStorage(logger arbor.ILogger) interfaces.JobStore {
	return &JobStorage{
		records: make(map[string]models.JobRecord),
		logger:  logger,
	}
}

func (s *JobStorage) Upsert(ctx context.Context, record *models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stored by value so later caller mutation cannot leak into the store.
	s.records[record.ID] = *record
	return nil
}

func (s *JobStorage) Get(ctx context.Context, jobID string) (*models.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[jobID]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	return &record, nil
}

func (s *JobStorage) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, jobID)
	return nil
}

func (s *JobStorage) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.records {
		if record.IsTerminal() && record.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

func (s *JobStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]models.JobRecord)
	return nil
}
