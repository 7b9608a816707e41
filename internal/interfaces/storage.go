package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/courier/internal/models"
)

// ErrJobNotFound is returned by JobStore.Get for unknown job identifiers.
var ErrJobNotFound = errors.New("job not found")

// JobStore holds the latest known state of each in-flight job, addressable by
// job identifier. Implementations: memory (non-durable) and badger (durable
// across restarts). All mutation goes through the update ingress; reads are
// safe for concurrent use with writes.
type JobStore interface {
	// Upsert stores or replaces the record keyed by record.ID.
	Upsert(ctx context.Context, record *models.JobRecord) error

	// Get returns the record for jobID, or ErrJobNotFound.
	Get(ctx context.Context, jobID string) (*models.JobRecord, error)

	// Delete removes the record for jobID. Deleting an unknown id is not an
	// error.
	Delete(ctx context.Context, jobID string) error

	// DeleteTerminalBefore removes terminal records last updated before the
	// cutoff and returns how many were removed. Used by the retention sweep.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases the underlying storage.
	Close() error
}
