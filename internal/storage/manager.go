package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/common"
	"github.com/ternarybob/courier/internal/interfaces"
	"github.com/ternarybob/courier/internal/storage/badger"
	"github.com/ternarybob/courier/internal/storage/memory"
)

// NewJobStore constructs the configured job store backend. The memory backend
// is reset on every restart; badger persists records across restarts.
func NewJobStore(logger arbor.ILogger, config *common.Config) (interfaces.JobStore, error) {
	switch config.Storage.Type {
	case "memory":
		logger.Debug().Str("storage", "memory").Msg("Job store initialized")
		return memory.NewJobStorage(logger), nil

	case "badger":
		db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger storage: %w", err)
		}
		logger.Debug().
			Str("storage", "badger").
			Str("path", config.Storage.Badger.Path).
			Msg("Job store initialized")
		return badger.NewJobStorage(db, logger), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", config.Storage.Type)
	}
}
