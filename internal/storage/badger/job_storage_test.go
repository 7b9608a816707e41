package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/common"
	"github.com/ternarybob/courier/internal/interfaces"
	"github.com/ternarybob/courier/internal/models"
)

func newTestStore(t *testing.T) interfaces.JobStore {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)

	store := NewJobStorage(db, logger)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := &models.JobRecord{
		ID:        "job_1",
		SessionID: "sess_1",
		Status:    models.JobStatusInProgress,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, store.Upsert(ctx, record))

	got, err := store.Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, "sess_1", got.SessionID)
	assert.Equal(t, models.JobStatusInProgress, got.Status)

	// Upsert replaces.
	record.Status = models.JobStatusCompleted
	record.Answer = "finished"
	require.NoError(t, store.Upsert(ctx, record))

	got, err = store.Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, "finished", got.Answer)

	require.NoError(t, store.Delete(ctx, "job_1"))
	_, err = store.Get(ctx, "job_1")
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
}

func TestDeleteUnknownJobTolerated(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Delete(context.Background(), "never_existed"))
}

func TestDeleteTerminalBeforeCutoff(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	require.NoError(t, store.Upsert(ctx, &models.JobRecord{ID: "expired", Status: models.JobStatusCompleted, UpdatedAt: old}))
	require.NoError(t, store.Upsert(ctx, &models.JobRecord{ID: "failed_old", Status: models.JobStatusError, UpdatedAt: old}))
	require.NoError(t, store.Upsert(ctx, &models.JobRecord{ID: "recent", Status: models.JobStatusCompleted, UpdatedAt: time.Now()}))
	require.NoError(t, store.Upsert(ctx, &models.JobRecord{ID: "active", Status: models.JobStatusInProgress, UpdatedAt: old}))

	removed, err := store.DeleteTerminalBefore(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = store.Get(ctx, "recent")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "active")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "expired")
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
}

func TestRecordsSurviveReopen(t *testing.T) {
	logger := arbor.NewLogger()
	dir := t.TempDir()
	ctx := context.Background()

	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: dir})
	require.NoError(t, err)
	store := NewJobStorage(db, logger)

	require.NoError(t, store.Upsert(ctx, &models.JobRecord{
		ID:     "durable",
		Status: models.JobStatusCompleted,
		Answer: "still here",
	}))
	require.NoError(t, store.Close())

	db, err = NewBadgerDB(logger, &common.BadgerConfig{Path: dir})
	require.NoError(t, err)
	store = NewJobStorage(db, logger)
	defer store.Close()

	got, err := store.Get(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, "still here", got.Answer)
}
