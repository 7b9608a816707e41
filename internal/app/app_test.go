package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/common"
	"github.com/ternarybob/courier/internal/models"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Type = "memory"
	cfg.Delivery.SweepSchedule = ""
	a, err := New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestIngestedTerminalUpdateAppendsToSession(t *testing.T) {
	a := newTestApp(t)

	// No watch is tracking job_1; the session-tagged terminal update still
	// has to land in the conversation via the broadcast feed.
	_, err := a.IngressService.Ingest(context.Background(), map[string]interface{}{
		"jobId":     "job_1",
		"sessionId": "sess_1",
		"status":    "completed",
		"answer":    "landed without a watch",
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		messages := a.Orchestrator.Messages("sess_1")
		return len(messages) == 1 &&
			messages[0].Content == "landed without a watch" &&
			messages[0].State == models.MessageFinal
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcastUpdateDoesNotAppendTurn(t *testing.T) {
	a := newTestApp(t)

	_, err := a.IngressService.Ingest(context.Background(), map[string]interface{}{
		"status": "completed",
		"answer": "to everyone",
	})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, a.Orchestrator.Messages(""))
}
