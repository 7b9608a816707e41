package handlers

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/models"
)

func TestStreamHandlerReplaysTerminalRecord(t *testing.T) {
	svc, reg := newTestIngress(t)
	updates := NewUpdateHandler(svc, arbor.NewLogger())
	sse := NewSSEHandler(svc, reg, time.Minute, arbor.NewLogger())

	postUpdate(t, updates, `{"jobId": "job_done", "status": "completed", "answer": "already finished"}`)

	req := httptest.NewRequest(http.MethodGet, "/api/stream/job_done", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		sse.StreamHandler(rec, req)
		close(done)
	}()

	// The handler must return on its own after replaying the terminal record.
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not close after terminal replay")
	}

	body := rec.Body.String()
	assert.Contains(t, body, "event: update")
	assert.Contains(t, body, "already finished")
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestStreamHandlerDeliversLiveTerminalUpdate(t *testing.T) {
	svc, reg := newTestIngress(t)
	updates := NewUpdateHandler(svc, arbor.NewLogger())
	sse := NewSSEHandler(svc, reg, time.Minute, arbor.NewLogger())

	server := httptest.NewServer(http.HandlerFunc(sse.StreamHandler))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/stream/job_live")
	require.NoError(t, err)
	defer resp.Body.Close()

	// Let the stream subscribe, then ingest the terminal update.
	require.Eventually(t, func() bool {
		return reg.Count("job_live") > 0
	}, time.Second, 5*time.Millisecond)

	postUpdate(t, updates, `{"jobId": "job_live", "status": "completed", "answer": "live result"}`)

	reader := bufio.NewReader(resp.Body)
	var lines []string
	deadline := time.After(2 * time.Second)
	for {
		lineCh := make(chan string, 1)
		go func() {
			line, err := reader.ReadString('\n')
			if err == nil {
				lineCh <- line
			}
		}()
		select {
		case line := <-lineCh:
			lines = append(lines, line)
			if strings.Contains(line, "live result") {
				return
			}
		case <-deadline:
			t.Fatalf("terminal update never arrived on stream; got: %v", lines)
		}
	}
}

func TestStreamHandlerRequiresJobID(t *testing.T) {
	svc, reg := newTestIngress(t)
	sse := NewSSEHandler(svc, reg, time.Minute, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/stream/", nil)
	rec := httptest.NewRecorder()
	sse.StreamHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBroadcastStreamReceivesJobUpdates(t *testing.T) {
	svc, reg := newTestIngress(t)
	updates := NewUpdateHandler(svc, arbor.NewLogger())
	sse := NewSSEHandler(svc, reg, time.Minute, arbor.NewLogger())

	server := httptest.NewServer(http.HandlerFunc(sse.StreamHandler))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/stream/" + models.BroadcastJobID)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool {
		return reg.Count(models.BroadcastJobID) > 0
	}, time.Second, 5*time.Millisecond)

	// A job-specific terminal update reaches the broadcast stream too, and
	// must not close it.
	postUpdate(t, updates, `{"jobId": "job_b", "status": "completed", "answer": "first"}`)
	postUpdate(t, updates, `{"jobId": "job_c", "status": "completed", "answer": "second"}`)

	reader := bufio.NewReader(resp.Body)
	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for !(seen["first"] && seen["second"]) {
		lineCh := make(chan string, 1)
		go func() {
			line, err := reader.ReadString('\n')
			if err == nil {
				lineCh <- line
			}
		}()
		select {
		case line := <-lineCh:
			if strings.Contains(line, "first") {
				seen["first"] = true
			}
			if strings.Contains(line, "second") {
				seen["second"] = true
			}
		case <-deadline:
			t.Fatalf("broadcast stream missed updates: %v", seen)
		}
	}
}
