// -----------------------------------------------------------------------
// Conversation orchestrator - reconciles submissions and terminal updates
// into per-session message lists
// -----------------------------------------------------------------------

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/common"
	"github.com/ternarybob/courier/internal/interfaces"
	"github.com/ternarybob/courier/internal/models"
	"github.com/ternarybob/courier/internal/services/poller"
)

// provisionalText is the placeholder shown while an asynchronous job runs.
const provisionalText = "Working on it…"

// Orchestrator owns the per-session conversations. It submits chat messages
// to the backend, classifies the synchronous response, tracks provisional
// turns for acknowledged jobs, and reconciles terminal updates into the
// conversation: mutate-in-place when the job id is tracked, append otherwise.
type Orchestrator struct {
	client     *Client
	subscriber interfaces.UpdateSubscriber
	poll       *poller.Poller
	logger     arbor.ILogger

	mu       sync.Mutex
	sessions map[string]*session
	tracked  map[string]*trackedJob
}

type session struct {
	messages []*models.ChatMessage
}

// trackedJob links an in-flight job to the provisional turn awaiting its
// result. cancel stops the watch goroutine on clear or shutdown.
type trackedJob struct {
	sessionID string
	messageID string
	cancel    context.CancelFunc
	resolved  bool
}

// NewOrchestrator creates the conversation orchestrator.
func NewOrchestrator(client *Client, subscriber interfaces.UpdateSubscriber, poll *poller.Poller, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		client:     client,
		subscriber: subscriber,
		poll:       poll,
		logger:     logger,
		sessions:   make(map[string]*session),
		tracked:    make(map[string]*trackedJob),
	}
}

// Submit relays a chat message to the backend and records the resulting
// turns. The returned messages are the user turn and the assistant turn in
// their immediate post-classification state; a provisional assistant turn is
// finalized later by ReconcileUpdate or the poll watchdog.
func (o *Orchestrator) Submit(ctx context.Context, sessionID, message string, files []UploadFile, voice []byte) ([]*models.ChatMessage, error) {
	userMsg := models.NewChatMessage(sessionID, models.RoleUser, message)
	o.appendMessage(userMsg)

	// Pre-generated so a workflow configured to pass the id through can
	// report against it even when the trigger response carries no body.
	preID := common.NewJobID()

	body, err := o.client.Submit(ctx, sessionID, preID, message, files, voice)
	if err != nil {
		assistant := models.NewChatMessage(sessionID, models.RoleAssistant, "Sorry, I couldn't reach the automation backend.")
		assistant.State = models.MessageError
		assistant.Error = err.Error()
		o.appendMessage(assistant)
		o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Chat submission failed")
		return []*models.ChatMessage{userMsg, assistant}, err
	}

	assistant := o.classifyIntoTurn(sessionID, preID, body)
	o.appendMessage(assistant)
	// Track only after the provisional turn is in the conversation, so a
	// terminal update arriving immediately still finds it.
	if assistant.State == models.MessagePending && assistant.JobID != "" {
		o.track(sessionID, assistant.JobID, assistant.ID)
	}
	return []*models.ChatMessage{userMsg, assistant}, nil
}

func (o *Orchestrator) classifyIntoTurn(sessionID, preID string, body []byte) *models.ChatMessage {
	// An accepted submission with an empty body means the workflow will
	// report asynchronously; track it under the id sent with the form.
	if len(bytes.TrimSpace(body)) == 0 {
		msg := models.NewChatMessage(sessionID, models.RoleAssistant, provisionalText)
		msg.State = models.MessagePending
		msg.JobID = preID
		o.logger.Info().
			Str("session_id", sessionID).
			Str("job_id", preID).
			Msg("Empty trigger response, tracking under pre-generated job id")
		return msg
	}

	classified := Classify(body)

	switch classified.Kind {
	case DispositionFailed:
		msg := models.NewChatMessage(sessionID, models.RoleAssistant, classified.Error)
		msg.State = models.MessageError
		msg.Error = classified.Error
		return msg

	case DispositionTracked:
		msg := models.NewChatMessage(sessionID, models.RoleAssistant, provisionalText)
		msg.State = models.MessagePending
		msg.JobID = classified.JobID
		o.logger.Info().
			Str("session_id", sessionID).
			Str("job_id", classified.JobID).
			Msg("Job acknowledged, awaiting terminal update")
		return msg

	case DispositionImmediate:
		return models.NewChatMessage(sessionID, models.RoleAssistant, classified.Answer)

	default:
		// Unrecognized shape: surface the raw payload so the turn is at
		// least diagnosable rather than silently dropped.
		o.logger.Warn().
			Str("session_id", sessionID).
			Msg("Unrecognized trigger response shape")
		return models.NewChatMessage(sessionID, models.RoleAssistant, classified.Raw)
	}
}

// track registers a provisional turn for jobID and starts its watch. A job id
// the session already tracks is re-pointed to the newest provisional turn;
// the existing watch keeps running.
func (o *Orchestrator) track(sessionID, jobID, messageID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.tracked[jobID]; ok && !existing.resolved {
		existing.sessionID = sessionID
		existing.messageID = messageID
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.tracked[jobID] = &trackedJob{
		sessionID: sessionID,
		messageID: messageID,
		cancel:    cancel,
	}
	go o.watch(ctx, jobID)
}

// watch waits for the terminal update on the push channel, with the polling
// fallback running in parallel as a watchdog. Whichever resolves first wins;
// terminal immutability upstream makes a double resolution harmless, and the
// resolved flag suppresses it anyway.
func (o *Orchestrator) watch(ctx context.Context, jobID string) {
	sub := o.subscriber.Subscribe(jobID)
	defer o.subscriber.Unsubscribe(sub)

	type pollOutcome struct {
		record *models.JobRecord
		err    error
	}
	pollDone := make(chan pollOutcome, 1)
	go func() {
		record, err := o.poll.Watch(ctx, jobID)
		pollDone <- pollOutcome{record, err}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case update, ok := <-sub.C:
			if !ok {
				return
			}
			if !update.IsTerminal() {
				continue
			}
			o.resolve(jobID, update)
			return

		case outcome := <-pollDone:
			if outcome.err != nil {
				if errors.Is(outcome.err, poller.ErrPollTimeout) {
					o.resolveTimeout(jobID)
				}
				return
			}
			o.resolve(jobID, models.JobUpdate{
				JobID:     outcome.record.ID,
				SessionID: outcome.record.SessionID,
				Status:    outcome.record.Status,
				Answer:    outcome.record.Answer,
				Error:     outcome.record.Error,
				Timestamp: outcome.record.UpdatedAt,
			})
			return
		}
	}
}

// ReconcileUpdate folds an externally-delivered terminal update into the
// conversation. Tracked job ids mutate their provisional turn in place;
// untracked updates carrying a session id append a new turn; duplicates for
// an already-resolved job (broadcast replay of a specifically-delivered
// update) are suppressed.
func (o *Orchestrator) ReconcileUpdate(update models.JobUpdate) {
	if !update.IsTerminal() || update.IsBroadcast() {
		return
	}
	o.resolve(update.JobID, update)
}

func (o *Orchestrator) resolve(jobID string, update models.JobUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()

	tracked, ok := o.tracked[jobID]
	if ok {
		if tracked.resolved {
			return
		}
		tracked.resolved = true
		tracked.cancel()

		if msg := o.findMessageLocked(tracked.sessionID, tracked.messageID); msg != nil {
			applyTerminal(msg, update)
			o.logger.Info().
				Str("session_id", tracked.sessionID).
				Str("job_id", jobID).
				Str("status", string(update.Status)).
				Msg("Provisional turn finalized")
			return
		}
		// Tracked but the turn is gone (conversation cleared mid-flight);
		// fall through to append when a session id is known.
	}

	if update.SessionID == "" {
		o.logger.Debug().
			Str("job_id", jobID).
			Msg("Terminal update with no tracked turn or session, dropped")
		return
	}

	msg := models.NewChatMessage(update.SessionID, models.RoleAssistant, "")
	applyTerminal(msg, update)
	msg.JobID = jobID
	o.appendMessageLocked(msg)
	o.logger.Info().
		Str("session_id", update.SessionID).
		Str("job_id", jobID).
		Msg("Terminal update appended as new turn")
}

// resolveTimeout finalizes a provisional turn whose job never reached a
// terminal state within the polling budget. Rendered as a timeout, not as a
// job failure.
func (o *Orchestrator) resolveTimeout(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	tracked, ok := o.tracked[jobID]
	if !ok || tracked.resolved {
		return
	}
	tracked.resolved = true
	tracked.cancel()

	if msg := o.findMessageLocked(tracked.sessionID, tracked.messageID); msg != nil {
		msg.Content = "The job timed out before producing a result."
		msg.State = models.MessageError
		msg.Error = poller.ErrPollTimeout.Error()
		msg.UpdatedAt = time.Now()
	}

	o.logger.Warn().
		Str("session_id", tracked.sessionID).
		Str("job_id", jobID).
		Msg("Tracked job timed out")
}

func applyTerminal(msg *models.ChatMessage, update models.JobUpdate) {
	switch update.Status {
	case models.JobStatusError:
		msg.State = models.MessageError
		msg.Error = update.Error
		if update.Error != "" {
			msg.Content = update.Error
		} else {
			msg.Content = "The workflow reported a failure."
		}
	default:
		msg.State = models.MessageFinal
		if update.Answer != "" {
			msg.Content = update.Answer
		} else {
			msg.Content = "The workflow completed without an answer."
		}
	}
	msg.UpdatedAt = time.Now()
}

// Messages returns a snapshot of the session's conversation in creation
// order.
func (o *Orchestrator) Messages(sessionID string) []*models.ChatMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, ok := o.sessions[sessionID]
	if !ok {
		return nil
	}

	snapshot := make([]*models.ChatMessage, len(sess.messages))
	for i, msg := range sess.messages {
		copied := *msg
		snapshot[i] = &copied
	}
	return snapshot
}

// Clear removes the session's conversation and cancels every watch it owns.
// Terminal updates arriving afterwards for those jobs are dropped (their
// turns no longer exist and the session is gone).
func (o *Orchestrator) Clear(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for jobID, tracked := range o.tracked {
		if tracked.sessionID != sessionID {
			continue
		}
		tracked.cancel()
		delete(o.tracked, jobID)
	}
	delete(o.sessions, sessionID)

	o.logger.Info().Str("session_id", sessionID).Msg("Conversation cleared")
}

// Close cancels every watch across all sessions.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for jobID, tracked := range o.tracked {
		tracked.cancel()
		delete(o.tracked, jobID)
	}
	return nil
}

func (o *Orchestrator) appendMessage(msg *models.ChatMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.appendMessageLocked(msg)
}

func (o *Orchestrator) appendMessageLocked(msg *models.ChatMessage) {
	sess, ok := o.sessions[msg.SessionID]
	if !ok {
		sess = &session{}
		o.sessions[msg.SessionID] = sess
	}
	sess.messages = append(sess.messages, msg)
}

func (o *Orchestrator) findMessageLocked(sessionID, messageID string) *models.ChatMessage {
	sess, ok := o.sessions[sessionID]
	if !ok {
		return nil
	}
	for _, msg := range sess.messages {
		if msg.ID == messageID {
			return msg
		}
	}
	return nil
}
