package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole identifies who produced a conversation turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageState tracks the delivery state of an assistant turn.
type MessageState string

const (
	// MessagePending marks a provisional turn shown while a job is in flight.
	MessagePending MessageState = "pending"
	// MessageFinal marks a turn whose content is the delivered answer.
	MessageFinal MessageState = "final"
	// MessageError marks a turn representing a failed submission or job.
	MessageError MessageState = "error"
)

// ChatMessage is one turn in a conversation. Assistant turns created before
// their job completes carry State=pending and the tracked JobID; they are
// mutated in place when the terminal update arrives.
type ChatMessage struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Role      MessageRole  `json:"role"`
	Content   string       `json:"content"`
	JobID     string       `json:"job_id,omitempty"`
	State     MessageState `json:"state"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewChatMessage creates a conversation turn with a generated identifier.
func NewChatMessage(sessionID string, role MessageRole, content string) *ChatMessage {
	now := time.Now()
	return &ChatMessage{
		ID:        "msg_" + uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		State:     MessageFinal,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
