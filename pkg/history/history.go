// Package history records completed exchanges so conversations can be
// listed and replayed without asking the remote service.
package history

import (
	"context"
	"time"

	"github.com/papercomputeco/tether/pkg/exchange"
)

// Record is one completed exchange: a user prompt and the final reply.
type Record struct {
	// ID is the user message id. Records are unique by ID.
	ID string `json:"id"`

	ConversationID    string        `json:"conversation_id"`
	ParentMessageID   string        `json:"parent_message_id"`
	ResponseMessageID string        `json:"response_message_id"`
	Action            string        `json:"action"`
	Model             string        `json:"model"`
	Prompt            string        `json:"prompt"`
	Response          string        `json:"response"`
	CreatedAt         time.Time     `json:"created_at"`
	Duration          time.Duration `json:"duration"`
}

// NewRecord builds a Record from a completed exchange.
func NewRecord(c exchange.Completed) *Record {
	return &Record{
		ID:                c.PromptID,
		ConversationID:    c.Result.ConversationID,
		ParentMessageID:   c.ParentMessageID,
		ResponseMessageID: c.Result.MessageID,
		Action:            c.Action,
		Model:             c.Model,
		Prompt:            c.Prompt,
		Response:          c.Result.Response,
		CreatedAt:         c.StartedAt.UTC(),
		Duration:          c.Duration,
	}
}

// Store persists records.
type Store interface {
	// Put stores a record. Storing a record whose ID already exists replaces it,
	// so a regenerated reply supersedes the earlier one.
	Put(ctx context.Context, r *Record) error

	// Conversation returns the records of one conversation, oldest first.
	// Returns NotFoundError when none exist.
	Conversation(ctx context.Context, conversationID string) ([]*Record, error)

	// Recent returns up to limit records across all conversations, newest first.
	Recent(ctx context.Context, limit int) ([]*Record, error)

	// Close releases any resources held by the store.
	Close() error
}

// NotFoundError is returned when a conversation has no records.
type NotFoundError struct {
	ConversationID string
}

func (e NotFoundError) Error() string {
	if e.ConversationID == "" {
		return "conversation not found"
	}

	return "conversation not found: " + e.ConversationID
}
