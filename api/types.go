package api

import (
	"time"

	"github.com/papercomputeco/tether/pkg/history"
)

const (
	// EventSnapshot carries a MessageResponse with the reply so far.
	EventSnapshot = "snapshot"

	// EventDone carries the final MessageResponse.
	EventDone = "done"

	// EventError carries an ErrorResponse and ends the stream.
	EventError = "error"
)

// MessageRequest is the body of POST /v1/messages.
type MessageRequest struct {
	Text            string `json:"text"`
	ConversationID  string `json:"conversation_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	MessageID       string `json:"message_id,omitempty"`
	Action          string `json:"action,omitempty"`

	// TimeoutMs overrides the relay's default deadline. Zero keeps the default.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`

	// Stream defaults to true. When false the relay answers with one JSON body.
	Stream *bool `json:"stream,omitempty"`
}

func (r *MessageRequest) streaming() bool {
	return r.Stream == nil || *r.Stream
}

// MessageResponse is a snapshot of a reply.
type MessageResponse struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Response       string `json:"response"`
}

// ErrorResponse is returned for failed requests. Kind is set for failed
// exchanges and names the exchange error kind.
type ErrorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

// ConversationResponse lists the recorded turns of one conversation.
type ConversationResponse struct {
	ConversationID string       `json:"conversation_id"`
	Turns          []TurnRecord `json:"turns"`
	Count          int          `json:"count"`
}

// HistoryResponse lists recent turns across conversations, newest first.
type HistoryResponse struct {
	Turns []TurnRecord `json:"turns"`
	Count int          `json:"count"`
}

// TurnRecord is one recorded prompt and reply.
type TurnRecord struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	ParentMessageID   string    `json:"parent_message_id"`
	ResponseMessageID string    `json:"response_message_id"`
	Action            string    `json:"action"`
	Model             string    `json:"model"`
	Prompt            string    `json:"prompt"`
	Response          string    `json:"response"`
	CreatedAt         time.Time `json:"created_at"`
	DurationMs        int64     `json:"duration_ms"`
}

func turnRecords(records []*history.Record) []TurnRecord {
	out := make([]TurnRecord, 0, len(records))
	for _, r := range records {
		out = append(out, TurnRecord{
			ID:                r.ID,
			ConversationID:    r.ConversationID,
			ParentMessageID:   r.ParentMessageID,
			ResponseMessageID: r.ResponseMessageID,
			Action:            r.Action,
			Model:             r.Model,
			Prompt:            r.Prompt,
			Response:          r.Response,
			CreatedAt:         r.CreatedAt,
			DurationMs:        r.Duration.Milliseconds(),
		})
	}
	return out
}
