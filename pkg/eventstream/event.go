// Package eventstream defines the transport-neutral events tether publishes
// about completed exchanges and the Publisher interface backends implement.
package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/tether/pkg/exchange"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeExchangeCompleted is emitted after an exchange resolves successfully.
	EventTypeExchangeCompleted = "tether.exchange.completed"
)

// ExchangeCompletedEvent is a transport-neutral event payload for a completed exchange.
type ExchangeCompletedEvent struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	EventID       string       `json:"event_id"`
	EmittedAt     time.Time    `json:"emitted_at"`
	Source        EventSource  `json:"source"`
	RequestMeta   RequestMeta  `json:"request_meta"`
	Exchange      ExchangeMeta `json:"exchange"`
}

// EventSource identifies where the exchange ran.
type EventSource struct {
	Service string `json:"service,omitempty"`
	Model   string `json:"model"`
}

// RequestMeta captures request lifecycle metadata for the event.
type RequestMeta struct {
	Action      string    `json:"action"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// ExchangeMeta carries the conversation position and content of the exchange.
type ExchangeMeta struct {
	ConversationID    string `json:"conversation_id"`
	PromptID          string `json:"prompt_id"`
	ParentMessageID   string `json:"parent_message_id"`
	ResponseMessageID string `json:"response_message_id"`
	Prompt            string `json:"prompt"`
	Response          string `json:"response"`
}

// NewExchangeCompletedEvent builds the event for c, emitted at now.
func NewExchangeCompletedEvent(c exchange.Completed, service string, now time.Time) *ExchangeCompletedEvent {
	return &ExchangeCompletedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeExchangeCompleted,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     now.UTC(),
		Source: EventSource{
			Service: service,
			Model:   c.Model,
		},
		RequestMeta: RequestMeta{
			Action:      c.Action,
			StartedAt:   c.StartedAt.UTC(),
			CompletedAt: c.StartedAt.Add(c.Duration).UTC(),
			DurationMs:  c.Duration.Milliseconds(),
		},
		Exchange: ExchangeMeta{
			ConversationID:    c.Result.ConversationID,
			PromptID:          c.PromptID,
			ParentMessageID:   c.ParentMessageID,
			ResponseMessageID: c.Result.MessageID,
			Prompt:            c.Prompt,
			Response:          c.Result.Response,
		},
	}
}
