// Package exchange drives one send-message call against the conversation
// backend: it obtains a bearer credential, opens a streaming request through
// a Transport, decodes the SSE response, and resolves with the last snapshot.
//
// Authorization and session failures are retried once each; everything else
// surfaces as a typed *Error.
package exchange

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/papercomputeco/tether/pkg/auth"
)

const (
	// ActionNext continues the conversation with a new user message.
	ActionNext = "next"

	// ActionVariant regenerates the reply to an existing user message.
	ActionVariant = "variant"

	// DefaultModel is the model selector sent when none is configured.
	DefaultModel = "text-davinci-002-render-sha"

	// DefaultBackendPath is the conversation endpoint relative to the base URL.
	DefaultBackendPath = "/backend-api/conversation"

	// DoneSentinel terminates the stream. It is never parsed as a payload.
	DoneSentinel = "[DONE]"

	roleUser        = "user"
	contentTypeText = "text"
)

// Content is the body of one conversation turn.
type Content struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

// Turn is one message sent to the backend.
type Turn struct {
	ID      string  `json:"id"`
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// RequestBody is the JSON body of a conversation request.
type RequestBody struct {
	Action          string `json:"action"`
	Messages        []Turn `json:"messages"`
	Model           string `json:"model"`
	ParentMessageID string `json:"parent_message_id"`
	ConversationID  string `json:"conversation_id,omitempty"`
}

// Snapshot is the running state of a reply. Each update replaces Response
// wholesale; the backend streams full text, not deltas.
type Snapshot struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Response       string `json:"response"`
}

// Message is one send request.
type Message struct {
	// Text is the user's message.
	Text string

	// ConversationID continues an existing conversation. Empty starts a new one.
	ConversationID string

	// ParentMessageID is the message this one replies to. Defaults to a fresh UUID.
	ParentMessageID string

	// MessageID identifies the user message. Defaults to a fresh UUID.
	MessageID string

	// Action defaults to ActionNext.
	Action string

	// Timeout bounds the whole call including retries. Zero means no bound.
	Timeout time.Duration

	// OnProgress receives every updated snapshot until the call resolves.
	OnProgress ProgressFunc
}

// ProgressFunc receives snapshots as the reply streams in. It is never
// called after Send returns.
type ProgressFunc func(Snapshot)

// Request is what the orchestrator asks a Transport to carry.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Response is a Transport's answer. Body is the streaming SSE response and
// must be closed by the receiver.
type Response struct {
	StatusCode int
	Status     string
	Body       io.ReadCloser
}

// Transport physically carries requests to the backend.
type Transport interface {
	Perform(ctx context.Context, req *Request) (*Response, error)
}

// Authenticator produces bearer credentials.
type Authenticator interface {
	Login(ctx context.Context) (*auth.Session, error)
}

// SessionRefresher renews a transport's side-channel session (for example
// an edge clearance cookie) in place.
type SessionRefresher interface {
	Refresh(ctx context.Context) error
}

// Completed describes a finished exchange for recorders.
type Completed struct {
	Action          string
	Model           string
	Prompt          string
	PromptID        string
	ParentMessageID string
	Result          Snapshot
	StartedAt       time.Time
	Duration        time.Duration
}

// Recorder receives completed exchanges. Record must not block.
type Recorder interface {
	Record(c Completed)
}
