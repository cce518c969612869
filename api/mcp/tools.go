package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/tether/pkg/exchange"
	"github.com/papercomputeco/tether/pkg/history"
)

var (
	sendMessageToolName    = "send_message"
	sendMessageDescription = "Send a message to the conversation service and wait for the complete reply. Pass conversation_id and parent_message_id from a previous result to continue that conversation."

	getConversationToolName    = "get_conversation"
	getConversationDescription = "Return the recorded prompts and replies of a conversation, oldest first."
)

// SendMessageInput represents the input arguments for the send_message tool.
type SendMessageInput struct {
	Text            string `json:"text" jsonschema:"the message to send"`
	ConversationID  string `json:"conversation_id,omitempty" jsonschema:"continue this conversation; omit to start a new one"`
	ParentMessageID string `json:"parent_message_id,omitempty" jsonschema:"the message being replied to, usually the previous reply's message_id"`
	Variant         bool   `json:"variant,omitempty" jsonschema:"regenerate the reply to the parent message instead of continuing"`
	TimeoutMs       int64  `json:"timeout_ms,omitempty" jsonschema:"overall deadline in milliseconds"`
}

// SendMessageOutput represents the output of the send_message tool.
type SendMessageOutput struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Response       string `json:"response"`
}

// GetConversationInput represents the input arguments for the get_conversation tool.
type GetConversationInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"the conversation to read"`
}

// Turn is one recorded prompt and reply.
type Turn struct {
	MessageID string `json:"message_id"`
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
}

// GetConversationOutput represents the output of the get_conversation tool.
type GetConversationOutput struct {
	ConversationID string `json:"conversation_id"`
	Turns          []Turn `json:"turns"`
	Count          int    `json:"count"`
}

func (s *Server) handleSendMessage(ctx context.Context, _ *mcp.CallToolRequest, input SendMessageInput) (*mcp.CallToolResult, SendMessageOutput, error) {
	log := s.config.Logger

	if input.Text == "" {
		return errorResult("text is required"), SendMessageOutput{}, nil
	}
	if input.TimeoutMs < 0 {
		return errorResult("timeout_ms must not be negative"), SendMessageOutput{}, nil
	}

	msg := &exchange.Message{
		Text:            input.Text,
		ConversationID:  input.ConversationID,
		ParentMessageID: input.ParentMessageID,
		Timeout:         s.config.DefaultTimeout,
	}
	if input.Variant {
		msg.Action = exchange.ActionVariant
	}
	if input.TimeoutMs > 0 {
		msg.Timeout = time.Duration(input.TimeoutMs) * time.Millisecond
	}

	log.Debug("MCP send_message request", "conversation_id", input.ConversationID)

	snap, err := s.config.Sender.Send(ctx, msg)
	if err != nil {
		log.Warn("MCP send_message failed", "kind", exchange.KindOf(err), "error", err)
		return errorResult(fmt.Sprintf("Failed to send message (%s): %v", exchange.KindOf(err), err)), SendMessageOutput{}, nil
	}

	output := SendMessageOutput{
		ConversationID: snap.ConversationID,
		MessageID:      snap.MessageID,
		Response:       snap.Response,
	}
	return textResult(output), output, nil
}

func (s *Server) handleGetConversation(ctx context.Context, _ *mcp.CallToolRequest, input GetConversationInput) (*mcp.CallToolResult, GetConversationOutput, error) {
	if input.ConversationID == "" {
		return errorResult("conversation_id is required"), GetConversationOutput{}, nil
	}

	records, err := s.config.History.Conversation(ctx, input.ConversationID)
	if err != nil {
		var notFound history.NotFoundError
		if errors.As(err, &notFound) {
			return errorResult(notFound.Error()), GetConversationOutput{}, nil
		}
		s.config.Logger.Error("failed to load conversation", "error", err)
		return errorResult(fmt.Sprintf("Failed to load conversation: %v", err)), GetConversationOutput{}, nil
	}

	output := GetConversationOutput{
		ConversationID: input.ConversationID,
		Turns:          make([]Turn, 0, len(records)),
		Count:          len(records),
	}
	for _, r := range records {
		output.Turns = append(output.Turns, Turn{
			MessageID: r.ResponseMessageID,
			Prompt:    r.Prompt,
			Response:  r.Response,
		})
	}
	return textResult(output), output, nil
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// textResult serializes v into a TextContent block alongside the structured
// output, for clients that only read text.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to serialize result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
