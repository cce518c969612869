package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/tether/pkg/exchange"
	"github.com/papercomputeco/tether/pkg/history"
	"github.com/papercomputeco/tether/pkg/sse"
)

const defaultHistoryLimit = 50

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleSendMessage relays one message. By default the reply streams back as
// SSE: a snapshot event per update, then a single done or error event.
func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	var req MessageRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	msg, err := s.toMessage(&req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	if !req.streaming() {
		snap, err := s.sender.Send(s.ctx, msg)
		if err != nil {
			return c.Status(statusFor(err)).JSON(errorResponse(err))
		}
		return c.JSON(messageResponse(snap))
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	// fasthttp recycles the request context once the handler returns, so the
	// exchange runs on the server context and writes through a pipe that
	// fasthttp drains in chunked encoding.
	pr, pw := io.Pipe()
	go s.stream(pw, msg)

	c.Context().Response.SetBodyStream(pr, -1)
	return nil
}

func (s *Server) stream(pw *io.PipeWriter, msg *exchange.Message) {
	defer pw.Close()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	var (
		mu  sync.Mutex
		seq int
	)
	emit := func(eventType string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		seq++
		return sse.Write(pw, sse.Event{ID: strconv.Itoa(seq), Type: eventType, Data: string(data)})
	}

	msg.OnProgress = func(snap exchange.Snapshot) {
		if err := emit(EventSnapshot, messageResponse(&snap)); err != nil {
			// The client went away; stop the exchange.
			s.logger.Debug("relay client disconnected", "error", err)
			cancel()
		}
	}

	snap, err := s.sender.Send(ctx, msg)
	if err != nil {
		s.logger.Warn("relayed exchange failed", "kind", exchange.KindOf(err), "error", err)
		_ = emit(EventError, errorResponse(err))
		return
	}
	_ = emit(EventDone, messageResponse(snap))
}

func (s *Server) toMessage(req *MessageRequest) (*exchange.Message, error) {
	if req.Text == "" {
		return nil, errors.New("text is required")
	}
	switch req.Action {
	case "", exchange.ActionNext, exchange.ActionVariant:
	default:
		return nil, errors.New("action must be next or variant")
	}
	if req.TimeoutMs < 0 {
		return nil, errors.New("timeout_ms must not be negative")
	}

	timeout := s.config.DefaultTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	return &exchange.Message{
		Text:            req.Text,
		ConversationID:  req.ConversationID,
		ParentMessageID: req.ParentMessageID,
		MessageID:       req.MessageID,
		Action:          req.Action,
		Timeout:         timeout,
	}, nil
}

// handleGetConversation returns the recorded turns of a conversation, oldest first.
func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	if s.history == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "history is disabled"})
	}

	id := c.Params("id")
	records, err := s.history.Conversation(c.Context(), id)
	if err != nil {
		var notFound history.NotFoundError
		if errors.As(err, &notFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "conversation not found"})
		}
		s.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to load conversation"})
	}

	turns := turnRecords(records)
	return c.JSON(ConversationResponse{
		ConversationID: id,
		Turns:          turns,
		Count:          len(turns),
	})
}

// handleListHistory returns recent turns across conversations, newest first.
func (s *Server) handleListHistory(c *fiber.Ctx) error {
	if s.history == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "history is disabled"})
	}

	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "limit must be positive"})
	}

	records, err := s.history.Recent(c.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list history", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list history"})
	}

	turns := turnRecords(records)
	return c.JSON(HistoryResponse{Turns: turns, Count: len(turns)})
}

func messageResponse(snap *exchange.Snapshot) MessageResponse {
	return MessageResponse{
		ConversationID: snap.ConversationID,
		MessageID:      snap.MessageID,
		Response:       snap.Response,
	}
}

func errorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error(), Kind: string(exchange.KindOf(err))}
	var xerr *exchange.Error
	if errors.As(err, &xerr) {
		resp.StatusCode = xerr.StatusCode
	}
	return resp
}

// statusFor maps an exchange failure to the relay's HTTP status.
func statusFor(err error) int {
	switch exchange.KindOf(err) {
	case exchange.KindAuthExpired:
		return fiber.StatusUnauthorized
	case exchange.KindSessionStale:
		return fiber.StatusServiceUnavailable
	case exchange.KindTimeout:
		return fiber.StatusGatewayTimeout
	case exchange.KindCanceled:
		return fiber.StatusRequestTimeout
	case exchange.KindTransportFailure:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
