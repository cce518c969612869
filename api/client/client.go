// Package client talks to a running tether relay. It implements the same
// Send contract as exchange.Client, so commands can route through the relay
// without changing how they consume progress and errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/papercomputeco/tether/api"
	"github.com/papercomputeco/tether/pkg/exchange"
	"github.com/papercomputeco/tether/pkg/logger"
	"github.com/papercomputeco/tether/pkg/sse"
)

const messagesPath = "/v1/messages"

type Config struct {
	// BaseURL is the relay address, e.g. http://localhost:8787.
	BaseURL string

	// HTTPClient defaults to a client without a timeout; deadlines come from
	// the message and the caller's context.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client sends messages through a relay.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a relay client.
func New(c *Config) (*Client, error) {
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return nil, errors.New("relay base URL is required")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	log := c.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Client{
		baseURL:    strings.TrimRight(c.BaseURL, "/"),
		httpClient: httpClient,
		logger:     log,
	}, nil
}

// Ping checks that the relay is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return fmt.Errorf("creating ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pinging relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay ping returned %d", resp.StatusCode)
	}
	return nil
}

// Send relays msg and blocks until the reply resolves. msg.OnProgress
// receives every snapshot event.
func (c *Client) Send(ctx context.Context, msg *exchange.Message) (*exchange.Snapshot, error) {
	body, err := json.Marshal(api.MessageRequest{
		Text:            msg.Text,
		ConversationID:  msg.ConversationID,
		ParentMessageID: msg.ParentMessageID,
		MessageID:       msg.MessageID,
		Action:          msg.Action,
		TimeoutMs:       msg.Timeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.failure(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, rejected(resp)
	}

	return c.consume(ctx, resp.Body, msg.OnProgress)
}

func (c *Client) consume(ctx context.Context, body io.Reader, onProgress exchange.ProgressFunc) (*exchange.Snapshot, error) {
	r := sse.NewReader(body)
	for {
		ev, err := r.Next()
		if err != nil {
			return nil, c.failure(ctx, err)
		}
		if ev == nil {
			return nil, &exchange.Error{Kind: exchange.KindTransportFailure, Message: "relay stream ended before the reply resolved"}
		}

		switch ev.Type {
		case api.EventSnapshot:
			var m api.MessageResponse
			if err := json.Unmarshal([]byte(ev.Data), &m); err != nil {
				c.logger.Debug("skipping undecodable relay snapshot", "error", err, "data", ev.Data)
				continue
			}
			if onProgress != nil {
				onProgress(snapshot(m))
			}

		case api.EventDone:
			var m api.MessageResponse
			if err := json.Unmarshal([]byte(ev.Data), &m); err != nil {
				return nil, &exchange.Error{Kind: exchange.KindTransportFailure, Message: "decoding relay reply", Err: err}
			}
			snap := snapshot(m)
			return &snap, nil

		case api.EventError:
			var e api.ErrorResponse
			if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
				return nil, &exchange.Error{Kind: exchange.KindTransportFailure, Message: "decoding relay error", Err: err}
			}
			return nil, relayError(e)

		default:
			c.logger.Debug("ignoring relay event", "type", ev.Type)
		}
	}
}

// failure classifies a connection-level error, preferring the caller's
// context state over the network error it caused.
func (c *Client) failure(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &exchange.Error{Kind: exchange.KindTimeout, Err: err}
	case ctx.Err() != nil:
		return &exchange.Error{Kind: exchange.KindCanceled, Err: err}
	default:
		return &exchange.Error{Kind: exchange.KindTransportFailure, Message: "contacting relay", Err: err}
	}
}

func relayError(e api.ErrorResponse) error {
	kind := exchange.Kind(e.Kind)
	if kind == "" {
		kind = exchange.KindTransportFailure
	}
	xerr := &exchange.Error{
		Kind:       kind,
		StatusCode: e.StatusCode,
		Message:    e.Error,
	}
	if e.StatusCode != 0 {
		xerr.StatusText = http.StatusText(e.StatusCode)
	}

	// The relay reports the rendered *exchange.Error; keep only the detail
	// so the prefix isn't repeated.
	detail := strings.TrimPrefix(e.Error, "exchange: "+string(kind))
	if xerr.StatusCode != 0 {
		detail = strings.TrimPrefix(detail, fmt.Sprintf(" (%d %s)", xerr.StatusCode, xerr.StatusText))
	}
	xerr.Message = strings.TrimPrefix(detail, ": ")
	return xerr
}

// rejected turns a non-streaming relay answer into an error. Failed
// exchanges keep their kind; request validation errors are plain.
func rejected(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var e api.ErrorResponse
	if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if e.Kind != "" {
		return relayError(e)
	}
	return fmt.Errorf("relay rejected request (%d): %s", resp.StatusCode, e.Error)
}

func snapshot(m api.MessageResponse) exchange.Snapshot {
	return exchange.Snapshot{
		ConversationID: m.ConversationID,
		MessageID:      m.MessageID,
		Response:       m.Response,
	}
}
