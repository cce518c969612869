package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/tether/pkg/auth"
	"github.com/papercomputeco/tether/pkg/credentials"
	"github.com/papercomputeco/tether/pkg/deadline"
	"github.com/papercomputeco/tether/pkg/logger"
	"github.com/papercomputeco/tether/pkg/sse"
)

const (
	// DefaultAccessTokenTTL bounds how long a bearer credential is reused
	// when the token itself carries no expiry.
	DefaultAccessTokenTTL = time.Hour

	// maxErrorExcerpt bounds how much of a failed response body lands in an Error.
	maxErrorExcerpt = 4096
)

// Config holds configuration for a Client.
type Config struct {
	// Transport carries requests. Required.
	Transport Transport

	// Auth produces bearer credentials. Required.
	Auth Authenticator

	// Refresher renews the transport session on 403. Defaults to Transport
	// when it implements SessionRefresher; nil disables session retries.
	Refresher SessionRefresher

	// Cache holds the bearer credential. Defaults to a cache with
	// DefaultAccessTokenTTL.
	Cache *credentials.Cache

	// Model defaults to DefaultModel.
	Model string

	// BackendPath defaults to DefaultBackendPath.
	BackendPath string

	// Recorder is told about every successful exchange. Optional.
	Recorder Recorder

	// StreamDump receives the raw SSE bytes of every response. Optional.
	StreamDump io.Writer

	Logger *slog.Logger
}

// Client sends messages. It is safe for concurrent use; calls share the
// credential cache and the progress registry and nothing else.
type Client struct {
	transport   Transport
	auth        Authenticator
	refresher   SessionRefresher
	cache       *credentials.Cache
	model       string
	backendPath string
	recorder    Recorder
	dump        io.Writer
	handlers    *registry
	log         *slog.Logger
}

// NewClient creates a new Client.
func NewClient(c *Config) (*Client, error) {
	if c == nil || c.Transport == nil {
		return nil, errors.New("exchange: transport is required")
	}
	if c.Auth == nil {
		return nil, errors.New("exchange: authenticator is required")
	}

	client := &Client{
		transport:   c.Transport,
		auth:        c.Auth,
		refresher:   c.Refresher,
		cache:       c.Cache,
		model:       c.Model,
		backendPath: c.BackendPath,
		recorder:    c.Recorder,
		dump:        c.StreamDump,
		handlers:    newRegistry(),
		log:         c.Logger,
	}
	if client.refresher == nil {
		if r, ok := c.Transport.(SessionRefresher); ok {
			client.refresher = r
		}
	}
	if client.cache == nil {
		client.cache = credentials.NewCache(DefaultAccessTokenTTL)
	}
	if client.model == "" {
		client.model = DefaultModel
	}
	if client.backendPath == "" {
		client.backendPath = DefaultBackendPath
	}
	if client.log == nil {
		client.log = logger.Nop()
	}

	return client, nil
}

// Send delivers msg and blocks until the reply completes, fails, times out,
// or ctx is canceled. The result is either the final snapshot or an *Error.
func (c *Client) Send(ctx context.Context, msg *Message) (*Snapshot, error) {
	if msg == nil {
		return nil, errors.New("exchange: nil message")
	}

	messageID := msg.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	parentID := msg.ParentMessageID
	if parentID == "" {
		parentID = uuid.NewString()
	}
	action := msg.Action
	if action == "" {
		action = ActionNext
	}

	body := &RequestBody{
		Action: action,
		Messages: []Turn{{
			ID:   messageID,
			Role: roleUser,
			Content: Content{
				ContentType: contentTypeText,
				Parts:       []string{msg.Text},
			},
		}},
		Model:           c.model,
		ParentMessageID: parentID,
		ConversationID:  msg.ConversationID,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("exchange: marshaling request: %w", err)
	}

	progress, release := c.handlers.register(messageID, msg.OnProgress)
	defer release()

	log := c.log.With("message_id", messageID)
	run := func(ctx context.Context) (*Snapshot, error) {
		return c.exchange(ctx, log, payload, progress, msg.ConversationID)
	}

	started := time.Now()
	var snap *Snapshot
	if msg.Timeout == 0 {
		snap, err = run(ctx)
	} else {
		snap, err = deadline.Run(ctx, msg.Timeout, run, deadline.WithCancelHook(release))
		err = fromDeadline(err)
	}
	if err != nil {
		log.Debug("exchange failed", "kind", KindOf(err), "error", err)
		return nil, err
	}

	if c.recorder != nil {
		c.recorder.Record(Completed{
			Action:          action,
			Model:           c.model,
			Prompt:          msg.Text,
			PromptID:        messageID,
			ParentMessageID: parentID,
			Result:          *snap,
			StartedAt:       started,
			Duration:        time.Since(started),
		})
	}

	return snap, nil
}

// exchange is the retry loop. Each failure kind earns at most one retry.
func (c *Client) exchange(ctx context.Context, log *slog.Logger, payload []byte, progress *handler, conversationID string) (*Snapshot, error) {
	var authRetried, sessionRetried bool

	for {
		token, err := c.credential(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.transport.Perform(ctx, c.newRequest(token, payload))
		if err != nil {
			if ctx.Err() != nil {
				return nil, contextError(ctx)
			}
			return nil, &Error{Kind: KindTransportFailure, Message: "performing request", Err: err}
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			discard(resp)
			c.cache.Delete()
			if authRetried {
				return nil, statusError(KindAuthExpired, resp, "credential rejected after re-authentication")
			}
			authRetried = true
			log.Info("credential rejected, re-authenticating")

		case resp.StatusCode == http.StatusForbidden:
			discard(resp)
			if c.refresher == nil {
				return nil, statusError(KindSessionStale, resp, "session rejected and transport cannot refresh")
			}
			if sessionRetried {
				if err := c.refresher.Refresh(ctx); err != nil {
					log.Warn("session refresh after repeated rejection failed", "error", err)
				}
				return nil, statusError(KindSessionStale, resp, "session rejected after refresh")
			}
			sessionRetried = true
			log.Info("session rejected, refreshing")
			if err := c.refresher.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, contextError(ctx)
				}
				e := statusError(KindSessionStale, resp, "refreshing session")
				e.Err = err
				return nil, e
			}

		case resp.StatusCode < 200 || resp.StatusCode > 299:
			excerpt := readExcerpt(resp)
			return nil, statusError(KindTransportFailure, resp, excerpt)

		default:
			return c.stream(ctx, log, resp, progress, conversationID)
		}
	}
}

// stream consumes an accepted response and resolves with the last snapshot.
func (c *Client) stream(ctx context.Context, log *slog.Logger, resp *Response, progress *handler, conversationID string) (*Snapshot, error) {
	defer resp.Body.Close()

	var reader *sse.Reader
	if c.dump != nil {
		reader = sse.NewTeeReader(resp.Body, c.dump)
	} else {
		reader = sse.NewReader(resp.Body)
	}

	snap := Snapshot{ConversationID: conversationID}
	received := false

	for {
		ev, err := reader.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil, contextError(ctx)
			}
			if received {
				log.Warn("stream terminated early, resolving with last snapshot", "error", err)
				return &snap, nil
			}
			return nil, &Error{Kind: KindTransportFailure, Message: "reading stream", Err: err}
		}
		if ev == nil {
			break
		}
		if ev.Data == DoneSentinel {
			// The reply is complete; a cancellation arriving now is too late.
			return &snap, nil
		}

		frag := ParsePayload(ev.Data)
		switch frag.Kind {
		case FragmentInvalid:
			log.Debug("skipping undecodable event", "error", frag.Err, "data", ev.Data)
			continue
		case FragmentIgnorable:
			continue
		}

		received = true
		if frag.Apply(&snap) {
			progress.deliver(snap)
		}
	}

	if ctx.Err() != nil {
		return nil, contextError(ctx)
	}
	return &snap, nil
}

// Authenticate makes sure a live credential is cached, logging in if needed.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.credential(ctx)
	return err
}

// IsAuthenticated reports whether a live credential is cached or can be
// obtained.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	return c.Authenticate(ctx) == nil
}

// ResetSession drops the cached credential; the next call logs in again.
func (c *Client) ResetSession() {
	c.cache.Delete()
}

// credential returns the cached bearer token, logging in when the cache is
// empty or expired.
func (c *Client) credential(ctx context.Context) (string, error) {
	if token, ok := c.cache.Get(); ok {
		return token, nil
	}

	session, err := c.auth.Login(ctx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return "", contextError(ctx)
		case errors.Is(err, auth.ErrSessionExpired), errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrNoArtifacts):
			return "", &Error{Kind: KindAuthExpired, Message: "logging in", Err: err}
		case errors.Is(err, auth.ErrChallenge):
			return "", &Error{Kind: KindSessionStale, Message: "logging in", Err: err}
		default:
			return "", &Error{Kind: KindTransportFailure, Message: "logging in", Err: err}
		}
	}

	expires := session.Expires
	if exp, ok := credentials.TokenExpiry(session.AccessToken); ok && (expires.IsZero() || exp.Before(expires)) {
		expires = exp
	}
	c.cache.SetUntil(session.AccessToken, expires)

	return session.AccessToken, nil
}

func (c *Client) newRequest(token string, payload []byte) *Request {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("Accept", "text/event-stream")
	h.Set("Content-Type", "application/json")

	return &Request{
		Method: http.MethodPost,
		Path:   c.backendPath,
		Header: h,
		Body:   payload,
	}
}

func statusError(kind Kind, resp *Response, message string) *Error {
	return &Error{
		Kind:       kind,
		StatusCode: resp.StatusCode,
		StatusText: statusText(resp),
		Message:    message,
	}
}

func statusText(resp *Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
}

func readExcerpt(resp *Response) string {
	if resp.Body == nil {
		return ""
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
	return strings.TrimSpace(string(b))
}

func discard(resp *Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorExcerpt))
	resp.Body.Close()
}

func contextError(ctx context.Context) *Error {
	err := context.Cause(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, deadline.ErrTimeout) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindCanceled, Err: err}
}

func fromDeadline(err error) error {
	var e *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &e):
		return e
	case errors.Is(err, deadline.ErrTimeout):
		return &Error{Kind: KindTimeout, Err: err}
	case errors.Is(err, deadline.ErrCanceled):
		return &Error{Kind: KindCanceled, Err: err}
	default:
		return err
	}
}
