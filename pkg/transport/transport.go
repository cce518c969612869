// Package transport carries exchange requests to the conversation service
// over HTTP, attaching the session artifacts the edge expects, and renews the
// edge clearance in place when the service reports the session stale.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/tether/pkg/auth"
	"github.com/papercomputeco/tether/pkg/credentials"
	"github.com/papercomputeco/tether/pkg/exchange"
	"github.com/papercomputeco/tether/pkg/logger"
)

const (
	// DefaultClearanceWait bounds how long Refresh waits for a renewed clearance.
	DefaultClearanceWait = 30 * time.Second

	// DefaultPollInterval is how often Refresh re-reads the artifact store.
	DefaultPollInterval = 500 * time.Millisecond
)

// ErrClearanceNotRenewed is returned by Refresh when no new clearance
// appeared within the wait window.
var ErrClearanceNotRenewed = errors.New("transport: clearance was not renewed")

// ClearanceFunc obtains a renewed clearance value out of band, for example
// from a browser helper. It is called with the stale artifacts.
type ClearanceFunc func(ctx context.Context, stale credentials.Artifacts) (string, error)

// Config holds configuration for the HTTP transport.
type Config struct {
	// BaseURL is the conversation service origin.
	BaseURL string

	// Profile selects the stored artifacts. Defaults to credentials.DefaultProfile.
	Profile string

	// Store supplies session artifacts and receives renewed clearances.
	Store auth.ArtifactStore

	// UserAgent is sent when the stored artifacts don't name one.
	UserAgent string

	// HTTPClient must not set a Timeout; streams are bounded by the request
	// context instead. Defaults to a client with no timeout.
	HTTPClient *http.Client

	// ClearanceWait and PollInterval bound Refresh.
	ClearanceWait time.Duration
	PollInterval  time.Duration

	// Clearance, when set, is asked for a renewed clearance instead of
	// polling the store.
	Clearance ClearanceFunc

	Logger *slog.Logger
}

// HTTP is an exchange.Transport and exchange.SessionRefresher over net/http.
type HTTP struct {
	baseURL       string
	profile       string
	store         auth.ArtifactStore
	userAgent     string
	httpClient    *http.Client
	clearanceWait time.Duration
	pollInterval  time.Duration
	clearance     ClearanceFunc
	log           *slog.Logger
}

// New creates a new HTTP transport.
func New(c *Config) (*HTTP, error) {
	if c == nil || c.BaseURL == "" {
		return nil, errors.New("transport: base URL is required")
	}
	if c.Store == nil {
		return nil, errors.New("transport: artifact store is required")
	}

	t := &HTTP{
		baseURL:       strings.TrimRight(c.BaseURL, "/"),
		profile:       c.Profile,
		store:         c.Store,
		userAgent:     c.UserAgent,
		httpClient:    c.HTTPClient,
		clearanceWait: c.ClearanceWait,
		pollInterval:  c.PollInterval,
		clearance:     c.Clearance,
		log:           c.Logger,
	}
	if t.profile == "" {
		t.profile = credentials.DefaultProfile
	}
	if t.httpClient == nil {
		t.httpClient = &http.Client{}
	}
	if t.clearanceWait <= 0 {
		t.clearanceWait = DefaultClearanceWait
	}
	if t.pollInterval <= 0 {
		t.pollInterval = DefaultPollInterval
	}
	if t.log == nil {
		t.log = logger.Nop()
	}

	return t, nil
}

// Perform sends req and returns the response with its body unread.
// Canceling ctx aborts the request and any pending body read.
func (t *HTTP) Perform(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	artifacts, err := t.store.GetArtifacts(t.profile)
	if err != nil {
		return nil, fmt.Errorf("loading artifacts: %w", err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, t.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	t.decorate(httpReq, artifacts)

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	t.log.Debug("conversation response", "status", resp.StatusCode, "path", req.Path)

	return &exchange.Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       resp.Body,
	}, nil
}

// Refresh reloads the service origin so the edge can reissue its clearance,
// then waits for a renewed clearance to appear: in the reload's cookies,
// from the configured ClearanceFunc, or in the artifact store.
func (t *HTTP) Refresh(ctx context.Context) error {
	stale, err := t.store.GetArtifacts(t.profile)
	if err != nil {
		return fmt.Errorf("loading artifacts: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.clearanceWait)
	defer cancel()

	if renewed, ok := t.reload(ctx, stale); ok {
		return t.saveClearance(renewed)
	}

	if t.clearance != nil {
		renewed, err := t.clearance(ctx, stale)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrClearanceNotRenewed, err)
		}
		if renewed == "" || renewed == stale.Clearance {
			return ErrClearanceNotRenewed
		}
		return t.saveClearance(renewed)
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ErrClearanceNotRenewed
		case <-ticker.C:
			current, err := t.store.GetArtifacts(t.profile)
			if err != nil {
				t.log.Warn("polling artifacts", "error", err)
				continue
			}
			if current.Clearance != "" && current.Clearance != stale.Clearance {
				t.log.Info("clearance renewed", "profile", t.profile)
				return nil
			}
		}
	}
}

// reload fetches the origin and reports a clearance cookie it set.
func (t *HTTP) reload(ctx context.Context, a credentials.Artifacts) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/", nil)
	if err != nil {
		return "", false
	}
	t.decorate(req, a)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.log.Debug("reloading origin", "error", err)
		return "", false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	for _, c := range resp.Cookies() {
		if c.Name == credentials.ClearanceCookie && c.Value != "" && c.Value != a.Clearance {
			return c.Value, true
		}
	}
	return "", false
}

func (t *HTTP) saveClearance(value string) error {
	err := t.store.UpdateArtifacts(t.profile, func(a *credentials.Artifacts) {
		a.Clearance = value
	})
	if err != nil {
		return fmt.Errorf("saving clearance: %w", err)
	}
	t.log.Info("clearance renewed", "profile", t.profile)
	return nil
}

func (t *HTTP) decorate(req *http.Request, a credentials.Artifacts) {
	ua := a.UserAgent
	if ua == "" {
		ua = t.userAgent
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if a.SessionToken != "" {
		req.AddCookie(&http.Cookie{Name: credentials.SessionCookie, Value: a.SessionToken})
	}
	if a.Clearance != "" {
		req.AddCookie(&http.Cookie{Name: credentials.ClearanceCookie, Value: a.Clearance})
	}
}

var (
	_ exchange.Transport        = (*HTTP)(nil)
	_ exchange.SessionRefresher = (*HTTP)(nil)
)
