package auth

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

	"github.com/papercomputeco/tether/pkg/credentials"
	"github.com/papercomputeco/tether/pkg/logger"
)

const (
	// SessionPath is the session endpoint relative to the service base URL.
	SessionPath = "/api/auth/session"

	refreshTokenError = "RefreshAccessTokenError"

	// maxSessionBody bounds how much of the session response is read.
	maxSessionBody = 1 << 20
)

// ChallengeFunc resolves a human-verification interstitial the edge served
// instead of the session response. It returns artifacts carrying a renewed
// clearance; returning an error aborts the login.
type ChallengeFunc func(ctx context.Context, current credentials.Artifacts) (credentials.Artifacts, error)

// Config holds configuration for the SessionProvider.
type Config struct {
	// BaseURL is the conversation service origin (e.g., "https://chat.openai.com").
	BaseURL string

	// Profile selects the stored artifacts. Defaults to credentials.DefaultProfile.
	Profile string

	// Store loads artifacts and persists rotated session tokens.
	Store ArtifactStore

	// UserAgent is sent when the stored artifacts don't name one.
	UserAgent string

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client

	// Challenge is consulted once when the edge answers 403. Nil means a
	// 403 fails the login with ErrChallenge.
	Challenge ChallengeFunc

	Logger *slog.Logger
}

// sessionResponse is the body of the session endpoint.
type sessionResponse struct {
	AccessToken string `json:"accessToken"`
	Expires     string `json:"expires"`
	Error       string `json:"error"`
	User        *User  `json:"user"`
}

// SessionProvider logs in by presenting stored artifacts to the session endpoint.
type SessionProvider struct {
	baseURL    string
	profile    string
	store      ArtifactStore
	userAgent  string
	httpClient *http.Client
	challenge  ChallengeFunc
	log        *slog.Logger
}

// NewSessionProvider creates a new SessionProvider.
func NewSessionProvider(c *Config) (*SessionProvider, error) {
	if c == nil || c.BaseURL == "" {
		return nil, errors.New("auth: base URL is required")
	}
	if c.Store == nil {
		return nil, errors.New("auth: artifact store is required")
	}

	p := &SessionProvider{
		baseURL:    strings.TrimRight(c.BaseURL, "/"),
		profile:    c.Profile,
		store:      c.Store,
		userAgent:  c.UserAgent,
		httpClient: c.HTTPClient,
		challenge:  c.Challenge,
		log:        c.Logger,
	}
	if p.profile == "" {
		p.profile = credentials.DefaultProfile
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if p.log == nil {
		p.log = logger.Nop()
	}

	return p, nil
}

// Login exchanges the stored artifacts for a bearer token.
func (p *SessionProvider) Login(ctx context.Context) (*Session, error) {
	artifacts, err := p.store.GetArtifacts(p.profile)
	if err != nil {
		return nil, fmt.Errorf("loading artifacts: %w", err)
	}
	if artifacts.IsZero() {
		return nil, fmt.Errorf("%w for profile %q", ErrNoArtifacts, p.profile)
	}

	resp, err := p.fetch(ctx, artifacts)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		if p.challenge == nil {
			return nil, ErrChallenge
		}

		p.log.Info("session endpoint challenged, invoking challenge handler", "profile", p.profile)
		artifacts, err = p.challenge(ctx, artifacts)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrChallenge, err)
		}
		renewed := artifacts
		if err := p.store.UpdateArtifacts(p.profile, func(a *credentials.Artifacts) { *a = renewed }); err != nil {
			return nil, fmt.Errorf("saving renewed artifacts: %w", err)
		}

		resp, err = p.fetch(ctx, artifacts)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			return nil, ErrChallenge
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("session endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	artifacts = p.rotate(resp, artifacts)

	var sr sessionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSessionBody)).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding session response: %w", err)
	}

	if sr.Error == refreshTokenError {
		return nil, ErrSessionExpired
	}
	if sr.Error != "" {
		return nil, fmt.Errorf("session endpoint error: %s", sr.Error)
	}
	if sr.AccessToken == "" {
		return nil, ErrUnauthorized
	}

	s := &Session{
		AccessToken: sr.AccessToken,
		User:        sr.User,
		Artifacts:   artifacts,
	}
	if sr.Expires != "" {
		if t, err := time.Parse(time.RFC3339, sr.Expires); err == nil {
			s.Expires = t
		} else {
			p.log.Debug("ignoring unparseable session expiry", "expires", sr.Expires, "error", err)
		}
	}

	return s, nil
}

func (p *SessionProvider) fetch(ctx context.Context, a credentials.Artifacts) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+SessionPath, nil)
	if err != nil {
		return nil, fmt.Errorf("creating session request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	ua := a.UserAgent
	if ua == "" {
		ua = p.userAgent
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	req.AddCookie(&http.Cookie{Name: credentials.SessionCookie, Value: a.SessionToken})
	if a.Clearance != "" {
		req.AddCookie(&http.Cookie{Name: credentials.ClearanceCookie, Value: a.Clearance})
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting session: %w", err)
	}
	return resp, nil
}

// rotate persists any session token or clearance the endpoint reissued.
func (p *SessionProvider) rotate(resp *http.Response, a credentials.Artifacts) credentials.Artifacts {
	updated := a
	for _, c := range resp.Cookies() {
		if c.Value == "" {
			continue
		}
		switch c.Name {
		case credentials.SessionCookie:
			updated.SessionToken = c.Value
		case credentials.ClearanceCookie:
			updated.Clearance = c.Value
		}
	}
	if updated == a {
		return a
	}

	err := p.store.UpdateArtifacts(p.profile, func(cur *credentials.Artifacts) {
		cur.SessionToken = updated.SessionToken
		cur.Clearance = updated.Clearance
	})
	if err != nil {
		// The token in hand is still valid; the rotation is retried on the next login.
		p.log.Warn("could not persist rotated session artifacts", "profile", p.profile, "error", err)
	} else {
		p.log.Debug("persisted rotated session artifacts", "profile", p.profile)
	}
	return updated
}
