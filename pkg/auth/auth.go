// Package auth exchanges long-lived session artifacts for short-lived bearer
// credentials against the conversation service's session endpoint.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/papercomputeco/tether/pkg/credentials"
)

var (
	// ErrSessionExpired means the stored session token itself is no longer
	// accepted and must be replaced by logging in again in a browser.
	ErrSessionExpired = errors.New("auth: session token expired")

	// ErrUnauthorized means the session endpoint answered without a bearer token.
	ErrUnauthorized = errors.New("auth: session endpoint returned no access token")

	// ErrNoArtifacts means no session token is stored for the profile.
	ErrNoArtifacts = errors.New("auth: no session token stored")

	// ErrChallenge means the edge demanded human verification and no
	// challenge handler could satisfy it.
	ErrChallenge = errors.New("auth: human verification required")
)

// Session is the outcome of a successful login.
type Session struct {
	// AccessToken is the bearer credential sent on every exchange.
	AccessToken string

	// Expires is when the service says the session ends. Zero when unknown.
	Expires time.Time

	User *User

	// Artifacts are the session values the token was derived from, after any
	// rotation performed during login.
	Artifacts credentials.Artifacts
}

// User identifies the account behind a session.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Provider produces sessions.
type Provider interface {
	Login(ctx context.Context) (*Session, error)
}

// ArtifactStore loads and persists session artifacts for a profile.
// credentials.Manager implements it.
type ArtifactStore interface {
	GetArtifacts(profile string) (credentials.Artifacts, error)
	UpdateArtifacts(profile string, fn func(*credentials.Artifacts)) error
}

// StaticProvider returns a fixed bearer token. It suits callers that obtain
// tokens out of band.
type StaticProvider struct {
	Token string
}

// Login implements Provider.
func (p StaticProvider) Login(_ context.Context) (*Session, error) {
	if p.Token == "" {
		return nil, ErrUnauthorized
	}
	s := &Session{AccessToken: p.Token}
	if exp, ok := credentials.TokenExpiry(p.Token); ok {
		s.Expires = exp
	}
	return s, nil
}

var (
	_ Provider      = StaticProvider{}
	_ Provider      = (*SessionProvider)(nil)
	_ ArtifactStore = (*credentials.Manager)(nil)
)
