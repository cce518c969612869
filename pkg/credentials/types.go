package credentials

// Cookie names under which the artifacts travel.
const (
	SessionCookie   = "__Secure-next-auth.session-token"
	ClearanceCookie = "cf_clearance"
)

// Credentials represents the stored session artifacts in credentials.toml.
type Credentials struct {
	Version  int                  `toml:"version"`
	Profiles map[string]Artifacts `toml:"profiles"`
}

// Artifacts are the long-lived browser session values the conversation
// service hands out. They are exchanged for short-lived bearer tokens.
type Artifacts struct {
	// SessionToken is the service's session cookie value.
	SessionToken string `toml:"session_token"`

	// Clearance is the edge clearance cookie value. It expires far sooner
	// than the session token and is renewed by reloading the service.
	Clearance string `toml:"clearance,omitempty"`

	// UserAgent must match the client the clearance was issued to.
	UserAgent string `toml:"user_agent,omitempty"`
}

// IsZero reports whether no session token is stored.
func (a Artifacts) IsZero() bool {
	return a.SessionToken == ""
}
