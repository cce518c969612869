package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/papercomputeco/tether/pkg/config"
	"github.com/papercomputeco/tether/pkg/credentials"
	"github.com/papercomputeco/tether/pkg/exchange"
)

// AccessToken is the bearer token the fake service issues.
const AccessToken = "test-access-token"

// SessionToken is the session artifact the fake service accepts.
const SessionToken = "test-session-token"

// Service is a fake conversation backend. It serves the session endpoint and
// streams each reply as growing snapshots, one word at a time.
type Service struct {
	*httptest.Server

	mu       sync.Mutex
	requests []exchange.RequestBody
	nextConv int

	// Reply computes the full reply for a prompt. Defaults to echoing it.
	Reply func(prompt string) string

	// ConversationStatus, when non-zero, is returned by the conversation
	// endpoint instead of a stream.
	ConversationStatus int
}

// NewService starts a fake backend. Close it when done.
func NewService() *Service {
	s := &Service{
		Reply: func(prompt string) string { return "echo: " + prompt },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/session", s.session)
	mux.HandleFunc("POST "+exchange.DefaultBackendPath, s.conversation)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.Server = httptest.NewServer(mux)
	return s
}

// Artifacts returns session artifacts the fake service accepts.
func Artifacts() credentials.Artifacts {
	return credentials.Artifacts{SessionToken: SessionToken}
}

// Requests returns the conversation requests received so far.
func (s *Service) Requests() []exchange.RequestBody {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]exchange.RequestBody(nil), s.requests...)
}

func (s *Service) session(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(credentials.SessionCookie)
	w.Header().Set("Content-Type", "application/json")
	if err != nil || c.Value != SessionToken {
		_, _ = w.Write([]byte(`{"error":"RefreshAccessTokenError"}`))
		return
	}
	_, _ = fmt.Fprintf(w, `{"accessToken":%q,"user":{"id":"user-1","name":"Test User"}}`, AccessToken)
}

func (s *Service) conversation(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+AccessToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var body exchange.RequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, body)
	status := s.ConversationStatus
	conv := body.ConversationID
	if conv == "" {
		s.nextConv++
		conv = fmt.Sprintf("conv-%d", s.nextConv)
	}
	n := len(s.requests)
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	prompt := ""
	if len(body.Messages) > 0 && len(body.Messages[0].Content.Parts) > 0 {
		prompt = body.Messages[0].Content.Parts[0]
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)

	words := strings.Fields(s.Reply(prompt))
	for i := range words {
		frame, _ := json.Marshal(map[string]any{
			"conversation_id": conv,
			"message": map[string]any{
				"id":      fmt.Sprintf("resp-%d", n),
				"content": map[string]any{"parts": []string{strings.Join(words[:i+1], " ")}},
			},
		})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", frame)
		if flusher != nil {
			flusher.Flush()
		}
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", exchange.DoneSentinel)
}

// Workspace prepares dir as a .tether/ directory aimed at the service: the
// default profile holds accepted artifacts and config.toml points
// service.base_url here. edit, when set, adjusts the config before saving.
func (s *Service) Workspace(dir string, edit func(*config.Config)) error {
	creds, err := credentials.NewManager(dir)
	if err != nil {
		return err
	}
	if err := creds.SetArtifacts(credentials.DefaultProfile, Artifacts()); err != nil {
		return err
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return err
	}
	cfg := config.NewDefaultConfig()
	cfg.Service.BaseURL = s.URL
	if edit != nil {
		edit(cfg)
	}
	return cfger.SaveConfig(cfg)
}
