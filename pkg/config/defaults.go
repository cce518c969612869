package config

import (
	"github.com/papercomputeco/tether/pkg/credentials"
	"github.com/papercomputeco/tether/pkg/eventstream/kafka"
	"github.com/papercomputeco/tether/pkg/exchange"
)

const (
	defaultBaseURL   = "https://chatgpt.com"
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

	defaultAccessTokenTTL = "1h"
	defaultClearanceWait  = "30s"

	defaultClientTimeout     = "2m"
	defaultRelayListen       = ":8787"
	defaultClientRelayTarget = "http://localhost:8787"

	defaultHistoryProvider = "sqlite"
	defaultEventsProvider  = "none"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Service: ServiceConfig{
			BaseURL:     defaultBaseURL,
			BackendPath: exchange.DefaultBackendPath,
			Model:       exchange.DefaultModel,
			UserAgent:   defaultUserAgent,
		},
		Session: SessionConfig{
			Profile:        credentials.DefaultProfile,
			AccessTokenTTL: defaultAccessTokenTTL,
			ClearanceWait:  defaultClearanceWait,
		},
		Client: ClientConfig{
			Timeout:     defaultClientTimeout,
			RelayTarget: defaultClientRelayTarget,
		},
		Relay: RelayConfig{
			Listen: defaultRelayListen,
		},
		History: HistoryConfig{
			Provider: defaultHistoryProvider,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    kafka.DefaultTopic,
		},
	}
}
