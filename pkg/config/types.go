package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config represents the persistent tether configuration stored as config.toml
// in the .tether/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version int           `toml:"version"`
	Service ServiceConfig `toml:"service"`
	Session SessionConfig `toml:"session"`
	Client  ClientConfig  `toml:"client"`
	Relay   RelayConfig   `toml:"relay"`
	History HistoryConfig `toml:"history"`
	Events  EventsConfig  `toml:"events"`
}

// ServiceConfig describes the remote conversation service.
type ServiceConfig struct {
	BaseURL     string `toml:"base_url,omitempty"`
	BackendPath string `toml:"backend_path,omitempty"`
	Model       string `toml:"model,omitempty"`
	UserAgent   string `toml:"user_agent,omitempty"`
}

// SessionConfig holds credential settings. Durations use Go duration syntax.
type SessionConfig struct {
	Profile        string `toml:"profile,omitempty"`
	AccessTokenTTL string `toml:"access_token_ttl,omitempty"`
	ClearanceWait  string `toml:"clearance_wait,omitempty"`
}

// ClientConfig holds settings for CLI commands that send messages
// (e.g. tether ask, tether chat). RelayTarget is a full URL used when the
// commands talk to a running relay instead of the service directly.
type ClientConfig struct {
	Timeout     string `toml:"timeout,omitempty"`
	RelayTarget string `toml:"relay_target,omitempty"`
}

// RelayConfig holds local relay server settings.
type RelayConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// HistoryConfig selects where completed exchanges are recorded.
// Provider is one of "none", "memory", "sqlite" or "postgres".
type HistoryConfig struct {
	Provider    string `toml:"provider,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// EventsConfig selects the event stream for completed exchanges.
// Provider is "none" or "kafka"; Brokers is comma separated.
type EventsConfig struct {
	Provider string `toml:"provider,omitempty"`
	Brokers  string `toml:"brokers,omitempty"`
	Topic    string `toml:"topic,omitempty"`
}

// BrokerList splits Brokers into trimmed, non-empty addresses.
func (e EventsConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// configKeyInfo maps a user-facing dotted key name to its field on *Config
// and an optional validator for values set through it.
type configKeyInfo struct {
	field    func(c *Config) *string
	validate func(key, v string) error
}

func (k configKeyInfo) get(c *Config) string { return *k.field(c) }

func (k configKeyInfo) set(c *Config, key, v string) error {
	if k.validate != nil {
		if err := k.validate(key, v); err != nil {
			return err
		}
	}
	*k.field(c) = v
	return nil
}

func validDuration(key, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if d < 0 {
		return fmt.Errorf("invalid value for %s: must not be negative", key)
	}
	return nil
}

func oneOf(allowed ...string) func(key, v string) error {
	return func(key, v string) error {
		if slices.Contains(allowed, v) {
			return nil
		}
		return fmt.Errorf("invalid value for %s: %q (available: %s)", key, v, strings.Join(allowed, ", "))
	}
}

// HistoryProviders lists the accepted history.provider values.
var HistoryProviders = []string{"none", "memory", "sqlite", "postgres"}

// EventsProviders lists the accepted events.provider values.
var EventsProviders = []string{"none", "kafka"}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"service.base_url":         {field: func(c *Config) *string { return &c.Service.BaseURL }},
	"service.backend_path":     {field: func(c *Config) *string { return &c.Service.BackendPath }},
	"service.model":            {field: func(c *Config) *string { return &c.Service.Model }},
	"service.user_agent":       {field: func(c *Config) *string { return &c.Service.UserAgent }},
	"session.profile":          {field: func(c *Config) *string { return &c.Session.Profile }},
	"session.access_token_ttl": {field: func(c *Config) *string { return &c.Session.AccessTokenTTL }, validate: validDuration},
	"session.clearance_wait":   {field: func(c *Config) *string { return &c.Session.ClearanceWait }, validate: validDuration},
	"client.timeout":           {field: func(c *Config) *string { return &c.Client.Timeout }, validate: validDuration},
	"client.relay_target":      {field: func(c *Config) *string { return &c.Client.RelayTarget }},
	"relay.listen":             {field: func(c *Config) *string { return &c.Relay.Listen }},
	"history.provider":         {field: func(c *Config) *string { return &c.History.Provider }, validate: oneOf(HistoryProviders...)},
	"history.sqlite_path":      {field: func(c *Config) *string { return &c.History.SQLitePath }},
	"history.postgres_dsn":     {field: func(c *Config) *string { return &c.History.PostgresDSN }},
	"events.provider":          {field: func(c *Config) *string { return &c.Events.Provider }, validate: oneOf(EventsProviders...)},
	"events.brokers":           {field: func(c *Config) *string { return &c.Events.Brokers }},
	"events.topic":             {field: func(c *Config) *string { return &c.Events.Topic }},
}

// orderedKeys matches the TOML section layout.
var orderedKeys = []string{
	"service.base_url",
	"service.backend_path",
	"service.model",
	"service.user_agent",
	"session.profile",
	"session.access_token_ttl",
	"session.clearance_wait",
	"client.timeout",
	"client.relay_target",
	"relay.listen",
	"history.provider",
	"history.sqlite_path",
	"history.postgres_dsn",
	"events.provider",
	"events.brokers",
	"events.topic",
}

// Validate checks every validated key, so values that arrived through the
// file or environment get the same checks as SetConfigValue.
func (c *Config) Validate() error {
	var errs []error
	for _, key := range orderedKeys {
		info := configKeys[key]
		v := info.get(c)
		if info.validate == nil || v == "" {
			continue
		}
		if err := info.validate(key, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Duration parses a duration-valued key. Empty values are zero.
func (c *Config) Duration(key string) (time.Duration, error) {
	info, ok := configKeys[key]
	if !ok {
		return 0, fmt.Errorf("unknown config key: %q", key)
	}
	v := info.get(c)
	if v == "" {
		return 0, nil
	}
	if err := validDuration(key, v); err != nil {
		return 0, err
	}
	d, _ := time.ParseDuration(v)
	return d, nil
}
