package config

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline, so the same logical flag
// (e.g. --timeout on both "tether ask" and "tether chat") cannot drift.
type Flag struct {
	// Name is the long flag name (e.g. "timeout").
	Name string

	// Shorthand is the one-letter short flag (e.g. "t"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "client.timeout").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddDurationFlag,
// and BindRegisteredFlags.
const (
	FlagBaseURL        = "base-url"
	FlagBackendPath    = "backend-path"
	FlagModel          = "model"
	FlagUserAgent      = "user-agent"
	FlagProfile        = "profile"
	FlagAccessTokenTTL = "access-token-ttl"
	FlagClearanceWait  = "clearance-wait"
	FlagTimeout        = "timeout"
	FlagRelayListen    = "listen"
	FlagHistory        = "history"
	FlagSQLite         = "sqlite"
	FlagPostgres       = "postgres"
	FlagEvents         = "events"
	FlagKafkaBrokers   = "kafka-brokers"
	FlagKafkaTopic     = "kafka-topic"
)

// Flags is the registry shared by every tether command.
var Flags = FlagSet{
	FlagBaseURL:        {Name: "base-url", ViperKey: "service.base_url", Description: "Base URL of the conversation service"},
	FlagBackendPath:    {Name: "backend-path", ViperKey: "service.backend_path", Description: "Conversation endpoint path relative to the base URL"},
	FlagModel:          {Name: "model", Shorthand: "m", ViperKey: "service.model", Description: "Model selector sent with each message"},
	FlagUserAgent:      {Name: "user-agent", ViperKey: "service.user_agent", Description: "User-Agent sent to the service"},
	FlagProfile:        {Name: "profile", Shorthand: "p", ViperKey: "session.profile", Description: "Credential profile to use"},
	FlagAccessTokenTTL: {Name: "access-token-ttl", ViperKey: "session.access_token_ttl", Description: "How long a fetched access token is reused"},
	FlagClearanceWait:  {Name: "clearance-wait", ViperKey: "session.clearance_wait", Description: "How long to wait for a renewed clearance cookie"},
	FlagTimeout:        {Name: "timeout", Shorthand: "t", ViperKey: "client.timeout", Description: "Overall deadline per message (0 for none)"},
	FlagRelayListen:    {Name: "listen", Shorthand: "l", ViperKey: "relay.listen", Description: "Address for the relay to listen on"},
	FlagHistory:        {Name: "history", ViperKey: "history.provider", Description: "History store (none, memory, sqlite, postgres)"},
	FlagSQLite:         {Name: "sqlite", Shorthand: "s", ViperKey: "history.sqlite_path", Description: "Path to the SQLite history database"},
	FlagPostgres:       {Name: "postgres", ViperKey: "history.postgres_dsn", Description: "PostgreSQL connection string for history"},
	FlagEvents:         {Name: "events", ViperKey: "events.provider", Description: "Event stream for completed exchanges (none, kafka)"},
	FlagKafkaBrokers:   {Name: "kafka-brokers", ViperKey: "events.brokers", Description: "Comma separated Kafka bootstrap brokers"},
	FlagKafkaTopic:     {Name: "kafka-topic", ViperKey: "events.topic", Description: "Kafka topic for exchange events"},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddDurationFlag registers a duration flag on cmd from the given FlagSet.
func AddDurationFlag(cmd *cobra.Command, fs FlagSet, key string, target *time.Duration) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultDuration(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().DurationVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().DurationVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

func defaultDuration(viperKey string) time.Duration {
	v := viper.New()
	setViperDefaults(v)
	return v.GetDuration(viperKey)
}

// LoadForCommand resolves the effective configuration for cmd. The
// --config-dir flag selects the .tether/ directory and the given registered
// flags are bound above environment and file values.
func LoadForCommand(cmd *cobra.Command, registryKeys ...string) (*Config, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := InitViper(configDir)
	if err != nil {
		return nil, err
	}
	BindRegisteredFlags(v, cmd, Flags, registryKeys)

	cfg, err := Load(v)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
