// Package stack assembles a working tether client, its history store and
// its event publisher from configuration.
package stack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	relayclient "github.com/papercomputeco/tether/api/client"
	"github.com/papercomputeco/tether/pkg/auth"
	"github.com/papercomputeco/tether/pkg/config"
	"github.com/papercomputeco/tether/pkg/credentials"
	"github.com/papercomputeco/tether/pkg/dotdir"
	"github.com/papercomputeco/tether/pkg/eventstream"
	"github.com/papercomputeco/tether/pkg/eventstream/kafka"
	"github.com/papercomputeco/tether/pkg/exchange"
	"github.com/papercomputeco/tether/pkg/history"
	"github.com/papercomputeco/tether/pkg/history/inmemory"
	"github.com/papercomputeco/tether/pkg/history/postgres"
	"github.com/papercomputeco/tether/pkg/history/sqlite"
	"github.com/papercomputeco/tether/pkg/logger"
	"github.com/papercomputeco/tether/pkg/transport"
	"github.com/papercomputeco/tether/pkg/worker"
)

const (
	historyFile = "history.db"

	// ServiceName identifies tether in published events.
	ServiceName = "tether"
)

// Options configures New.
type Options struct {
	Config *config.Config

	// ConfigDir overrides .tether/ resolution for credentials and history.
	ConfigDir string

	// StreamDump receives the raw SSE bytes of every response. Optional.
	StreamDump io.Writer

	// Publisher replaces the publisher named by events.provider when set.
	Publisher eventstream.Publisher

	Logger *slog.Logger
}

// Stack is a wired client with its supporting stores.
type Stack struct {
	Config      *config.Config
	Credentials *credentials.Manager
	Transport   *transport.HTTP
	Client      *exchange.Client

	// History and Publisher are nil when disabled.
	History   history.Store
	Publisher eventstream.Publisher

	// Timeout is the configured per-message deadline. Zero means none.
	Timeout time.Duration

	pool *worker.Pool
	log  *slog.Logger
}

// New wires a Stack. Close releases everything it opened.
func New(ctx context.Context, opts Options) (*Stack, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	ttl, err := cfg.Duration("session.access_token_ttl")
	if err != nil {
		return nil, err
	}
	wait, err := cfg.Duration("session.clearance_wait")
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Duration("client.timeout")
	if err != nil {
		return nil, err
	}

	creds, err := credentials.NewManager(opts.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("opening credentials: %w", err)
	}

	tr, err := transport.New(&transport.Config{
		BaseURL:       cfg.Service.BaseURL,
		Profile:       cfg.Session.Profile,
		Store:         creds,
		UserAgent:     cfg.Service.UserAgent,
		ClearanceWait: wait,
		Logger:        log.With("component", "transport"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}

	provider, err := auth.NewSessionProvider(&auth.Config{
		BaseURL:   cfg.Service.BaseURL,
		Profile:   cfg.Session.Profile,
		Store:     creds,
		UserAgent: cfg.Service.UserAgent,
		Challenge: challengeVia(tr, creds, cfg.Session.Profile),
		Logger:    log.With("component", "auth"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating auth provider: %w", err)
	}

	s := &Stack{
		Config:      cfg,
		Credentials: creds,
		Transport:   tr,
		Timeout:     timeout,
		log:         log,
	}

	s.History, err = OpenHistory(ctx, cfg, opts.ConfigDir)
	if err != nil {
		return nil, err
	}

	if opts.Publisher != nil {
		s.Publisher = opts.Publisher
	} else {
		s.Publisher, err = OpenPublisher(cfg)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	var recorder exchange.Recorder
	if s.History != nil || s.Publisher != nil {
		s.pool, err = worker.NewPool(&worker.Config{
			Store:     s.History,
			Publisher: s.Publisher,
			Service:   ServiceName,
			Logger:    log.With("component", "worker"),
		})
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("starting worker pool: %w", err)
		}
		recorder = s.pool
	}

	s.Client, err = exchange.NewClient(&exchange.Config{
		Transport:   tr,
		Auth:        provider,
		Cache:       credentials.NewCache(ttl),
		Model:       cfg.Service.Model,
		BackendPath: cfg.Service.BackendPath,
		Recorder:    recorder,
		StreamDump:  opts.StreamDump,
		Logger:      log.With("component", "exchange"),
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating client: %w", err)
	}

	return s, nil
}

// Close drains pending recordings, then closes the publisher and the history store.
func (s *Stack) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}

	var errs []error
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing publisher: %w", err))
		}
	}
	if s.History != nil {
		if err := s.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing history: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Sender is the message path interactive commands drive.
type Sender interface {
	Send(ctx context.Context, msg *exchange.Message) (*exchange.Snapshot, error)
}

// Connect returns a Sender and the function that releases it. With relayURL
// set, messages go through that relay and nothing local is opened; otherwise
// a full Stack is wired from opts.
func Connect(ctx context.Context, opts Options, relayURL string) (Sender, func() error, error) {
	if relayURL == "" {
		s, err := New(ctx, opts)
		if err != nil {
			return nil, nil, err
		}
		return s.Client, s.Close, nil
	}

	c, err := relayclient.New(&relayclient.Config{
		BaseURL: relayURL,
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating relay client: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		return nil, nil, fmt.Errorf("relay at %s is not reachable: %w", relayURL, err)
	}
	return c, func() error { return nil }, nil
}

// OpenHistory opens the configured history store. It returns nil, nil when
// history is disabled.
func OpenHistory(ctx context.Context, cfg *config.Config, configDir string) (history.Store, error) {
	switch cfg.History.Provider {
	case "", "none":
		return nil, nil

	case "memory":
		return inmemory.NewStore(), nil

	case "sqlite":
		path := cfg.History.SQLitePath
		if path == "" {
			dir, err := dotdir.NewManager().Target(configDir)
			if err != nil {
				return nil, fmt.Errorf("resolving history path: %w", err)
			}
			path = filepath.Join(dir, historyFile)
		}
		store, err := sqlite.NewStore(path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite history: %w", err)
		}
		return store, nil

	case "postgres":
		if cfg.History.PostgresDSN == "" {
			return nil, errors.New("history.postgres_dsn is required for the postgres provider")
		}
		store, err := postgres.NewStore(ctx, cfg.History.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres history: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown history provider: %q", cfg.History.Provider)
	}
}

// OpenPublisher opens the configured event publisher. It returns nil, nil
// when events are disabled.
func OpenPublisher(cfg *config.Config) (eventstream.Publisher, error) {
	switch cfg.Events.Provider {
	case "", "none":
		return nil, nil

	case "kafka":
		pub, err := kafka.NewPublisher(kafka.Config{
			Brokers: cfg.Events.BrokerList(),
			Topic:   cfg.Events.Topic,
		})
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		return pub, nil

	default:
		return nil, fmt.Errorf("unknown events provider: %q", cfg.Events.Provider)
	}
}

// challengeVia answers a login challenge by renewing the transport's
// clearance and handing back the updated artifacts.
func challengeVia(tr *transport.HTTP, store auth.ArtifactStore, profile string) auth.ChallengeFunc {
	if profile == "" {
		profile = credentials.DefaultProfile
	}
	return func(ctx context.Context, _ credentials.Artifacts) (credentials.Artifacts, error) {
		if err := tr.Refresh(ctx); err != nil {
			return credentials.Artifacts{}, err
		}
		return store.GetArtifacts(profile)
	}
}
