// Package servecmder provides the serve command, which runs the local relay.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/tether/api"
	"github.com/papercomputeco/tether/pkg/config"
	"github.com/papercomputeco/tether/pkg/logger"
	"github.com/papercomputeco/tether/pkg/relaystate"
	"github.com/papercomputeco/tether/pkg/stack"
)

type serveCommander struct {
	configDir string
	debug     bool
	jsonLogs  bool
	logFile   string
	noMCP     bool

	listen   string
	timeout  time.Duration
	profile  string
	history  string
	sqlite   string
	postgres string
	events   string
	brokers  string
	topic    string

	logger *slog.Logger
}

const serveLongDesc string = `Run the local relay.

The relay keeps one signed-in client warm and exposes it over HTTP:
  POST /v1/messages            send a message; the reply streams back as SSE
  GET  /v1/conversations/:id   recorded turns of a conversation
  GET  /v1/history             recent recorded turns
  GET  /ping                   health check
  /mcp                         MCP endpoint with the send_message tool

Completed exchanges are recorded in the history store and, when configured,
published to Kafka. Changes to credentials.toml are picked up without a
restart. Only one relay may run per .tether/ directory.

Examples:
  tether serve
  tether serve --listen 127.0.0.1:9000 --history postgres --postgres "$DSN"
  tether serve --events kafka --kafka-brokers localhost:9092`

const serveShortDesc string = "Run the local relay"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			cfg, err := config.LoadForCommand(cmd,
				config.FlagRelayListen, config.FlagTimeout, config.FlagProfile,
				config.FlagHistory, config.FlagSQLite, config.FlagPostgres,
				config.FlagEvents, config.FlagKafkaBrokers, config.FlagKafkaTopic,
			)
			if err != nil {
				return err
			}

			return cmder.run(cmd.Context(), cfg)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagRelayListen, &cmder.listen)
	config.AddDurationFlag(cmd, config.Flags, config.FlagTimeout, &cmder.timeout)
	config.AddStringFlag(cmd, config.Flags, config.FlagProfile, &cmder.profile)
	config.AddStringFlag(cmd, config.Flags, config.FlagHistory, &cmder.history)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlite)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgres, &cmder.postgres)
	config.AddStringFlag(cmd, config.Flags, config.FlagEvents, &cmder.events)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &cmder.brokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaTopic, &cmder.topic)
	cmd.Flags().BoolVar(&cmder.jsonLogs, "json-logs", false, "Write logs as JSON")
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also append JSON logs to this file")
	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Do not mount the MCP endpoint")

	return cmd
}

func (c *serveCommander) run(ctx context.Context, cfg *config.Config) error {
	if c.jsonLogs {
		c.logger = logger.New(logger.WithDebug(c.debug), logger.WithJSON(true), logger.WithWriter(os.Stderr))
	} else {
		c.logger = logger.New(logger.WithDebug(c.debug), logger.WithPretty(true), logger.WithWriter(os.Stderr))
	}
	if c.logFile != "" {
		f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		c.logger = logger.Multi(c.logger, logger.New(logger.WithDebug(c.debug), logger.WithJSON(true), logger.WithWriter(f)))
	}

	state, err := relaystate.NewManager(c.configDir)
	if err != nil {
		return err
	}
	lock, err := state.TryLock()
	if err != nil {
		if errors.Is(err, relaystate.ErrRunning) {
			if running, _ := state.LoadState(); running != nil {
				return fmt.Errorf("%w at %s (pid %d)", err, running.URL, running.PID)
			}
		}
		return err
	}
	defer func() { _ = lock.Release() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := stack.New(ctx, stack.Options{
		Config:    cfg,
		ConfigDir: c.configDir,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			c.logger.Error("closing stack", "error", err)
		}
	}()

	// Warm the access token so a stale session shows up at startup rather
	// than on the first message.
	if err := s.Client.Authenticate(ctx); err != nil {
		c.logger.Warn("session check failed; messages will fail until credentials are refreshed", "error", err)
	}

	go func() {
		err := s.Credentials.Watch(ctx, func() {
			c.logger.Info("credentials changed, dropping cached access token")
			s.Client.ResetSession()
		})
		if err != nil {
			c.logger.Warn("credentials watcher stopped", "error", err)
		}
	}()

	server, err := api.NewServer(api.Config{
		ListenAddr:     cfg.Relay.Listen,
		DefaultTimeout: s.Timeout,
		DisableMCP:     c.noMCP,
	}, s.Client, s.History, c.logger.With("component", "relay"))
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	url := relaystate.URLFor(cfg.Relay.Listen)
	if err := state.SaveState(&relaystate.State{
		PID:     os.Getpid(),
		URL:     url,
		Profile: cfg.Session.Profile,
	}); err != nil {
		return err
	}
	defer func() { _ = state.ClearState() }()

	c.logger.Info("relay ready",
		"url", url,
		"profile", cfg.Session.Profile,
		"history", cfg.History.Provider,
		"events", cfg.Events.Provider,
		"mcp", !c.noMCP,
	)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("relay error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
		c.logger.Info("context done, shutting down")
	}

	if err := server.Shutdown(); err != nil {
		c.logger.Error("shutting down relay", "error", err)
	}
	return nil
}
