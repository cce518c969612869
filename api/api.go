package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/tether/api/mcp"
	"github.com/papercomputeco/tether/pkg/exchange"
	"github.com/papercomputeco/tether/pkg/history"
	"github.com/papercomputeco/tether/pkg/logger"
)

// Sender sends one message and blocks until the reply resolves.
type Sender interface {
	Send(ctx context.Context, msg *exchange.Message) (*exchange.Snapshot, error)
}

// Server is the relay HTTP server.
type Server struct {
	config  Config
	sender  Sender
	history history.Store
	logger  *slog.Logger
	app     *fiber.App

	// ctx is canceled on Shutdown so in-flight streams stop.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new relay server. store may be nil when history is disabled.
func NewServer(config Config, sender Sender, store history.Store, log *slog.Logger) (*Server, error) {
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  config,
		sender:  sender,
		history: store,
		logger:  log,
		app:     app,
		ctx:     ctx,
		cancel:  cancel,
	}

	app.Get("/ping", s.handlePing)
	app.Post("/v1/messages", s.handleSendMessage)
	app.Get("/v1/conversations/:id", s.handleGetConversation)
	app.Get("/v1/history", s.handleListHistory)

	if !config.DisableMCP {
		mcpServer, err := mcp.NewServer(mcp.Config{
			Sender:         sender,
			History:        store,
			DefaultTimeout: config.DefaultTimeout,
			Logger:         log.With("component", "mcp"),
		})
		if err != nil {
			cancel()
			return nil, err
		}
		app.All("/mcp", adaptor.HTTPHandler(mcpServer.Handler()))
	}

	return s, nil
}

// Run starts the relay on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting relay", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown cancels in-flight exchanges and gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.cancel()
	return s.app.Shutdown()
}
