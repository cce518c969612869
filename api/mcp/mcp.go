// Package mcp provides an MCP (Model Context Protocol) server that lets
// agents send messages through tether and read recorded conversations.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/tether/pkg/exchange"
	"github.com/papercomputeco/tether/pkg/history"
	"github.com/papercomputeco/tether/pkg/logger"
	"github.com/papercomputeco/tether/pkg/utils"
)

// Sender sends one message and blocks until the reply resolves.
type Sender interface {
	Send(ctx context.Context, msg *exchange.Message) (*exchange.Snapshot, error)
}

type Config struct {
	// Sender delivers messages. Required.
	Sender Sender

	// History enables the get_conversation tool. Optional.
	History history.Store

	// DefaultTimeout applies when a call doesn't set timeout_ms.
	DefaultTimeout time.Duration

	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the send_message tool and, when
// history is configured, the get_conversation tool.
func NewServer(c Config) (*Server, error) {
	if c.Sender == nil {
		return nil, errors.New("sender is required")
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "tether",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        sendMessageToolName,
		Description: sendMessageDescription,
	}, s.handleSendMessage)

	if c.History != nil {
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        getConversationToolName,
			Description: getConversationDescription,
		}, s.handleGetConversation)
	}

	s.mcpServer = mcpServer

	// Stateless streamable HTTP handler.
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// MCP returns the underlying SDK server, for connecting other transports.
func (s *Server) MCP() *mcp.Server {
	return s.mcpServer
}
