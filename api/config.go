// Package api provides the local relay: an HTTP server that sends messages
// through a shared client, streams progress as SSE, and serves recorded history.
package api

import "time"

// Config is the relay server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8787")
	ListenAddr string

	// DefaultTimeout applies to messages that don't carry timeout_ms.
	// Zero means no deadline.
	DefaultTimeout time.Duration

	// DisableMCP turns off the /mcp endpoint.
	DisableMCP bool
}
