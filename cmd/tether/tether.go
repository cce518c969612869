// Package tethercmder
package tethercmder

import (
	"github.com/spf13/cobra"

	askcmder "github.com/papercomputeco/tether/cmd/tether/ask"
	authcmder "github.com/papercomputeco/tether/cmd/tether/auth"
	chatcmder "github.com/papercomputeco/tether/cmd/tether/chat"
	configcmder "github.com/papercomputeco/tether/cmd/tether/config"
	historycmder "github.com/papercomputeco/tether/cmd/tether/history"
	servecmder "github.com/papercomputeco/tether/cmd/tether/serve"
	statuscmder "github.com/papercomputeco/tether/cmd/tether/status"
	versioncmder "github.com/papercomputeco/tether/cmd/version"
)

const tetherLongDesc string = `Tether talks to a browser-session conversation service from the terminal.

It signs in with the session cookie stored by "tether auth", keeps a
short-lived access token cached, and streams each reply as it is written.

Get started:
  tether auth                 Store the session cookie
  tether ask "hello"          Send one message
  tether chat                 Continue the conversation interactively
  tether serve                Run the local relay (HTTP and MCP)`

const tetherShortDesc string = "Tether - a terminal client for session-authenticated chat"

func NewTetherCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tether",
		Short:         tetherShortDesc,
		Long:          tetherLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .tether/ directory location")

	// Add subcommands
	cmd.AddCommand(askcmder.NewAskCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(historycmder.NewHistoryCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
