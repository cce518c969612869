// Package configcmder provides the config command for managing persistent
// tether configuration stored in the .tether/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/tether/pkg/cliui"
	"github.com/papercomputeco/tether/pkg/config"
)

const configLongDesc string = `Manage persistent tether configuration.

Configuration is stored as config.toml in the .tether/ directory and provides
default values for command flags. CLI flags and TETHER_* environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  service.base_url, service.backend_path, service.model, service.user_agent,
  session.profile, session.access_token_ttl, session.clearance_wait,
  client.timeout, client.relay_target,
  relay.listen,
  history.provider, history.sqlite_path, history.postgres_dsn,
  events.provider, events.brokers, events.topic

Use subcommands to get, set, or list configuration values:
  tether config set <key> <value>    Set a configuration value
  tether config get <key>            Get a configuration value
  tether config list                 List all configuration values

Examples:
  tether config set client.timeout 5m
  tether config set history.provider postgres
  tether config get service.model
  tether config list`

const configShortDesc string = "Manage persistent tether configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

// printTarget shows which config file a command reads or writes.
func printTarget(w io.Writer, cfger *config.Configer) {
	if target := cfger.GetTarget(); target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.Sanitize(w, cliui.KeyStyle.Render("Config file:")),
			cliui.Sanitize(w, cliui.DimStyle.Render(target)),
		)
		return
	}
	fmt.Fprintf(w, "\n  %s\n\n", cliui.Sanitize(w, cliui.DimStyle.Render("No config file found. Using defaults.")))
}

func unknownKey(key string) error {
	return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
		key, strings.Join(config.ValidConfigKeys(), ", "))
}
