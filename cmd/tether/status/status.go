// Package statuscmder provides the status command for displaying the saved
// cursor, stored profiles and the running relay.
package statuscmder

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/tether/pkg/cliui"
	"github.com/papercomputeco/tether/pkg/credentials"
	"github.com/papercomputeco/tether/pkg/dotdir"
	"github.com/papercomputeco/tether/pkg/relaystate"
	"github.com/papercomputeco/tether/pkg/utils"
)

const statusLongDesc string = `Show the current tether state.

Reads the .tether/ directory to display:
  - the conversation the next message continues, and its latest prompt
  - the credential profiles that are stored
  - the relay started by "tether serve", if it is running

Examples:
  tether status`

const statusShortDesc string = "Show cursor, profiles and relay state"

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runStatus(cmd.OutOrStdout(), configDir)
		},
	}

	return cmd
}

func runStatus(w io.Writer, configDir string) error {
	dot := func(s string) string { return cliui.Sanitize(w, cliui.DimStyle.Render(s)) }
	key := func(s string) string { return cliui.Sanitize(w, cliui.KeyStyle.Render(s)) }

	cursor, err := dotdir.NewManager().LoadCursor(configDir)
	if err != nil {
		return fmt.Errorf("loading cursor: %w", err)
	}

	fmt.Fprintln(w)
	if cursor == nil || cursor.ConversationID == "" {
		fmt.Fprintf(w, "  %s No saved cursor. Next message starts a new conversation.\n", dot("●"))
	} else {
		fmt.Fprintf(w, "  %s  %s\n", key("Conversation:"), cursor.ConversationID)
		fmt.Fprintf(w, "  %s  %s\n", key("Parent:      "), cursor.ParentMessageID)
		if cursor.Prompt != "" {
			fmt.Fprintf(w, "  %s  %s\n", key("Last prompt: "), utils.Truncate(utils.OneLine(cursor.Prompt), 60))
		}
	}

	creds, err := credentials.NewManager(configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	profiles, err := creds.ListProfiles()
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	if len(profiles) == 0 {
		fmt.Fprintf(w, "  %s No stored credentials. Run 'tether auth'.\n", dot("●"))
	} else {
		fmt.Fprintf(w, "  %s  %d stored\n", key("Profiles:    "), len(profiles))
		for _, p := range profiles {
			fmt.Fprintf(w, "    %s %s\n", dot("-"), p)
		}
	}

	relays, err := relaystate.NewManager(configDir)
	if err != nil {
		return err
	}
	state, err := relays.Running()
	if err != nil {
		return fmt.Errorf("loading relay state: %w", err)
	}
	fmt.Fprintln(w)
	if state == nil {
		fmt.Fprintf(w, "  %s Relay not running.\n", dot("●"))
	} else {
		fmt.Fprintf(w, "  %s  %s %s\n", key("Relay:       "), state.URL,
			dot(fmt.Sprintf("(pid %d, up %s)", state.PID, time.Since(state.StartedAt).Round(time.Second))))
	}

	fmt.Fprintln(w)
	return nil
}
