// Package authcmder provides the auth command for storing session artifacts.
package authcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/tether/pkg/cliui"
	"github.com/papercomputeco/tether/pkg/config"
	"github.com/papercomputeco/tether/pkg/credentials"
	"github.com/papercomputeco/tether/pkg/stack"
)

const authLongDesc string = `Store session artifacts for the conversation service.

Tether signs in with the service's session cookie (` + credentials.SessionCookie + `).
Copy its value from a signed-in browser and paste it at the prompt; input is
hidden. Artifacts are stored per profile in credentials.toml in the .tether/
directory.

Some deployments also sit behind an edge clearance cookie (` + credentials.ClearanceCookie + `)
that is bound to the browser's User-Agent. Store it with --clearance and pass
the same --user-agent the browser used.

Examples:
  tether auth                          Prompt for the session cookie
  tether auth --verify                 Store it and check it is accepted
  tether auth --clearance --user-agent "Mozilla/5.0 ..."
  tether auth --profile work           Store artifacts for another profile
  tether auth --list                   List stored profiles
  tether auth --remove work            Remove a profile
  pbpaste | tether auth                Pipe the cookie from stdin`

const authShortDesc string = "Store session artifacts"

type authCommander struct {
	configDir string

	profile   string
	userAgent string
	clearance bool
	verify    bool
	list      bool
	remove    string

	in  io.Reader
	out io.Writer
}

func NewAuthCmd() *cobra.Command {
	cmder := &authCommander{}

	cmd := &cobra.Command{
		Use:   "auth",
		Short: authShortDesc,
		Long:  authLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()

			switch {
			case cmder.list:
				return cmder.runList()
			case cmder.remove != "":
				return cmder.runRemove()
			default:
				cfg, err := config.LoadForCommand(cmd, config.FlagProfile, config.FlagUserAgent)
				if err != nil {
					return err
				}
				return cmder.runStore(cmd.Context(), cfg)
			}
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagProfile, &cmder.profile)
	config.AddStringFlag(cmd, config.Flags, config.FlagUserAgent, &cmder.userAgent)
	cmd.Flags().BoolVar(&cmder.clearance, "clearance", false, "Store the edge clearance cookie instead of the session cookie")
	cmd.Flags().BoolVar(&cmder.verify, "verify", false, "Check the stored session by fetching an access token")
	cmd.Flags().BoolVar(&cmder.list, "list", false, "List stored profiles")
	cmd.Flags().StringVar(&cmder.remove, "remove", "", "Remove the stored artifacts of a profile")

	cmd.MarkFlagsMutuallyExclusive("list", "remove", "clearance")

	return cmd
}

func (c *authCommander) runStore(ctx context.Context, cfg *config.Config) error {
	profile := cfg.Session.Profile
	if profile == "" {
		profile = credentials.DefaultProfile
	}

	label := credentials.SessionCookie
	if c.clearance {
		label = credentials.ClearanceCookie
	}

	value, err := c.readSecret(label)
	if err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s value cannot be empty", label)
	}

	mgr, err := credentials.NewManager(c.configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	err = mgr.UpdateArtifacts(profile, func(a *credentials.Artifacts) {
		if c.clearance {
			a.Clearance = value
			a.UserAgent = cfg.Service.UserAgent
			return
		}
		a.SessionToken = value
	})
	if err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}

	fmt.Fprintf(c.out, "\n  %s Stored %s for profile %s\n",
		cliui.Sanitize(c.out, cliui.SuccessMark),
		label,
		cliui.Sanitize(c.out, cliui.KeyStyle.Render(profile)),
	)

	if c.verify {
		if err := c.runVerify(ctx, cfg); err != nil {
			return err
		}
	}

	fmt.Fprintln(c.out)
	return nil
}

// runVerify fetches an access token with the stored artifacts. History and
// events are skipped since nothing is sent.
func (c *authCommander) runVerify(ctx context.Context, cfg *config.Config) error {
	verifyCfg := *cfg
	verifyCfg.History.Provider = "none"
	verifyCfg.Events.Provider = "none"

	s, err := stack.New(ctx, stack.Options{Config: &verifyCfg, ConfigDir: c.configDir})
	if err != nil {
		return err
	}
	defer s.Close()

	return cliui.Step(c.out, "Verifying session", func() error {
		return s.Client.Authenticate(ctx)
	})
}

func (c *authCommander) runList() error {
	mgr, err := credentials.NewManager(c.configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	profiles, err := mgr.ListProfiles()
	if err != nil {
		return err
	}

	if len(profiles) == 0 {
		fmt.Fprintf(c.out, "\n  %s No stored credentials.\n", cliui.Sanitize(c.out, cliui.DimStyle.Render("●")))
		fmt.Fprintf(c.out, "  Use 'tether auth' to store the session cookie.\n\n")
		return nil
	}

	fmt.Fprintf(c.out, "\n  %s\n\n", cliui.Sanitize(c.out, cliui.KeyStyle.Render("Stored profiles")))
	for _, p := range profiles {
		a, err := mgr.GetArtifacts(p)
		if err != nil {
			return err
		}

		var parts []string
		if a.SessionToken != "" {
			parts = append(parts, "session")
		}
		if a.Clearance != "" {
			parts = append(parts, "clearance")
		}
		fmt.Fprintf(c.out, "  %s  %s  %s\n",
			cliui.Sanitize(c.out, cliui.Mark(missing(a))),
			cliui.Sanitize(c.out, cliui.KeyStyle.Render(p)),
			cliui.Sanitize(c.out, cliui.DimStyle.Render(strings.Join(parts, ", "))),
		)
	}
	fmt.Fprintln(c.out)

	return nil
}

func (c *authCommander) runRemove() error {
	mgr, err := credentials.NewManager(c.configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	if err := mgr.RemoveProfile(c.remove); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n  %s Removed profile %s.\n\n",
		cliui.Sanitize(c.out, cliui.SuccessMark),
		cliui.Sanitize(c.out, cliui.KeyStyle.Render(c.remove)),
	)
	return nil
}

// readSecret reads one value from the command's input. A terminal gets a
// prompt with hidden input; anything else is read up to the first newline.
func (c *authCommander) readSecret(label string) (string, error) {
	if f, ok := c.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(c.out, "Enter %s: ", label)
		value, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.out) // newline after hidden input
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", label, err)
		}
		return string(value), nil
	}

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return "", errors.New("no input received on stdin")
}

// missing is non-nil when a profile cannot sign in.
func missing(a credentials.Artifacts) error {
	if a.IsZero() {
		return errors.New("no session token")
	}
	return nil
}
