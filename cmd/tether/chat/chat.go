// Package chatcmder provides the chat command, an interactive loop over one
// remote conversation.
package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/tether/pkg/cliui"
	"github.com/papercomputeco/tether/pkg/config"
	"github.com/papercomputeco/tether/pkg/dotdir"
	"github.com/papercomputeco/tether/pkg/exchange"
	"github.com/papercomputeco/tether/pkg/logger"
	"github.com/papercomputeco/tether/pkg/stack"
	"github.com/papercomputeco/tether/pkg/thread"
)

type chatCommander struct {
	configDir string
	debug     bool
	newThread bool
	relay     bool

	timeout time.Duration
	model   string
	profile string

	in  io.Reader
	out io.Writer
	err io.Writer

	log *slog.Logger
}

const chatLongDesc string = `Start an interactive chat session.

The session continues the conversation recorded in .tether/cursor.json, and
the cursor advances after every reply, so "tether ask" and "tether chat" can
be mixed freely. Use --new to start a fresh conversation.

While chatting:
  /new      start a new conversation
  /retry    regenerate the latest reply
  /exit     leave (Ctrl-D also works)

Ctrl-C stops the reply being written; at an empty prompt it leaves.

Examples:
  tether chat
  tether chat --new --timeout 5m
  tether chat --relay`

const chatShortDesc string = "Interactive chat session"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			cmder.err = cmd.ErrOrStderr()

			cfg, err := config.LoadForCommand(cmd, config.FlagTimeout, config.FlagModel, config.FlagProfile)
			if err != nil {
				return err
			}

			return cmder.run(cmd.Context(), cfg)
		},
	}

	config.AddDurationFlag(cmd, config.Flags, config.FlagTimeout, &cmder.timeout)
	config.AddStringFlag(cmd, config.Flags, config.FlagModel, &cmder.model)
	config.AddStringFlag(cmd, config.Flags, config.FlagProfile, &cmder.profile)
	cmd.Flags().BoolVarP(&cmder.newThread, "new", "n", false, "Start a new conversation")
	cmd.Flags().BoolVar(&cmder.relay, "relay", false, "Send through the relay at client.relay_target")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, cfg *config.Config) error {
	c.log = logger.New(logger.WithDebug(c.debug), logger.WithPretty(true), logger.WithWriter(c.err))

	ddm := dotdir.NewManager()
	var cursor *dotdir.Cursor
	if !c.newThread {
		var err error
		cursor, err = ddm.LoadCursor(c.configDir)
		if err != nil {
			return err
		}
	}

	relayURL := ""
	if c.relay {
		relayURL = cfg.Client.RelayTarget
	}
	sender, closeSender, err := stack.Connect(ctx, stack.Options{
		Config:    cfg,
		ConfigDir: c.configDir,
		Logger:    c.log,
	}, relayURL)
	if err != nil {
		return err
	}
	defer func() { _ = closeSender() }()

	timeout, err := cfg.Duration("client.timeout")
	if err != nil {
		return err
	}
	t := thread.New(sender, cursor, timeout)

	if t.Started() {
		fmt.Fprintf(c.out, "%s\n", cliui.Sanitize(c.out, cliui.DimStyle.Render("Continuing conversation "+t.Cursor().ConversationID)))
	} else {
		fmt.Fprintf(c.out, "%s\n", cliui.Sanitize(c.out, cliui.DimStyle.Render("Starting a new conversation")))
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	lines := readLines(c.in)

	for {
		fmt.Fprint(c.out, cliui.Sanitize(c.out, cliui.UserPrompt))

		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			fmt.Fprintln(c.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(c.out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/new":
			t.Reset()
			if err := ddm.ClearCursor(c.configDir); err != nil {
				c.log.Warn("could not clear cursor", "error", err)
			}
			fmt.Fprintf(c.out, "%s\n", cliui.Sanitize(c.out, cliui.DimStyle.Render("Starting a new conversation")))
			continue
		}

		err := c.turn(ctx, t, line, interrupts)
		switch {
		case errors.Is(err, thread.ErrNothingToRegenerate):
			fmt.Fprintf(c.out, "%s\n", cliui.Sanitize(c.out, cliui.ErrorStyle.Render(err.Error())))
			continue
		case err != nil:
			fmt.Fprintf(c.out, "%s %s\n", cliui.Sanitize(c.out, cliui.FailMark), err)
			if exchange.KindOf(err) == exchange.KindAuthExpired {
				return err
			}
			continue
		}

		if err := ddm.SaveCursor(t.Cursor(), c.configDir); err != nil {
			c.log.Warn("could not save cursor", "error", err)
		}
	}
}

// turn sends one line and streams the reply. An interrupt cancels only this
// reply.
func (c *chatCommander) turn(ctx context.Context, t *thread.Thread, line string, interrupts <-chan os.Signal) error {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-interrupts:
			cancel()
		case <-done:
		}
	}()

	fmt.Fprint(c.out, cliui.Sanitize(c.out, cliui.AssistantPrompt))
	progress := cliui.NewProgress(c.out)
	onProgress := func(s exchange.Snapshot) { progress.Update(s.Response) }

	var (
		snap *exchange.Snapshot
		err  error
	)
	if line == "/retry" {
		snap, err = t.Regenerate(sendCtx, onProgress)
	} else {
		snap, err = t.Say(sendCtx, line, onProgress)
	}
	if err != nil {
		progress.Finish("")
		fmt.Fprintln(c.out)
		return err
	}

	if !progress.Finish(snap.Response) {
		fmt.Fprintln(c.out, snap.Response)
	}
	fmt.Fprintln(c.out)
	return nil
}

// readLines feeds lines from r into a channel so the loop can also wait on
// signals. The channel closes at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
