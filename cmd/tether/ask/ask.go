// Package askcmder provides the ask command for sending a single message.
package askcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
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

type askCommander struct {
	configDir string
	debug     bool

	timeout        time.Duration
	conversationID string
	parentID       string
	newThread      bool
	variant        bool
	markdown       bool
	relay          bool
	dumpStream     string

	// flag holders; values reach the config through viper bindings
	model   string
	profile string
	baseURL string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

const askLongDesc string = `Send one message and print the reply as it streams in.

By default the message continues the conversation recorded in .tether/cursor.json
by the last ask or chat. Use --new to start a fresh conversation, or
--conversation and --parent to continue from a specific point. The cursor is
updated after every successful reply.

With no message argument the message is read from stdin.

Examples:
  tether ask "what is a monad?"
  tether ask --new --markdown "summarize RFC 9110 in five bullets"
  git diff | tether ask --new
  tether ask --variant                 Regenerate the latest reply
  tether ask --relay "hi"              Send through a running "tether serve"`

const askShortDesc string = "Send one message"

func NewAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "ask [message...]",
		Short: askShortDesc,
		Long:  askLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.stdin = cmd.InOrStdin()
			cmder.stdout = cmd.OutOrStdout()
			cmder.stderr = cmd.ErrOrStderr()

			cfg, err := config.LoadForCommand(cmd,
				config.FlagTimeout, config.FlagModel, config.FlagProfile, config.FlagBaseURL)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return cmder.run(ctx, cfg, args)
		},
	}

	config.AddDurationFlag(cmd, config.Flags, config.FlagTimeout, &cmder.timeout)
	config.AddStringFlag(cmd, config.Flags, config.FlagModel, &cmder.model)
	config.AddStringFlag(cmd, config.Flags, config.FlagProfile, &cmder.profile)
	config.AddStringFlag(cmd, config.Flags, config.FlagBaseURL, &cmder.baseURL)
	cmd.Flags().StringVarP(&cmder.conversationID, "conversation", "c", "", "Continue this conversation instead of the saved cursor")
	cmd.Flags().StringVar(&cmder.parentID, "parent", "", "Reply to this message id instead of the saved cursor")
	cmd.Flags().BoolVarP(&cmder.newThread, "new", "n", false, "Start a new conversation")
	cmd.Flags().BoolVar(&cmder.variant, "variant", false, "Regenerate the latest reply instead of sending a message")
	cmd.Flags().BoolVar(&cmder.markdown, "markdown", false, "Wait for the full reply and render it as markdown")
	cmd.Flags().BoolVar(&cmder.relay, "relay", false, "Send through the relay at client.relay_target")
	cmd.Flags().StringVar(&cmder.dumpStream, "dump-stream", "", "Append the raw event stream to this file")

	cmd.MarkFlagsMutuallyExclusive("new", "conversation")
	cmd.MarkFlagsMutuallyExclusive("new", "variant")

	return cmd
}

func (c *askCommander) run(ctx context.Context, cfg *config.Config, args []string) error {
	log := logger.New(logger.WithDebug(c.debug), logger.WithPretty(true), logger.WithWriter(c.stderr))

	text, err := c.message(args)
	if err != nil {
		return err
	}

	ddm := dotdir.NewManager()
	cursor, err := c.startingCursor(ddm)
	if err != nil {
		return err
	}

	opts := stack.Options{
		Config:    cfg,
		ConfigDir: c.configDir,
		Logger:    log,
	}
	if c.dumpStream != "" {
		if c.relay {
			return errors.New("--dump-stream is not available with --relay")
		}
		f, err := os.OpenFile(c.dumpStream, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("opening stream dump: %w", err)
		}
		defer f.Close()
		opts.StreamDump = f
	}

	relayURL := ""
	if c.relay {
		relayURL = cfg.Client.RelayTarget
	}
	sender, closeSender, err := stack.Connect(ctx, opts, relayURL)
	if err != nil {
		return err
	}
	defer func() { _ = closeSender() }()

	timeout, err := cfg.Duration("client.timeout")
	if err != nil {
		return err
	}
	t := thread.New(sender, cursor, timeout)

	snap, err := c.send(ctx, t, text)
	if err != nil {
		return describe(err)
	}

	if err := ddm.SaveCursor(t.Cursor(), c.configDir); err != nil {
		log.Warn("could not save cursor", "error", err)
	}

	log.Debug("reply resolved",
		"conversation_id", snap.ConversationID,
		"message_id", snap.MessageID,
	)
	return nil
}

// send runs the exchange and prints the reply: streamed as it grows, or
// rendered as markdown once complete.
func (c *askCommander) send(ctx context.Context, t *thread.Thread, text string) (*exchange.Snapshot, error) {
	call := func(onProgress exchange.ProgressFunc) (*exchange.Snapshot, error) {
		if c.variant {
			return t.Regenerate(ctx, onProgress)
		}
		return t.Say(ctx, text, onProgress)
	}

	if c.markdown {
		var snap *exchange.Snapshot
		err := cliui.Step(c.stderr, "Waiting for reply", func() error {
			var err error
			snap, err = call(nil)
			return err
		})
		if err != nil {
			return nil, err
		}

		rendered, err := cliui.RenderMarkdown(c.stdout, snap.Response)
		if err != nil {
			fmt.Fprintln(c.stdout, snap.Response)
			return snap, nil
		}
		fmt.Fprint(c.stdout, rendered)
		return snap, nil
	}

	progress := cliui.NewProgress(c.stdout)
	snap, err := call(func(s exchange.Snapshot) { progress.Update(s.Response) })
	if err != nil {
		progress.Finish("")
		return nil, err
	}
	if !progress.Finish(snap.Response) {
		fmt.Fprintln(c.stdout, snap.Response)
	}
	return snap, nil
}

func (c *askCommander) message(args []string) (string, error) {
	if c.variant {
		if len(args) > 0 {
			return "", errors.New("--variant regenerates the latest reply and takes no message")
		}
		return "", nil
	}

	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	data, err := io.ReadAll(c.stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("message required: pass it as an argument or on stdin")
	}
	return text, nil
}

func (c *askCommander) startingCursor(ddm *dotdir.Manager) (*dotdir.Cursor, error) {
	if c.newThread {
		return nil, nil
	}

	cursor, err := ddm.LoadCursor(c.configDir)
	if err != nil {
		return nil, err
	}

	if c.conversationID != "" || c.parentID != "" {
		if c.variant {
			return nil, errors.New("--variant regenerates the saved cursor; drop --conversation and --parent")
		}
		next := &dotdir.Cursor{ConversationID: c.conversationID, ParentMessageID: c.parentID}
		if cursor != nil && next.ConversationID == "" {
			next.ConversationID = cursor.ConversationID
		}
		return next, nil
	}

	return cursor, nil
}

// describe adds a hint for failures the user can act on.
func describe(err error) error {
	switch exchange.KindOf(err) {
	case exchange.KindAuthExpired:
		return fmt.Errorf("%w\n\nThe session cookie is no longer accepted. Run \"tether auth\" to store a fresh one", err)
	case exchange.KindSessionStale:
		return fmt.Errorf("%w\n\nThe service refused the session. Refresh the clearance cookie with \"tether auth --clearance\"", err)
	case exchange.KindTimeout:
		return fmt.Errorf("%w\n\nRaise the deadline with --timeout or \"tether config set client.timeout\"", err)
	default:
		return err
	}
}
