// Package historycmder provides the history command for reading recorded
// exchanges.
package historycmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/tether/pkg/cliui"
	"github.com/papercomputeco/tether/pkg/config"
	"github.com/papercomputeco/tether/pkg/dotdir"
	"github.com/papercomputeco/tether/pkg/exchange"
	"github.com/papercomputeco/tether/pkg/history"
	"github.com/papercomputeco/tether/pkg/stack"
	"github.com/papercomputeco/tether/pkg/utils"
)

const historyLongDesc string = `Show recorded exchanges.

Without arguments, lists the most recent exchanges across conversations,
newest first. With a conversation id, or --current for the conversation in
the saved cursor, prints that conversation's prompts and replies in order.

Exchanges are recorded by ask, chat and serve in the configured history
store (history.provider).

Examples:
  tether history
  tether history --limit 50
  tether history --current
  tether history 6b1f0d9e-...`

const historyShortDesc string = "Show recorded exchanges"

const previewWidth = 72

type historyCommander struct {
	configDir string
	limit     int
	current   bool
	full      bool

	provider string
	sqlite   string
	postgres string

	out io.Writer
}

func NewHistoryCmd() *cobra.Command {
	cmder := &historyCommander{}

	cmd := &cobra.Command{
		Use:   "history [conversation-id]",
		Short: historyShortDesc,
		Long:  historyLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.out = cmd.OutOrStdout()

			cfg, err := config.LoadForCommand(cmd, config.FlagHistory, config.FlagSQLite, config.FlagPostgres)
			if err != nil {
				return err
			}

			return cmder.run(cmd.Context(), cfg, args)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagHistory, &cmder.provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlite)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgres, &cmder.postgres)
	cmd.Flags().IntVar(&cmder.limit, "limit", 20, "Maximum number of exchanges to list")
	cmd.Flags().BoolVar(&cmder.current, "current", false, "Show the conversation in the saved cursor")
	cmd.Flags().BoolVar(&cmder.full, "full", false, "Print complete prompts and replies")

	return cmd
}

func (c *historyCommander) run(ctx context.Context, cfg *config.Config, args []string) error {
	if c.limit <= 0 {
		return errors.New("--limit must be positive")
	}

	conversationID := ""
	switch {
	case len(args) == 1:
		conversationID = args[0]
	case c.current:
		cursor, err := dotdir.NewManager().LoadCursor(c.configDir)
		if err != nil {
			return err
		}
		if cursor == nil || cursor.ConversationID == "" {
			fmt.Fprintf(c.out, "  %s No current conversation.\n",
				cliui.Sanitize(c.out, cliui.DimStyle.Render("●")))
			return nil
		}
		conversationID = cursor.ConversationID
	}

	store, err := stack.OpenHistory(ctx, cfg, c.configDir)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("history is disabled (history.provider = none)")
	}
	defer store.Close()

	if conversationID != "" {
		return c.showConversation(ctx, store, conversationID)
	}
	return c.listRecent(ctx, store)
}

func (c *historyCommander) listRecent(ctx context.Context, store history.Store) error {
	records, err := store.Recent(ctx, c.limit)
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}

	if len(records) == 0 {
		fmt.Fprintf(c.out, "  %s No recorded exchanges.\n",
			cliui.Sanitize(c.out, cliui.DimStyle.Render("●")))
		return nil
	}

	fmt.Fprintln(c.out)
	for _, r := range records {
		fmt.Fprintf(c.out, "  %s  %s  %s\n",
			cliui.Sanitize(c.out, cliui.DimStyle.Render(r.CreatedAt.Local().Format("2006-01-02 15:04"))),
			cliui.Sanitize(c.out, cliui.KeyStyle.Render(r.ConversationID)),
			cliui.Sanitize(c.out, cliui.DimStyle.Render(cliui.FormatDuration(r.Duration))),
		)
		fmt.Fprintf(c.out, "    %s\n\n", c.preview(r.Prompt))
	}
	return nil
}

func (c *historyCommander) showConversation(ctx context.Context, store history.Store, conversationID string) error {
	records, err := store.Conversation(ctx, conversationID)
	if err != nil {
		var notFound history.NotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("no recorded exchanges for conversation %s", conversationID)
		}
		return fmt.Errorf("loading conversation: %w", err)
	}

	fmt.Fprintf(c.out, "\n  %s  %s\n", cliui.Sanitize(c.out, cliui.KeyStyle.Render("Conversation:")), conversationID)
	fmt.Fprintf(c.out, "  %s  %s\n\n", cliui.Sanitize(c.out, cliui.KeyStyle.Render("Exchanges:   ")), strconv.Itoa(len(records)))

	for i, r := range records {
		label := "you"
		if r.Action == exchange.ActionVariant {
			label = "you (regenerated)"
		}
		fmt.Fprintf(c.out, "  %s %s %s\n",
			cliui.Sanitize(c.out, cliui.DimStyle.Render(fmt.Sprintf("%d.", i+1))),
			cliui.Sanitize(c.out, cliui.StepStyle.Render("["+label+"]")),
			c.preview(r.Prompt),
		)
		fmt.Fprintf(c.out, "     %s %s\n",
			cliui.Sanitize(c.out, cliui.StepStyle.Render("[assistant]")),
			c.preview(r.Response),
		)
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *historyCommander) preview(s string) string {
	if c.full {
		return s
	}
	return utils.Truncate(utils.OneLine(s), previewWidth)
}
