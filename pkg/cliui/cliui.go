// Package cliui provides reusable terminal UI helpers (spinners, step indicators,
// markdown rendering) for tether CLI commands.
package cliui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
)

var (
	SuccessMark     = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
	FailMark        = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	StepStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	KeyStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	ValueStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	DimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	ErrorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	UserPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	AssistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("assistant> ")
	spinnerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// Step prints an animated spinner while fn runs, then replaces it with
// a ✓ or ✗ checkmark and elapsed time. On writers that are not terminals
// only the final line is printed, without styling.
func Step(w io.Writer, msg string, fn func() error) error {
	if IsPlain(w) {
		start := time.Now()
		err := fn()
		mark := "ok"
		if err != nil {
			mark = "failed"
		}
		fmt.Fprintf(w, "  %s %s (%s)\n", msg, mark, FormatDuration(time.Since(start)))
		return err
	}

	done := make(chan struct{})
	var mu sync.Mutex

	go func() {
		frame := 0
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for {
			mu.Lock()
			fmt.Fprintf(w, "\r  %s %s",
				spinnerStyle.Render(spinnerFrames[frame%len(spinnerFrames)]),
				msg,
			)
			mu.Unlock()

			select {
			case <-done:
				return
			case <-ticker.C:
				frame++
			}
		}
	}()

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	close(done)

	mu.Lock()
	fmt.Fprintf(w, "\r  %s %s %s\n",
		Mark(err),
		msg,
		StepStyle.Render(fmt.Sprintf("(%s)", FormatDuration(elapsed))),
	)
	mu.Unlock()

	return err
}

// Mark returns a ✓ for nil errors or ✗ for non-nil errors.
func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// FormatDuration formats a duration for display (e.g. "12ms" or "3.2s").
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// IsPlain reports whether w cannot display ANSI styling: it is not a
// terminal, or NO_COLOR style environment settings disable color.
func IsPlain(w io.Writer) bool {
	return termenv.NewOutput(w).Profile == termenv.Ascii
}

// Sanitize strips ANSI escape sequences from s when w is plain.
func Sanitize(w io.Writer, s string) string {
	if IsPlain(w) {
		return ansi.Strip(s)
	}
	return s
}

// RenderMarkdown renders markdown content for terminal display using glamour.
// Plain writers get glamour's notty style. On failure the raw content is
// returned alongside the error.
func RenderMarkdown(w io.Writer, content string) (string, error) {
	style := glamour.WithAutoStyle()
	if IsPlain(w) {
		style = glamour.WithStandardStyle("notty")
	}

	r, err := glamour.NewTermRenderer(
		style,
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return content, err
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content, err
	}

	return rendered, nil
}
