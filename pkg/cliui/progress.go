package cliui

import (
	"io"
	"strings"
	"sync"
)

// Progress prints a reply as it grows. Each update carries the full text so
// far; only the part not yet printed is written. An update that rewrites
// already printed text is skipped, since a plain writer cannot take it back.
type Progress struct {
	mu      sync.Mutex
	w       io.Writer
	printed string
}

func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

// Update writes the unseen suffix of text.
func (p *Progress) Update(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !strings.HasPrefix(text, p.printed) || len(text) == len(p.printed) {
		return
	}
	if _, err := io.WriteString(p.w, text[len(p.printed):]); err != nil {
		return
	}
	p.printed = text
}

// Finish writes whatever of final is still missing and ends the line. It
// reports false when the printed text diverged from final, so the caller
// can print final in full.
func (p *Progress) Finish(final string) bool {
	p.Update(final)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.printed != "" {
		_, _ = io.WriteString(p.w, "\n")
	}
	return p.printed == final
}
