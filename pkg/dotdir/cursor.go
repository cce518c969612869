package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	cursorFile = "cursor.json"
)

// Cursor is the position in a remote conversation that the next message
// continues from.
type Cursor struct {
	// ConversationID is the remote conversation the cursor points into.
	ConversationID string `json:"conversation_id"`

	// ParentMessageID is the id of the last assistant message; the next
	// user message is sent as its child.
	ParentMessageID string `json:"parent_message_id"`

	// Prompt, PromptID and PromptParentID describe the user message that
	// produced ParentMessageID, so its reply can be regenerated.
	Prompt         string `json:"prompt,omitempty"`
	PromptID       string `json:"prompt_id,omitempty"`
	PromptParentID string `json:"prompt_parent_id,omitempty"`
}

// CanRegenerate reports whether the cursor remembers the prompt behind its
// latest reply.
func (c *Cursor) CanRegenerate() bool {
	return c != nil && c.PromptID != "" && c.PromptParentID != ""
}

// LoadCursor loads the cursor from a target .tether/cursor.json.
// Returns nil, nil if no cursor exists (the next message starts a new
// conversation).
func (m *Manager) LoadCursor(overrideDir string) (*Cursor, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, cursorFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cursor: %w", err)
	}

	cursor := &Cursor{}
	if err := json.Unmarshal(data, cursor); err != nil {
		return nil, fmt.Errorf("parsing cursor: %w", err)
	}

	return cursor, nil
}

// SaveCursor persists the cursor to a target .tether/cursor.json.
func (m *Manager) SaveCursor(cursor *Cursor, overrideDir string) error {
	if cursor == nil {
		return errors.New("cannot save nil cursor")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cursor, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cursor: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, cursorFile), data, 0o600); err != nil {
		return fmt.Errorf("writing cursor: %w", err)
	}

	return nil
}

// ClearCursor removes the cursor file so the next message starts a new
// conversation. Returns nil if the file doesn't exist.
func (m *Manager) ClearCursor(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, cursorFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing cursor: %w", err)
	}

	return nil
}
