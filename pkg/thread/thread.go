// Package thread follows one remote conversation: each reply becomes the
// parent of the next message, and the latest reply can be regenerated.
package thread

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/tether/pkg/dotdir"
	"github.com/papercomputeco/tether/pkg/exchange"
)

// ErrNothingToRegenerate is returned by Regenerate before any reply has
// been received in the thread.
var ErrNothingToRegenerate = errors.New("no previous message to regenerate")

// Sender sends one message and blocks until the reply resolves.
type Sender interface {
	Send(ctx context.Context, msg *exchange.Message) (*exchange.Snapshot, error)
}

// Thread is not safe for concurrent use.
type Thread struct {
	sender  Sender
	cursor  dotdir.Cursor
	timeout time.Duration
}

// New starts a thread at cursor. A nil cursor starts a new conversation.
func New(sender Sender, cursor *dotdir.Cursor, timeout time.Duration) *Thread {
	t := &Thread{sender: sender, timeout: timeout}
	if cursor != nil {
		t.cursor = *cursor
	}
	return t
}

// Say sends text as the child of the latest reply. The cursor only moves
// when the reply resolves.
func (t *Thread) Say(ctx context.Context, text string, onProgress exchange.ProgressFunc) (*exchange.Snapshot, error) {
	parentID := t.cursor.ParentMessageID
	if parentID == "" {
		parentID = uuid.NewString()
	}

	msg := &exchange.Message{
		Text:            text,
		ConversationID:  t.cursor.ConversationID,
		ParentMessageID: parentID,
		MessageID:       uuid.NewString(),
		Action:          exchange.ActionNext,
		Timeout:         t.timeout,
		OnProgress:      onProgress,
	}

	snap, err := t.sender.Send(ctx, msg)
	if err != nil {
		return nil, err
	}

	t.cursor = dotdir.Cursor{
		ConversationID:  snap.ConversationID,
		ParentMessageID: snap.MessageID,
		Prompt:          text,
		PromptID:        msg.MessageID,
		PromptParentID:  parentID,
	}
	return snap, nil
}

// Regenerate asks for a new reply to the latest prompt. The new reply
// replaces the old one as the parent of the next message.
func (t *Thread) Regenerate(ctx context.Context, onProgress exchange.ProgressFunc) (*exchange.Snapshot, error) {
	if !t.cursor.CanRegenerate() {
		return nil, ErrNothingToRegenerate
	}

	snap, err := t.sender.Send(ctx, &exchange.Message{
		Text:            t.cursor.Prompt,
		ConversationID:  t.cursor.ConversationID,
		ParentMessageID: t.cursor.PromptParentID,
		MessageID:       t.cursor.PromptID,
		Action:          exchange.ActionVariant,
		Timeout:         t.timeout,
		OnProgress:      onProgress,
	})
	if err != nil {
		return nil, err
	}

	t.cursor.ConversationID = snap.ConversationID
	t.cursor.ParentMessageID = snap.MessageID
	return snap, nil
}

// Cursor returns the current position.
func (t *Thread) Cursor() *dotdir.Cursor {
	c := t.cursor
	return &c
}

// Started reports whether the thread is inside a conversation.
func (t *Thread) Started() bool {
	return t.cursor.ConversationID != ""
}

// Reset forgets the conversation; the next Say starts a new one.
func (t *Thread) Reset() {
	t.cursor = dotdir.Cursor{}
}
