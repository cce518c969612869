package exchange

import (
	"errors"

	"github.com/tidwall/gjson"
)

// FragmentKind tags the outcome of ParsePayload.
type FragmentKind int

const (
	// FragmentIgnorable is valid JSON carrying nothing the snapshot uses.
	FragmentIgnorable FragmentKind = iota

	// FragmentUpdate carries at least one of the conversation id, the
	// message id or the reply text.
	FragmentUpdate

	// FragmentInvalid could not be parsed. It is logged and skipped.
	FragmentInvalid
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentIgnorable:
		return "ignorable"
	case FragmentUpdate:
		return "update"
	case FragmentInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

var errInvalidPayload = errors.New("payload is not a JSON object")

// Fragment is one decoded event payload. Nil fields were absent.
type Fragment struct {
	Kind           FragmentKind
	ConversationID *string
	MessageID      *string
	Text           *string
	Err            error
}

// ParsePayload interprets the data of one SSE event. Only non-empty string
// fields count as present.
func ParsePayload(data string) Fragment {
	if !gjson.Valid(data) {
		return Fragment{Kind: FragmentInvalid, Err: errInvalidPayload}
	}
	root := gjson.Parse(data)
	if !root.IsObject() {
		return Fragment{Kind: FragmentInvalid, Err: errInvalidPayload}
	}

	f := Fragment{
		ConversationID: nonEmptyString(root.Get("conversation_id")),
		MessageID:      nonEmptyString(root.Get("message.id")),
		Text:           nonEmptyString(root.Get("message.content.parts.0")),
	}
	if f.ConversationID != nil || f.MessageID != nil || f.Text != nil {
		f.Kind = FragmentUpdate
	}
	return f
}

// Apply folds f into s and reports whether the response text changed.
func (f Fragment) Apply(s *Snapshot) bool {
	if f.ConversationID != nil {
		s.ConversationID = *f.ConversationID
	}
	if f.MessageID != nil {
		s.MessageID = *f.MessageID
	}
	if f.Text != nil {
		s.Response = *f.Text
		return true
	}
	return false
}

func nonEmptyString(r gjson.Result) *string {
	if r.Type != gjson.String || r.Str == "" {
		return nil
	}
	s := r.Str
	return &s
}
