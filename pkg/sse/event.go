// Package sse provides an incremental SSE (Server-Sent Events) decoder for
// consuming streamed responses from the remote conversation backend.
//
// The Decoder accepts chunks with arbitrary boundaries (mid-line, mid-field,
// mid-rune) and emits an Event only once a complete, blank-line-terminated
// block has been scanned. Reader and TeeReader wrap a Decoder for pull-style
// consumption of an io.Reader.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

import "time"

// Event represents a single parsed SSE event, delimited by a blank line
// in the upstream byte stream.
type Event struct {
	// ID is the event ID from the "id:" field. Empty when the block carried
	// no id. The pending id is cleared after every dispatched event.
	ID string

	// Type is the SSE event type from the "event:" field.
	// An empty string means the default "message" type per the SSE spec.
	Type string

	// Data is the concatenated contents of all "data:" lines for this event,
	// joined with "\n".
	Data string
}

// Sink receives decoded events and reconnect-interval directives.
type Sink interface {
	OnEvent(Event)
	OnRetry(time.Duration)
}

// SinkFuncs adapts plain functions to a Sink. Nil fields are skipped.
type SinkFuncs struct {
	Event func(Event)
	Retry func(time.Duration)
}

func (s SinkFuncs) OnEvent(ev Event) {
	if s.Event != nil {
		s.Event(ev)
	}
}

func (s SinkFuncs) OnRetry(d time.Duration) {
	if s.Retry != nil {
		s.Retry(d)
	}
}
