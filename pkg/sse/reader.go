package sse

import (
	"errors"
	"io"
	"time"
)

const readChunkSize = 32 * 1024

// Reader pulls SSE events from a source io.Reader through a Decoder.
// Optionally, all raw bytes are written verbatim to a destination io.Writer
// as they are read (see NewTeeReader).
//
// ┌──────────────────┐
// │ source io.Reader │
// └──────────────────┘
// │
// ▼
// ┌──────────────────┐   ┌────────────────────────────────┐
// │  Reader.Next()   │──▶│ destination io.Writer (if tee) │
// └──────────────────┘   └────────────────────────────────┘
// │
// ▼
// ┌──────────────────┐
// │      Event       │
// └──────────────────┘
type Reader struct {
	src  io.Reader
	dest io.Writer
	dec  *Decoder
	buf  []byte

	queue []Event
	retry time.Duration
	err   error
	eof   bool
}

// NewReader returns a Reader that parses SSE events from src.
func NewReader(src io.Reader) *Reader {
	r := &Reader{
		src: src,
		buf: make([]byte, readChunkSize),
	}
	r.dec = NewDecoder(SinkFuncs{
		Event: func(ev Event) { r.queue = append(r.queue, ev) },
		Retry: func(d time.Duration) { r.retry = d },
	})
	return r
}

// NewTeeReader returns a Reader that parses SSE events from src and writes
// all raw bytes through to dest before they are decoded.
func NewTeeReader(src io.Reader, dest io.Writer) *Reader {
	r := NewReader(src)
	r.dest = dest
	return r
}

// Next returns the next complete SSE event. It blocks until one is available.
// Next returns nil, nil when the source is exhausted; a trailing block that was
// never terminated by a blank line is discarded.
//
// A read error is returned only after every event decoded before it has been
// handed out.
func (r *Reader) Next() (*Event, error) {
	for len(r.queue) == 0 {
		if r.err != nil {
			return nil, r.err
		}
		if r.eof {
			return nil, nil
		}
		r.fill()
	}

	ev := r.queue[0]
	r.queue = r.queue[1:]
	return &ev, nil
}

// Retry returns the most recent reconnect interval announced by the stream,
// or zero if none was received.
func (r *Reader) Retry() time.Duration {
	return r.retry
}

func (r *Reader) fill() {
	n, err := r.src.Read(r.buf)
	if n > 0 {
		chunk := r.buf[:n]
		if r.dest != nil {
			if _, werr := r.dest.Write(chunk); werr != nil {
				r.err = werr
				return
			}
		}
		// Feed cannot fail before Close.
		_ = r.dec.Feed(chunk)
	}

	switch {
	case errors.Is(err, io.EOF):
		r.eof = true
		r.dec.Close()
	case err != nil:
		r.err = err
		r.dec.Close()
	}
}
