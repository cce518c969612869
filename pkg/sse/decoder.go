package sse

import (
	"bytes"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrDecoderClosed is returned by Feed after Close.
var ErrDecoderClosed = errors.New("sse: decoder closed")

var bom = []byte{0xEF, 0xBB, 0xBF}

// scanState names where the scanner is within the current line.
type scanState int

const (
	// awaitingLine: positioned at the first byte of a new line.
	awaitingLine scanState = iota

	// awaitingFieldSeparator: inside the field name, looking for ':' or a terminator.
	awaitingFieldSeparator

	// awaitingValue: past the ':' and looking for the line terminator.
	awaitingValue
)

// Decoder is an incremental SSE parser. It is not safe for concurrent use;
// each stream owns its own Decoder.
type Decoder struct {
	sink Sink

	buf   []byte
	start int // first unconsumed byte (start of the current line)
	scan  int // next byte to examine

	state     scanState
	fieldLen  int // length of the field name once ':' has been seen, -1 otherwise
	discardLF bool

	bomChecked bool
	closed     bool

	pendingID   string
	pendingType string
	pendingData []byte
}

// NewDecoder returns a Decoder that delivers to sink.
func NewDecoder(sink Sink) *Decoder {
	if sink == nil {
		sink = SinkFuncs{}
	}
	return &Decoder{
		sink:     sink,
		fieldLen: -1,
	}
}

// Feed appends chunk to the stream and dispatches every line it completes.
// Bytes after the last line terminator are retained for the next call and
// are never re-scanned.
func (d *Decoder) Feed(chunk []byte) error {
	if d.closed {
		return ErrDecoderClosed
	}

	d.buf = append(d.buf, chunk...)

	if !d.bomChecked {
		pending := d.buf[d.start:]
		if len(pending) < len(bom) && bytes.HasPrefix(bom, pending) {
			// Could still be a split BOM; wait for more bytes.
			return nil
		}
		if bytes.HasPrefix(pending, bom) {
			d.start += len(bom)
			d.scan = d.start
		}
		d.bomChecked = true
	}

	d.process()
	d.compact()
	return nil
}

// FeedString is Feed for text chunks.
func (d *Decoder) FeedString(chunk string) error {
	return d.Feed([]byte(chunk))
}

// Close ends the stream. Any partially accumulated event is discarded:
// only blank-line-terminated blocks are ever emitted.
func (d *Decoder) Close() {
	d.closed = true
	d.buf = nil
	d.start, d.scan = 0, 0
	d.pendingData = nil
	d.pendingID = ""
	d.pendingType = ""
}

func (d *Decoder) process() {
	for d.scan < len(d.buf) {
		c := d.buf[d.scan]

		if d.discardLF {
			d.discardLF = false
			if c == '\n' {
				d.scan++
				d.start = d.scan
				continue
			}
		}

		if c == '\r' || c == '\n' {
			d.dispatchLine(d.buf[d.start:d.scan])
			d.discardLF = c == '\r'
			d.scan++
			d.start = d.scan
			d.state = awaitingLine
			d.fieldLen = -1
			continue
		}

		switch d.state {
		case awaitingLine, awaitingFieldSeparator:
			if c == ':' {
				d.fieldLen = d.scan - d.start
				d.state = awaitingValue
			} else {
				d.state = awaitingFieldSeparator
			}
		case awaitingValue:
			// Only a terminator ends the value; further colons belong to it.
		}
		d.scan++
	}
}

// compact drops consumed bytes so the buffer only holds the unterminated tail.
func (d *Decoder) compact() {
	if d.start == 0 {
		return
	}
	n := copy(d.buf, d.buf[d.start:])
	d.buf = d.buf[:n]
	d.scan -= d.start
	d.start = 0
}

func (d *Decoder) dispatchLine(line []byte) {
	if len(line) == 0 {
		d.dispatchEvent()
		return
	}

	var field, value []byte
	if d.fieldLen >= 0 {
		field = line[:d.fieldLen]
		value = line[d.fieldLen+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
	} else {
		field = line
	}

	switch string(field) {
	case "data":
		d.pendingData = append(d.pendingData, value...)
		d.pendingData = append(d.pendingData, '\n')
	case "event":
		d.pendingType = string(value)
	case "id":
		if bytes.IndexByte(value, 0) < 0 {
			d.pendingID = string(value)
		}
	case "retry":
		if ms, ok := parseRetry(value); ok {
			d.sink.OnRetry(time.Duration(ms) * time.Millisecond)
		}
	default:
		// Comments (empty field name) and unknown fields are ignored.
	}
}

func (d *Decoder) dispatchEvent() {
	if len(d.pendingData) > 0 {
		ev := Event{
			ID:   d.pendingID,
			Type: d.pendingType,
			Data: strings.TrimSuffix(string(d.pendingData), "\n"),
		}
		d.pendingID = ""
		d.pendingType = ""
		d.pendingData = d.pendingData[:0]
		d.sink.OnEvent(ev)
		return
	}

	d.pendingType = ""
}

// maxRetryMs is the largest retry, in milliseconds, a Duration can hold.
const maxRetryMs = math.MaxInt64 / int64(time.Millisecond)

func parseRetry(value []byte) (int64, bool) {
	if len(value) == 0 {
		return 0, false
	}
	for _, c := range value {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	ms, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	// Clamp so the conversion to a Duration cannot overflow.
	return min(ms, maxRetryMs), true
}
