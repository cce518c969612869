package sse_test

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/tether/pkg/sse"
)

// recorder collects everything a Decoder emits.
type recorder struct {
	events  []sse.Event
	retries []time.Duration
}

func (r *recorder) OnEvent(ev sse.Event)      { r.events = append(r.events, ev) }
func (r *recorder) OnRetry(d time.Duration) { r.retries = append(r.retries, d) }

func decodeChunks(chunks ...string) *recorder {
	rec := &recorder{}
	dec := sse.NewDecoder(rec)
	for _, c := range chunks {
		Expect(dec.FeedString(c)).To(Succeed())
	}
	dec.Close()
	return rec
}

const mixedStream = "\uFEFF: keep-alive\r\n" +
	"id: 7\r\n" +
	"event: snapshot\r\n" +
	"data: {\"message\":{\"content\":{\"parts\":[\"héllo ✓\"]}}}\r\n" +
	"\r\n" +
	"retry: 2500\n" +
	"data: line one\n" +
	"data:line two\n" +
	"\n" +
	"foo: bar\r" +
	"data: cr only\r" +
	"\r" +
	"data: [DONE]\n\n"

var _ = Describe("Decoder", func() {
	It("decodes the documented two-chunk example and clears the id after dispatch", func() {
		rec := decodeChunks("id: 1\ndata: {\"a\":1}\n", "\ndata: done\n\n")

		Expect(rec.events).To(Equal([]sse.Event{
			{ID: "1", Data: "{\"a\":1}"},
			{Data: "done"},
		}))
	})

	It("decodes a mixed stream with BOM, CRLF, CR, comments and retry", func() {
		rec := decodeChunks(mixedStream)

		Expect(rec.events).To(Equal([]sse.Event{
			{ID: "7", Type: "snapshot", Data: "{\"message\":{\"content\":{\"parts\":[\"héllo ✓\"]}}}"},
			{Data: "line one\nline two"},
			{Data: "cr only"},
			{Data: "[DONE]"},
		}))
		Expect(rec.retries).To(Equal([]time.Duration{2500 * time.Millisecond}))
	})

	It("yields identical events for every two-way split of the input", func() {
		whole := decodeChunks(mixedStream)

		for i := 0; i <= len(mixedStream); i++ {
			split := decodeChunks(mixedStream[:i], mixedStream[i:])
			Expect(split.events).To(Equal(whole.events), "split at offset %d", i)
			Expect(split.retries).To(Equal(whole.retries), "split at offset %d", i)
		}
	})

	It("yields identical events when fed one byte at a time", func() {
		whole := decodeChunks(mixedStream)

		chunks := make([]string, 0, len(mixedStream))
		for i := 0; i < len(mixedStream); i++ {
			chunks = append(chunks, mixedStream[i:i+1])
		}

		Expect(decodeChunks(chunks...).events).To(Equal(whole.events))
	})

	It("emits a single event for a data value split across many chunks", func() {
		rec := decodeChunks("da", "ta: hel", "lo wo", "rld", "\n", "\n")

		Expect(rec.events).To(Equal([]sse.Event{{Data: "hello world"}}))
	})

	It("never emits trailing data without a closing blank line", func() {
		rec := decodeChunks("data: complete\n\n", "data: dangling\n")

		Expect(rec.events).To(Equal([]sse.Event{{Data: "complete"}}))
	})

	It("discards a CR-terminated line's LF that arrives in the next chunk", func() {
		rec := decodeChunks("data: a\r", "\n\r", "\n")

		Expect(rec.events).To(Equal([]sse.Event{{Data: "a"}}))
	})

	It("strips the BOM only at the very start of the stream", func() {
		rec := decodeChunks("\xEF", "\xBB\xBFdata: x\n\n", "\uFEFFdata: y\n\n")

		Expect(rec.events).To(HaveLen(1))
		Expect(rec.events[0].Data).To(Equal("x"))
	})

	It("keeps colons inside values", func() {
		rec := decodeChunks("data: a:b:c\n\n")

		Expect(rec.events).To(Equal([]sse.Event{{Data: "a:b:c"}}))
	})

	It("ignores ids containing NUL", func() {
		rec := decodeChunks("id: ok\nid: bad\x00id\ndata: x\n\n")

		Expect(rec.events).To(Equal([]sse.Event{{ID: "ok", Data: "x"}}))
	})

	It("ignores non-numeric retry values", func() {
		rec := decodeChunks("retry: soon\nretry: -5\nretry: 10\n\n")

		Expect(rec.retries).To(Equal([]time.Duration{10 * time.Millisecond}))
		Expect(rec.events).To(BeEmpty())
	})

	It("clamps retry values too large for a duration", func() {
		rec := decodeChunks("retry: 99999999999999\nretry: 99999999999999999999\n\n")

		longest := time.Duration(math.MaxInt64/int64(time.Millisecond)) * time.Millisecond
		Expect(rec.retries).To(Equal([]time.Duration{longest, longest}))
		Expect(longest).To(BeNumerically(">", 0))
	})

	It("keeps the last event id across a blank line without data", func() {
		rec := decodeChunks("id: 7\ndata: a\n\nid: 8\n\ndata: b\n\n")

		Expect(rec.events).To(Equal([]sse.Event{
			{ID: "7", Data: "a"},
			{ID: "8", Data: "b"},
		}))
	})

	It("resets the event name on a blank line even without data", func() {
		rec := decodeChunks("event: ping\n\ndata: x\n\n")

		Expect(rec.events).To(Equal([]sse.Event{{Data: "x"}}))
	})

	It("refuses input after Close", func() {
		dec := sse.NewDecoder(nil)
		dec.Close()

		Expect(dec.FeedString("data: x\n\n")).To(MatchError(sse.ErrDecoderClosed))
	})
})
