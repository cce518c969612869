// Package historytest holds the behavior every history.Store must share.
package historytest

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/tether/pkg/history"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// NewRecord returns a record created offset after a fixed base time.
func NewRecord(id, conversationID string, offset time.Duration) *history.Record {
	return &history.Record{
		ID:                id,
		ConversationID:    conversationID,
		ParentMessageID:   "parent-" + id,
		ResponseMessageID: "reply-" + id,
		Action:            "next",
		Model:             "test-model",
		Prompt:            "prompt " + id,
		Response:          "response " + id,
		CreatedAt:         base.Add(offset),
		Duration:          1500 * time.Millisecond,
	}
}

// DescribeStore registers the shared store specs. newStore is called before
// each spec and must return an empty store.
func DescribeStore(newStore func() history.Store) {
	Describe("history.Store behavior", func() {
		var (
			store history.Store
			ctx   context.Context
		)

		BeforeEach(func() {
			ctx = context.Background()
			store = newStore()
		})

		AfterEach(func() {
			if store != nil {
				Expect(store.Close()).To(Succeed())
			}
		})

		Describe("Put", func() {
			It("rejects nil records", func() {
				Expect(store.Put(ctx, nil)).NotTo(Succeed())
			})

			It("round-trips every field", func() {
				in := NewRecord("m1", "c1", 0)
				Expect(store.Put(ctx, in)).To(Succeed())

				out, err := store.Conversation(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(out).To(HaveLen(1))
				Expect(out[0]).To(Equal(in))
			})

			It("replaces a record with the same id", func() {
				Expect(store.Put(ctx, NewRecord("m1", "c1", 0))).To(Succeed())

				regenerated := NewRecord("m1", "c1", time.Minute)
				regenerated.Action = "variant"
				regenerated.Response = "second try"
				Expect(store.Put(ctx, regenerated)).To(Succeed())

				out, err := store.Conversation(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(out).To(HaveLen(1))
				Expect(out[0].Response).To(Equal("second try"))
				Expect(out[0].Action).To(Equal("variant"))
			})
		})

		Describe("Conversation", func() {
			It("returns one conversation's records oldest first", func() {
				Expect(store.Put(ctx, NewRecord("m3", "c1", 3*time.Second))).To(Succeed())
				Expect(store.Put(ctx, NewRecord("m1", "c1", 1*time.Second))).To(Succeed())
				Expect(store.Put(ctx, NewRecord("x1", "c2", 2*time.Second))).To(Succeed())
				Expect(store.Put(ctx, NewRecord("m2", "c1", 2*time.Second))).To(Succeed())

				out, err := store.Conversation(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(out)).To(Equal([]string{"m1", "m2", "m3"}))
			})

			It("returns NotFoundError for an unknown conversation", func() {
				_, err := store.Conversation(ctx, "missing")

				var nf history.NotFoundError
				Expect(errors.As(err, &nf)).To(BeTrue())
				Expect(nf.ConversationID).To(Equal("missing"))
			})
		})

		Describe("Recent", func() {
			BeforeEach(func() {
				Expect(store.Put(ctx, NewRecord("m1", "c1", 1*time.Second))).To(Succeed())
				Expect(store.Put(ctx, NewRecord("m2", "c2", 2*time.Second))).To(Succeed())
				Expect(store.Put(ctx, NewRecord("m3", "c1", 3*time.Second))).To(Succeed())
			})

			It("returns records newest first", func() {
				out, err := store.Recent(ctx, 10)
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(out)).To(Equal([]string{"m3", "m2", "m1"}))
			})

			It("honors the limit", func() {
				out, err := store.Recent(ctx, 2)
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(out)).To(Equal([]string{"m3", "m2"}))
			})

			It("returns everything for a non-positive limit", func() {
				out, err := store.Recent(ctx, 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(out).To(HaveLen(3))
			})
		})
	})
}

func ids(records []*history.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
