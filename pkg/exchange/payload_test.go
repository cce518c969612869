package exchange_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/tether/pkg/exchange"
)

var _ = Describe("ParsePayload", func() {
	It("extracts ids and the first content part", func() {
		f := exchange.ParsePayload(`{"message":{"id":"m1","content":{"parts":["Hello","ignored"]}},"conversation_id":"c1"}`)
		Expect(f.Kind).To(Equal(exchange.FragmentUpdate))
		Expect(*f.ConversationID).To(Equal("c1"))
		Expect(*f.MessageID).To(Equal("m1"))
		Expect(*f.Text).To(Equal("Hello"))
	})

	It("leaves absent fields nil", func() {
		f := exchange.ParsePayload(`{"conversation_id":"c1"}`)
		Expect(f.Kind).To(Equal(exchange.FragmentUpdate))
		Expect(f.MessageID).To(BeNil())
		Expect(f.Text).To(BeNil())
	})

	It("treats an empty first part as absent", func() {
		f := exchange.ParsePayload(`{"message":{"content":{"parts":[""]}}}`)
		Expect(f.Kind).To(Equal(exchange.FragmentIgnorable))
		Expect(f.Text).To(BeNil())
	})

	It("ignores objects without any known field", func() {
		f := exchange.ParsePayload(`{"type":"moderation","flagged":false}`)
		Expect(f.Kind).To(Equal(exchange.FragmentIgnorable))
	})

	It("ignores non-string values in known fields", func() {
		f := exchange.ParsePayload(`{"conversation_id":42,"message":{"content":{"parts":[{"x":1}]}}}`)
		Expect(f.Kind).To(Equal(exchange.FragmentIgnorable))
	})

	DescribeTable("rejects undecodable payloads",
		func(data string) {
			f := exchange.ParsePayload(data)
			Expect(f.Kind).To(Equal(exchange.FragmentInvalid))
			Expect(f.Err).To(HaveOccurred())
		},
		Entry("truncated JSON", `{"message":`),
		Entry("plain text", `done`),
		Entry("JSON array", `[1,2]`),
		Entry("empty", ``),
	)

	Describe("Apply", func() {
		It("keeps known ids when the fragment omits them", func() {
			s := exchange.Snapshot{ConversationID: "c1", MessageID: "m1", Response: "old"}
			changed := exchange.ParsePayload(`{"message":{"content":{"parts":["new"]}}}`).Apply(&s)

			Expect(changed).To(BeTrue())
			Expect(s).To(Equal(exchange.Snapshot{ConversationID: "c1", MessageID: "m1", Response: "new"}))
		})

		It("reports no text change for id-only fragments", func() {
			s := exchange.Snapshot{Response: "kept"}
			changed := exchange.ParsePayload(`{"conversation_id":"c2"}`).Apply(&s)

			Expect(changed).To(BeFalse())
			Expect(s.ConversationID).To(Equal("c2"))
			Expect(s.Response).To(Equal("kept"))
		})
	})
})
