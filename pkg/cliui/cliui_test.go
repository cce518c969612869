package cliui_test

import (
	"bytes"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/tether/pkg/cliui"
)

var _ = Describe("cliui", func() {
	DescribeTable("FormatDuration",
		func(d time.Duration, want string) {
			Expect(cliui.FormatDuration(d)).To(Equal(want))
		},
		Entry("sub-second", 12*time.Millisecond, "12ms"),
		Entry("zero", time.Duration(0), "0ms"),
		Entry("seconds", 3200*time.Millisecond, "3.2s"),
	)

	Describe("Step", func() {
		It("prints a single unstyled line on a plain writer", func() {
			buf := &bytes.Buffer{}
			err := cliui.Step(buf, "Authenticating", func() error { return nil })
			Expect(err).NotTo(HaveOccurred())
			Expect(buf.String()).To(MatchRegexp(`^  Authenticating ok \(\d+ms\)\n$`))
		})

		It("returns the error from fn", func() {
			buf := &bytes.Buffer{}
			boom := errors.New("boom")
			Expect(cliui.Step(buf, "Sending", func() error { return boom })).To(MatchError(boom))
			Expect(buf.String()).To(ContainSubstring("Sending failed"))
		})
	})

	Describe("Progress", func() {
		It("writes only the unseen suffix of each update", func() {
			var buf bytes.Buffer
			p := cliui.NewProgress(&buf)

			p.Update("Hel")
			p.Update("Hello")
			p.Update("Hello")
			p.Update("Hello, world")
			Expect(buf.String()).To(Equal("Hello, world"))

			Expect(p.Finish("Hello, world!")).To(BeTrue())
			Expect(buf.String()).To(Equal("Hello, world!\n"))
		})

		It("reports a reply that diverged from what was printed", func() {
			var buf bytes.Buffer
			p := cliui.NewProgress(&buf)

			p.Update("Hello")
			p.Update("Goodbye")
			Expect(buf.String()).To(Equal("Hello"))
			Expect(p.Finish("Goodbye")).To(BeFalse())
		})

		It("prints nothing for an empty reply", func() {
			var buf bytes.Buffer
			Expect(cliui.NewProgress(&buf).Finish("")).To(BeTrue())
			Expect(buf.String()).To(BeEmpty())
		})
	})

	Describe("Sanitize", func() {
		It("strips escape sequences for plain writers", func() {
			buf := &bytes.Buffer{}
			Expect(cliui.IsPlain(buf)).To(BeTrue())
			Expect(cliui.Sanitize(buf, "\x1b[1mbold\x1b[0m text")).To(Equal("bold text"))
		})
	})

	Describe("RenderMarkdown", func() {
		It("renders without escape sequences for plain writers", func() {
			buf := &bytes.Buffer{}
			out, err := cliui.RenderMarkdown(buf, "# Title\n\nSome *text*.")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Title"))
			Expect(out).To(ContainSubstring("text"))
			Expect(out).NotTo(ContainSubstring("\x1b["))
		})
	})

	It("marks success and failure", func() {
		Expect(cliui.Mark(nil)).To(Equal(cliui.SuccessMark))
		Expect(cliui.Mark(errors.New("x"))).To(Equal(cliui.FailMark))
	})
})
