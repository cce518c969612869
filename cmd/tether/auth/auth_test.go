package authcmder_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	authcmder "github.com/papercomputeco/tether/cmd/tether/auth"
	"github.com/papercomputeco/tether/pkg/credentials"
	testutils "github.com/papercomputeco/tether/pkg/utils/test"
)

var _ = Describe("Auth command", func() {
	var tmpDir string

	auth := func(input string, args ...string) (string, error) {
		cmd := authcmder.NewAuthCmd()
		cmd.PersistentFlags().String("config-dir", "", "")
		cmd.PersistentFlags().Bool("debug", false, "")

		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetIn(strings.NewReader(input))
		cmd.SetArgs(append(args, "--config-dir", tmpDir))
		err := cmd.Execute()
		return out.String(), err
	}

	artifacts := func(profile string) credentials.Artifacts {
		mgr, err := credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		a, err := mgr.GetArtifacts(profile)
		Expect(err).NotTo(HaveOccurred())
		return a
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	It("creates a command with expected properties", func() {
		cmd := authcmder.NewAuthCmd()
		Expect(cmd.Use).To(Equal("auth"))
		Expect(cmd.Flags().Lookup("clearance")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("verify")).NotTo(BeNil())
	})

	It("stores a piped session token for the default profile", func() {
		out, err := auth("  token-value  \nignored\n")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Stored " + credentials.SessionCookie + " for profile default"))
		Expect(artifacts(credentials.DefaultProfile).SessionToken).To(Equal("token-value"))
	})

	It("stores artifacts for another profile", func() {
		_, err := auth("work-token\n", "--profile", "work")
		Expect(err).NotTo(HaveOccurred())
		Expect(artifacts("work").SessionToken).To(Equal("work-token"))
		Expect(artifacts(credentials.DefaultProfile).IsZero()).To(BeTrue())
	})

	It("stores the clearance cookie next to the session token", func() {
		_, err := auth("session\n")
		Expect(err).NotTo(HaveOccurred())

		_, err = auth("cleared\n", "--clearance", "--user-agent", "Mozilla/5.0 test")
		Expect(err).NotTo(HaveOccurred())

		a := artifacts(credentials.DefaultProfile)
		Expect(a.SessionToken).To(Equal("session"))
		Expect(a.Clearance).To(Equal("cleared"))
		Expect(a.UserAgent).To(Equal("Mozilla/5.0 test"))
	})

	It("rejects empty input", func() {
		_, err := auth("   \n")
		Expect(err).To(MatchError(ContainSubstring("cannot be empty")))

		_, err = auth("")
		Expect(err).To(MatchError(ContainSubstring("no input received")))
	})

	It("rejects conflicting modes", func() {
		_, err := auth("", "--list", "--remove", "work")
		Expect(err).To(HaveOccurred())
	})

	It("lists stored profiles", func() {
		out, err := auth("", "--list")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("No stored credentials"))

		_, err = auth("token\n", "--profile", "work")
		Expect(err).NotTo(HaveOccurred())

		out, err = auth("", "--list")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("work"))
		Expect(out).To(ContainSubstring("session"))
	})

	It("removes a profile", func() {
		_, err := auth("token\n", "--profile", "work")
		Expect(err).NotTo(HaveOccurred())

		out, err := auth("", "--remove", "work")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Removed profile work"))
		Expect(artifacts("work").IsZero()).To(BeTrue())
	})

	Context("with --verify", func() {
		var service *testutils.Service

		BeforeEach(func() {
			service = testutils.NewService()
			DeferCleanup(service.Close)
			Expect(service.Workspace(tmpDir, nil)).To(Succeed())
		})

		It("succeeds when the service accepts the session", func() {
			out, err := auth(testutils.SessionToken+"\n", "--verify")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Verifying session"))
		})

		It("fails when the service rejects the session", func() {
			_, err := auth("not-the-token\n", "--verify")
			Expect(err).To(HaveOccurred())
			Expect(artifacts(credentials.DefaultProfile).SessionToken).To(Equal("not-the-token"))
		})
	})
})
