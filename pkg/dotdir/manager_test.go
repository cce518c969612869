package dotdir_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/tether/pkg/dotdir"
)

var _ = Describe("dotdir", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "dotdir-test-*")
		Expect(err).NotTo(HaveOccurred())

		// Resolve symlinks so paths match filepath.Abs results
		// (e.g. on macOS /var -> /private/var).
		tmpDir, err = filepath.EvalSymlinks(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		m = dotdir.NewManager()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("Target", func() {
		It("creates the directory if it doesn't exist", func() {
			dir := filepath.Join(tmpDir, "newdir")
			result, err := m.Target(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(dir))

			info, err := os.Stat(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.IsDir()).To(BeTrue())
		})

		It("returns the override dir even when a local .tether dir exists", func() {
			Expect(os.Mkdir(filepath.Join(tmpDir, ".tether"), 0o755)).To(Succeed())

			origDir, err := os.Getwd()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.Chdir(tmpDir)).To(Succeed())
			DeferCleanup(func() { os.Chdir(origDir) })

			overrideDir := filepath.Join(tmpDir, "override")
			result, err := m.Target(overrideDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(overrideDir))
		})

		It("returns the local .tether dir when it exists and no override is provided", func() {
			local := filepath.Join(tmpDir, ".tether")
			Expect(os.Mkdir(local, 0o755)).To(Succeed())

			origDir, err := os.Getwd()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.Chdir(tmpDir)).To(Succeed())
			DeferCleanup(func() { os.Chdir(origDir) })

			result, err := m.Target("")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(local))
		})

		It("falls back to ~/.tether and creates it", func() {
			emptyDir := filepath.Join(tmpDir, "empty")
			Expect(os.Mkdir(emptyDir, 0o755)).To(Succeed())

			origDir, err := os.Getwd()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.Chdir(emptyDir)).To(Succeed())
			DeferCleanup(func() { os.Chdir(origDir) })

			origHome := os.Getenv("HOME")
			Expect(os.Setenv("HOME", tmpDir)).To(Succeed())
			DeferCleanup(func() { os.Setenv("HOME", origHome) })

			result, err := m.Target("")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(filepath.Join(tmpDir, ".tether")))
			Expect(filepath.Join(tmpDir, ".tether")).To(BeADirectory())
		})
	})

	Describe("Cursor", func() {
		It("returns nil when no cursor file exists", func() {
			cursor, err := m.LoadCursor(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(cursor).To(BeNil())
		})

		It("saves and loads a cursor", func() {
			in := &dotdir.Cursor{ConversationID: "conv-1", ParentMessageID: "msg-2"}
			Expect(m.SaveCursor(in, tmpDir)).To(Succeed())

			out, err := m.LoadCursor(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(in))
		})

		It("reads the documented file format", func() {
			data := `{"conversation_id":"c","parent_message_id":"p"}`
			Expect(os.WriteFile(filepath.Join(tmpDir, "cursor.json"), []byte(data), 0o600)).To(Succeed())

			cursor, err := m.LoadCursor(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(cursor.ConversationID).To(Equal("c"))
			Expect(cursor.ParentMessageID).To(Equal("p"))
		})

		It("returns error for invalid JSON", func() {
			Expect(os.WriteFile(filepath.Join(tmpDir, "cursor.json"), []byte("not json"), 0o600)).To(Succeed())

			cursor, err := m.LoadCursor(tmpDir)
			Expect(err).To(HaveOccurred())
			Expect(cursor).To(BeNil())
		})

		It("remembers the prompt behind the latest reply", func() {
			in := &dotdir.Cursor{
				ConversationID:  "conv-1",
				ParentMessageID: "resp-2",
				Prompt:          "hello",
				PromptID:        "msg-2",
				PromptParentID:  "resp-1",
			}
			Expect(m.SaveCursor(in, tmpDir)).To(Succeed())

			out, err := m.LoadCursor(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.CanRegenerate()).To(BeTrue())
			Expect(out.PromptID).To(Equal("msg-2"))
			Expect((&dotdir.Cursor{ConversationID: "c"}).CanRegenerate()).To(BeFalse())
		})

		It("rejects a nil cursor", func() {
			Expect(m.SaveCursor(nil, tmpDir)).NotTo(Succeed())
		})

		It("clears the cursor and tolerates a missing file", func() {
			Expect(m.SaveCursor(&dotdir.Cursor{ConversationID: "c"}, tmpDir)).To(Succeed())
			Expect(m.ClearCursor(tmpDir)).To(Succeed())
			Expect(filepath.Join(tmpDir, "cursor.json")).NotTo(BeAnExistingFile())
			Expect(m.ClearCursor(tmpDir)).To(Succeed())
		})
	})
})
