package servecmder_test

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	servecmder "github.com/papercomputeco/tether/cmd/tether/serve"
	"github.com/papercomputeco/tether/pkg/config"
	"github.com/papercomputeco/tether/pkg/relaystate"
	testutils "github.com/papercomputeco/tether/pkg/utils/test"
)

func freeAddr() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	addr := l.Addr().String()
	Expect(l.Close()).To(Succeed())
	return addr
}

var _ = Describe("Serve command", func() {
	var (
		tmpDir string
		listen string
	)

	newCmd := func() *cobra.Command {
		cmd := servecmder.NewServeCmd()
		cmd.PersistentFlags().String("config-dir", "", "")
		cmd.PersistentFlags().Bool("debug", false, "")
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--config-dir", tmpDir, "--listen", listen, "--history", "memory",
			"--log-file", filepath.Join(tmpDir, "relay.log")})
		return cmd
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		listen = freeAddr()

		service := testutils.NewService()
		DeferCleanup(service.Close)
		Expect(service.Workspace(tmpDir, func(cfg *config.Config) {
			cfg.History.Provider = "none"
		})).To(Succeed())
	})

	It("creates a command with expected properties", func() {
		cmd := servecmder.NewServeCmd()
		Expect(cmd.Use).To(Equal("serve"))
		Expect(cmd.Flags().Lookup("listen")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("no-mcp")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("kafka-brokers")).NotTo(BeNil())
	})

	It("records its state while running and clears it on shutdown", func() {
		relays, err := relaystate.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			done <- newCmd().ExecuteContext(ctx)
		}()

		Eventually(func() (*relaystate.State, error) {
			return relays.Running()
		}, 5*time.Second, 50*time.Millisecond).ShouldNot(BeNil())

		state, err := relays.Running()
		Expect(err).NotTo(HaveOccurred())
		Expect(state.URL).To(Equal("http://" + listen))

		Eventually(func() (int, error) {
			resp, err := http.Get(state.URL + "/ping")
			if err != nil {
				return 0, err
			}
			resp.Body.Close()
			return resp.StatusCode, nil
		}, 5*time.Second, 50*time.Millisecond).Should(Equal(http.StatusOK))

		By("refusing a second relay for the same directory")
		Expect(newCmd().Execute()).To(MatchError(relaystate.ErrRunning))

		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))

		state, err = relays.LoadState()
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(BeNil())

		logs, err := os.ReadFile(filepath.Join(tmpDir, "relay.log"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(logs)).To(ContainSubstring(`"msg":"relay ready"`))
	})
})
