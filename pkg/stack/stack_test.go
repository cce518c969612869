package stack_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/tether/pkg/config"
	"github.com/papercomputeco/tether/pkg/credentials"
	"github.com/papercomputeco/tether/pkg/exchange"
	"github.com/papercomputeco/tether/pkg/stack"
	testutils "github.com/papercomputeco/tether/pkg/utils/test"
)

var _ = Describe("Stack", func() {
	var (
		ctx     context.Context
		dir     string
		service *testutils.Service
		cfg     *config.Config
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		service = testutils.NewService()
		DeferCleanup(service.Close)

		creds, err := credentials.NewManager(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(creds.SetArtifacts(credentials.DefaultProfile, testutils.Artifacts())).To(Succeed())

		cfg = config.NewDefaultConfig()
		cfg.Service.BaseURL = service.URL
		cfg.History.Provider = "memory"
	})

	It("sends a message end to end and records it", func() {
		dump := &bytes.Buffer{}
		s, err := stack.New(ctx, stack.Options{Config: cfg, ConfigDir: dir, StreamDump: dump})
		Expect(err).NotTo(HaveOccurred())

		var progress []string
		snap, err := s.Client.Send(ctx, &exchange.Message{
			Text:       "hello there",
			OnProgress: func(sn exchange.Snapshot) { progress = append(progress, sn.Response) },
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Response).To(Equal("echo: hello there"))
		Expect(snap.ConversationID).To(Equal("conv-1"))
		Expect(progress).To(Equal([]string{"echo:", "echo: hello", "echo: hello there"}))
		Expect(dump.String()).To(ContainSubstring("data: [DONE]"))

		history := s.History
		Expect(s.Close()).To(Succeed())

		records, err := history.Recent(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Prompt).To(Equal("hello there"))
		Expect(records[0].Response).To(Equal("echo: hello there"))
	})

	It("publishes completed exchanges to an injected publisher", func() {
		cfg.History.Provider = "none"
		pub := testutils.NewMockPublisher()
		s, err := stack.New(ctx, stack.Options{Config: cfg, ConfigDir: dir, Publisher: pub})
		Expect(err).NotTo(HaveOccurred())

		_, err = s.Client.Send(ctx, &exchange.Message{Text: "publish me"})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Close()).To(Succeed())

		events := pub.Events()
		Expect(events).To(HaveLen(1))
		Expect(events[0].Exchange.Prompt).To(Equal("publish me"))
		Expect(pub.Closed()).To(BeTrue())
	})

	It("sends the configured model", func() {
		cfg.Service.Model = "custom-model"
		s, err := stack.New(ctx, stack.Options{Config: cfg, ConfigDir: dir})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)

		_, err = s.Client.Send(ctx, &exchange.Message{Text: "hi"})
		Expect(err).NotTo(HaveOccurred())
		Expect(service.Requests()).To(HaveLen(1))
		Expect(service.Requests()[0].Model).To(Equal("custom-model"))
	})

	It("reports an expired session when artifacts are rejected", func() {
		creds, err := credentials.NewManager(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(creds.SetArtifacts(credentials.DefaultProfile, credentials.Artifacts{SessionToken: "stale"})).To(Succeed())

		s, err := stack.New(ctx, stack.Options{Config: cfg, ConfigDir: dir})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)

		_, err = s.Client.Send(ctx, &exchange.Message{Text: "hi"})
		Expect(err).To(MatchError(exchange.ErrAuthExpired))
		Expect(service.Requests()).To(BeEmpty())
	})

	It("rejects malformed durations", func() {
		cfg.Client.Timeout = "soon"
		_, err := stack.New(ctx, stack.Options{Config: cfg, ConfigDir: dir})
		Expect(err).To(MatchError(ContainSubstring("client.timeout")))
	})

	Describe("Connect", func() {
		It("wires a local client without a relay", func() {
			sender, closeFn, err := stack.Connect(ctx, stack.Options{Config: cfg, ConfigDir: dir}, "")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(closeFn)

			snap, err := sender.Send(ctx, &exchange.Message{Text: "hi"})
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Response).To(Equal("echo: hi"))
		})

		It("checks that the relay answers", func() {
			relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/ping" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				_, _ = w.Write([]byte(`"pong"`))
			}))
			DeferCleanup(relay.Close)

			sender, closeFn, err := stack.Connect(ctx, stack.Options{Config: cfg}, relay.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(sender).NotTo(BeNil())
			Expect(closeFn()).To(Succeed())
		})

		It("fails when the relay is unreachable", func() {
			_, _, err := stack.Connect(ctx, stack.Options{Config: cfg}, "http://127.0.0.1:1")
			Expect(err).To(MatchError(ContainSubstring("not reachable")))
		})
	})

	Describe("OpenHistory", func() {
		It("returns nil when disabled", func() {
			cfg.History.Provider = "none"
			store, err := stack.OpenHistory(ctx, cfg, dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(store).To(BeNil())
		})

		It("defaults the sqlite path into the tether directory", func() {
			cfg.History.Provider = "sqlite"
			store, err := stack.OpenHistory(ctx, cfg, dir)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(store.Close)

			_, err = os.Stat(filepath.Join(dir, "history.db"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("requires a DSN for postgres", func() {
			cfg.History.Provider = "postgres"
			_, err := stack.OpenHistory(ctx, cfg, dir)
			Expect(err).To(MatchError(ContainSubstring("postgres_dsn")))
		})
	})

	Describe("OpenPublisher", func() {
		It("returns nil when disabled", func() {
			pub, err := stack.OpenPublisher(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(pub).To(BeNil())
		})

		It("requires brokers for kafka", func() {
			cfg.Events.Provider = "kafka"
			_, err := stack.OpenPublisher(cfg)
			Expect(err).To(HaveOccurred())
		})

		It("builds a kafka publisher from brokers", func() {
			cfg.Events.Provider = "kafka"
			cfg.Events.Brokers = "localhost:9092"
			pub, err := stack.OpenPublisher(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(pub.Close()).To(Succeed())
		})
	})
})
