package mcp_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/tether/api/mcp"
	"github.com/papercomputeco/tether/pkg/exchange"
	"github.com/papercomputeco/tether/pkg/history"
	"github.com/papercomputeco/tether/pkg/history/inmemory"
	"github.com/papercomputeco/tether/pkg/logger"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []exchange.Message
	reply    *exchange.Snapshot
	err      error
}

func (f *fakeSender) Send(_ context.Context, msg *exchange.Message) (*exchange.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, *msg)
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func (f *fakeSender) last() exchange.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[len(f.messages)-1]
}

func connect(ctx context.Context, server *mcp.Server) *sdk.ClientSession {
	st, ct := sdk.NewInMemoryTransports()
	_, err := server.MCP().Connect(ctx, st, nil)
	Expect(err).NotTo(HaveOccurred())

	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(cs.Close)
	return cs
}

func resultText(res *sdk.CallToolResult) string {
	Expect(res.Content).NotTo(BeEmpty())
	text, ok := res.Content[0].(*sdk.TextContent)
	Expect(ok).To(BeTrue())
	return text.Text
}

var _ = Describe("MCP Server", func() {
	var (
		ctx    context.Context
		sender *fakeSender
		store  *inmemory.Store
		server *mcp.Server
	)

	BeforeEach(func() {
		ctx = context.Background()
		sender = &fakeSender{
			reply: &exchange.Snapshot{ConversationID: "conv-1", MessageID: "resp-1", Response: "hello back"},
		}
		store = inmemory.NewStore()

		var err error
		server, err = mcp.NewServer(mcp.Config{
			Sender:         sender,
			History:        store,
			DefaultTimeout: 30 * time.Second,
			Logger:         logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewServer", func() {
		It("returns an error when sender is nil", func() {
			_, err := mcp.NewServer(mcp.Config{History: store})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("sender is required"))
		})

		It("defaults the logger when none is given", func() {
			s, err := mcp.NewServer(mcp.Config{Sender: sender})
			Expect(err).NotTo(HaveOccurred())
			Expect(s).NotTo(BeNil())
		})

		It("returns an HTTP handler", func() {
			Expect(server.Handler()).NotTo(BeNil())
		})
	})

	Describe("tool listing", func() {
		It("offers both tools when history is configured", func() {
			cs := connect(ctx, server)
			res, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
			Expect(err).NotTo(HaveOccurred())

			var names []string
			for _, t := range res.Tools {
				names = append(names, t.Name)
			}
			Expect(names).To(ConsistOf("send_message", "get_conversation"))
		})

		It("omits get_conversation without history", func() {
			s, err := mcp.NewServer(mcp.Config{Sender: sender})
			Expect(err).NotTo(HaveOccurred())

			cs := connect(ctx, s)
			res, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Tools).To(HaveLen(1))
			Expect(res.Tools[0].Name).To(Equal("send_message"))
		})
	})

	Describe("send_message", func() {
		It("returns the resolved reply", func() {
			cs := connect(ctx, server)
			res, err := cs.CallTool(ctx, &sdk.CallToolParams{
				Name: "send_message",
				Arguments: map[string]any{
					"text":              "hello",
					"conversation_id":   "conv-1",
					"parent_message_id": "resp-0",
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeFalse())

			var out mcp.SendMessageOutput
			Expect(json.Unmarshal([]byte(resultText(res)), &out)).To(Succeed())
			Expect(out.ConversationID).To(Equal("conv-1"))
			Expect(out.MessageID).To(Equal("resp-1"))
			Expect(out.Response).To(Equal("hello back"))

			msg := sender.last()
			Expect(msg.Text).To(Equal("hello"))
			Expect(msg.ConversationID).To(Equal("conv-1"))
			Expect(msg.ParentMessageID).To(Equal("resp-0"))
			Expect(msg.Timeout).To(Equal(30 * time.Second))
			Expect(msg.Action).To(BeEmpty())
		})

		It("maps variant and timeout_ms onto the message", func() {
			cs := connect(ctx, server)
			_, err := cs.CallTool(ctx, &sdk.CallToolParams{
				Name: "send_message",
				Arguments: map[string]any{
					"text":       "again",
					"variant":    true,
					"timeout_ms": 1500,
				},
			})
			Expect(err).NotTo(HaveOccurred())

			msg := sender.last()
			Expect(msg.Action).To(Equal(exchange.ActionVariant))
			Expect(msg.Timeout).To(Equal(1500 * time.Millisecond))
		})

		It("rejects an empty text", func() {
			cs := connect(ctx, server)
			res, err := cs.CallTool(ctx, &sdk.CallToolParams{
				Name:      "send_message",
				Arguments: map[string]any{"text": ""},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
			Expect(resultText(res)).To(ContainSubstring("text is required"))
		})

		It("reports the failure kind", func() {
			sender.err = &exchange.Error{Kind: exchange.KindAuthExpired, Message: "log in again"}

			cs := connect(ctx, server)
			res, err := cs.CallTool(ctx, &sdk.CallToolParams{
				Name:      "send_message",
				Arguments: map[string]any{"text": "hello"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
			Expect(resultText(res)).To(ContainSubstring("auth_expired"))
		})
	})

	Describe("get_conversation", func() {
		It("returns recorded turns", func() {
			Expect(store.Put(ctx, &history.Record{
				ID:                "msg-1",
				ConversationID:    "conv-1",
				ResponseMessageID: "resp-1",
				Prompt:            "hi",
				Response:          "hello",
				CreatedAt:         time.Now(),
			})).To(Succeed())

			cs := connect(ctx, server)
			res, err := cs.CallTool(ctx, &sdk.CallToolParams{
				Name:      "get_conversation",
				Arguments: map[string]any{"conversation_id": "conv-1"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeFalse())

			var out mcp.GetConversationOutput
			Expect(json.Unmarshal([]byte(resultText(res)), &out)).To(Succeed())
			Expect(out.Count).To(Equal(1))
			Expect(out.Turns[0].Prompt).To(Equal("hi"))
			Expect(out.Turns[0].MessageID).To(Equal("resp-1"))
		})

		It("reports an unknown conversation", func() {
			cs := connect(ctx, server)
			res, err := cs.CallTool(ctx, &sdk.CallToolParams{
				Name:      "get_conversation",
				Arguments: map[string]any{"conversation_id": "missing"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
			Expect(resultText(res)).To(ContainSubstring("conversation not found"))
		})
	})
})
