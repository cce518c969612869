package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/tether/pkg/eventstream"
	"github.com/papercomputeco/tether/pkg/eventstream/kafka"
	"github.com/papercomputeco/tether/pkg/exchange"
)

type fakeWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

var _ = Describe("Publisher", func() {
	var (
		writer *fakeWriter
		pub    *kafka.Publisher
		event  *eventstream.ExchangeCompletedEvent
	)

	BeforeEach(func() {
		writer = &fakeWriter{}
		var err error
		pub, err = kafka.NewPublisher(kafka.Config{Writer: writer, Topic: "test-topic"})
		Expect(err).NotTo(HaveOccurred())

		event = eventstream.NewExchangeCompletedEvent(exchange.Completed{
			Model:    "test-model",
			PromptID: "m1",
			Result:   exchange.Snapshot{ConversationID: "c1", Response: "hi"},
		}, "svc", time.Unix(1735689600, 0))
	})

	It("requires brokers when no writer is supplied", func() {
		_, err := kafka.NewPublisher(kafka.Config{Brokers: []string{" ", ""}})
		Expect(err).To(HaveOccurred())
	})

	It("builds a writer from brokers", func() {
		p, err := kafka.NewPublisher(kafka.Config{Brokers: []string{"localhost:9092"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Close()).To(Succeed())
	})

	It("writes the event as JSON keyed by conversation id", func() {
		Expect(pub.PublishExchange(context.Background(), event)).To(Succeed())
		Expect(writer.messages).To(HaveLen(1))

		msg := writer.messages[0]
		Expect(string(msg.Key)).To(Equal("c1"))
		Expect(msg.Time).To(Equal(event.EmittedAt))
		Expect(msg.Headers).To(ContainElement(kafkago.Header{Key: "event_type", Value: []byte("tether.exchange.completed")}))

		var decoded eventstream.ExchangeCompletedEvent
		Expect(json.Unmarshal(msg.Value, &decoded)).To(Succeed())
		Expect(decoded.EventID).To(Equal(event.EventID))
		Expect(decoded.Exchange.Response).To(Equal("hi"))
	})

	It("rejects nil events", func() {
		Expect(pub.PublishExchange(context.Background(), nil)).To(MatchError(eventstream.ErrNilEvent))
	})

	It("wraps writer errors with the topic", func() {
		writer.err = errors.New("leader not available")
		err := pub.PublishExchange(context.Background(), event)
		Expect(err).To(MatchError(ContainSubstring("test-topic")))
		Expect(err).To(MatchError(writer.err))
	})

	It("closes the writer", func() {
		Expect(pub.Close()).To(Succeed())
		Expect(writer.closed).To(BeTrue())
	})
})
