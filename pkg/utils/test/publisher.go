package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/tether/pkg/eventstream"
)

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	events []*eventstream.ExchangeCompletedEvent
	closed bool

	// Err is returned from PublishExchange when set.
	Err error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishExchange(_ context.Context, e *eventstream.ExchangeCompletedEvent) error {
	if e == nil {
		return eventstream.ErrNilEvent
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.Err
}

// Events returns a copy of the published events.
func (m *MockPublisher) Events() []*eventstream.ExchangeCompletedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*eventstream.ExchangeCompletedEvent(nil), m.events...)
}

func (m *MockPublisher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ eventstream.Publisher = (*MockPublisher)(nil)
