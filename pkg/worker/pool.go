// Package worker provides an asynchronous worker pool that persists completed
// exchanges to a history.Store and publishes them to an eventstream.Publisher.
//
// The pool implements exchange.Recorder so the client hands off finished
// exchanges without waiting on storage or the event stream.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/tether/pkg/eventstream"
	"github.com/papercomputeco/tether/pkg/exchange"
	"github.com/papercomputeco/tether/pkg/history"
	"github.com/papercomputeco/tether/pkg/logger"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	defaultJobTimeout        = 10 * time.Second
)

// Config is the configuration options for the worker pool.
type Config struct {
	// Store persists exchange records. Optional.
	Store history.Store

	// Publisher receives an event per exchange. Optional.
	Publisher eventstream.Publisher

	// Service names this process in published events.
	Service string

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// JobTimeout bounds the store and publish calls of a single job.
	JobTimeout time.Duration

	Logger *slog.Logger

	now func() time.Time
}

// Pool processes completed exchanges asynchronously.
type Pool struct {
	config *Config
	queue  chan exchange.Completed
	wg     sync.WaitGroup
	log    *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}
	if c.now == nil {
		c.now = time.Now
	}

	log := c.Logger
	if log == nil {
		log = logger.Nop()
	}

	wp := &Pool{
		config: c,
		queue:  make(chan exchange.Completed, c.QueueSize),
		log:    log,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a completed exchange for processing.
// Returns true if enqueued, false if the queue is full or the pool is closed,
// resulting in the exchange being dropped.
func (p *Pool) Enqueue(c exchange.Completed) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.log.Warn("pool closed, exchange dropped", "conversation_id", c.Result.ConversationID)
		return false
	}

	select {
	case p.queue <- c:
		p.log.Debug("exchange queued",
			"conversation_id", c.Result.ConversationID,
			"model", c.Model,
		)
		return true
	default:
		p.log.Error("exchange not queued, queue full, exchange dropped",
			"conversation_id", c.Result.ConversationID,
			"model", c.Model,
		)
		return false
	}
}

// Record implements exchange.Recorder.
func (p *Pool) Record(c exchange.Completed) {
	p.Enqueue(c)
}

// Close stops accepting exchanges and waits for queued ones to drain.
// It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.log.Debug("worker started", "worker_id", id)

	for c := range p.queue {
		p.process(c)
	}

	p.log.Debug("worker stopped", "worker_id", id)
}

// process stores and publishes one exchange. Failures are logged; one sink
// failing does not skip the other.
func (p *Pool) process(c exchange.Completed) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	if p.config.Store != nil {
		if err := p.config.Store.Put(ctx, history.NewRecord(c)); err != nil {
			p.log.Error("history store failed",
				"conversation_id", c.Result.ConversationID,
				"error", err,
			)
		} else {
			p.log.Debug("exchange stored",
				"id", c.PromptID,
				"conversation_id", c.Result.ConversationID,
			)
		}
	}

	if p.config.Publisher != nil {
		event := eventstream.NewExchangeCompletedEvent(c, p.config.Service, p.config.now())
		if err := p.config.Publisher.PublishExchange(ctx, event); err != nil {
			p.log.Warn("event publish failed",
				"event_id", event.EventID,
				"conversation_id", c.Result.ConversationID,
				"error", err,
			)
		}
	}
}

var _ exchange.Recorder = (*Pool)(nil)
