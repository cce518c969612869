package deadline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/tether/pkg/deadline"
)

// blockingOp waits for its context and counts Cancel calls.
type blockingOp struct {
	started  chan struct{}
	cancels  atomic.Int32
	finished chan error
}

func newBlockingOp() *blockingOp {
	return &blockingOp{
		started:  make(chan struct{}),
		finished: make(chan error, 1),
	}
}

func (b *blockingOp) Do(ctx context.Context) (string, error) {
	close(b.started)
	<-ctx.Done()
	b.finished <- ctx.Err()
	return "", ctx.Err()
}

func (b *blockingOp) Cancel() {
	b.cancels.Add(1)
}

var _ = Describe("Run", func() {
	It("returns the operation's result when it finishes first", func() {
		v, err := deadline.Run(context.Background(), time.Second, func(context.Context) (int, error) {
			return 42, nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(42))
	})

	It("passes the operation's own error through", func() {
		boom := errors.New("boom")
		_, err := deadline.Run(context.Background(), time.Second, func(context.Context) (int, error) {
			return 0, boom
		})
		Expect(err).To(MatchError(boom))
	})

	It("times out a slow operation and fires the cancel hook once", func() {
		var hooks atomic.Int32
		opErr := make(chan error, 1)

		start := time.Now()
		_, err := deadline.Run(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
			<-ctx.Done()
			opErr <- ctx.Err()
			return 0, ctx.Err()
		}, deadline.WithCancelHook(func() { hooks.Add(1) }))

		Expect(err).To(MatchError(deadline.ErrTimeout))
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		Expect(hooks.Load()).To(Equal(int32(1)))
		Eventually(opErr).Should(Receive(MatchError(context.DeadlineExceeded)))
		Consistently(hooks.Load, "50ms").Should(Equal(int32(1)))
	})

	It("rejects a zero duration without running the operation", func() {
		var ran atomic.Bool
		_, err := deadline.Run(context.Background(), 0, func(context.Context) (int, error) {
			ran.Store(true)
			return 1, nil
		})
		Expect(err).To(MatchError(deadline.ErrInvalidDuration))
		Expect(ran.Load()).To(BeFalse())
	})

	It("rejects a negative duration", func() {
		_, err := deadline.Run(context.Background(), -time.Second, func(context.Context) (int, error) {
			return 1, nil
		})
		Expect(err).To(MatchError(deadline.ErrInvalidDuration))
	})

	It("passes through without a timer when unbounded", func() {
		v, err := deadline.Run(context.Background(), deadline.Unbounded, func(ctx context.Context) (string, error) {
			_, has := ctx.Deadline()
			Expect(has).To(BeFalse())
			return "ok", nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("ok"))
	})

	It("fails with a cancellation error when the caller cancels", func() {
		ctx, cancel := context.WithCancel(context.Background())
		var hooks atomic.Int32

		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		_, err := deadline.Run(ctx, time.Minute, func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		}, deadline.WithCancelHook(func() { hooks.Add(1) }))

		Expect(err).To(MatchError(deadline.ErrCanceled))
		Expect(err).NotTo(MatchError(deadline.ErrTimeout))
		Expect(hooks.Load()).To(Equal(int32(1)))
	})

	It("carries the cancellation cause", func() {
		cause := errors.New("user hung up")
		ctx, cancel := context.WithCancelCause(context.Background())
		cancel(cause)

		_, err := deadline.Run(ctx, time.Minute, func(context.Context) (int, error) {
			return 1, nil
		})
		Expect(err).To(MatchError(deadline.ErrCanceled))
		Expect(err).To(MatchError(cause))
	})
})

var _ = Describe("RunOperation", func() {
	It("invokes Cancel on a cancelable operation exactly once", func() {
		op := newBlockingOp()

		_, err := deadline.RunOperation[string](context.Background(), 20*time.Millisecond, op)
		Expect(err).To(MatchError(deadline.ErrTimeout))
		Expect(op.started).To(BeClosed())
		Expect(op.cancels.Load()).To(Equal(int32(1)))
		Eventually(op.finished).Should(Receive())
	})

	It("invokes Cancel even when the operation reports the deadline itself", func() {
		// The operation returns ctx.Err() as soon as the deadline fires, so
		// its result and the deadline race; repeat to cover both orders.
		for range 50 {
			op := newBlockingOp()

			_, err := deadline.RunOperation[string](context.Background(), time.Millisecond, op)
			Expect(err).To(MatchError(deadline.ErrTimeout))
			Expect(op.cancels.Load()).To(Equal(int32(1)))
		}
	})

	It("invokes Cancel when the caller cancels and the operation returns first", func() {
		for range 50 {
			op := newBlockingOp()
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				<-op.started
				cancel()
			}()

			_, err := deadline.RunOperation[string](ctx, time.Minute, op)
			Expect(err).To(MatchError(deadline.ErrCanceled))
			Expect(op.cancels.Load()).To(Equal(int32(1)))
		}
	})

	It("runs plain operations", func() {
		op := deadline.OperationFunc[int](func(context.Context) (int, error) { return 7, nil })

		v, err := deadline.RunOperation[int](context.Background(), time.Second, op)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(7))
	})
})
