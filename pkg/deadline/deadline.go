// Package deadline bounds an operation by a duration and by external
// cancellation, propagating either into the operation's context.
package deadline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Unbounded disables the timer: Run calls the operation directly.
const Unbounded time.Duration = math.MaxInt64

var (
	// ErrTimeout is returned when the duration elapses first.
	ErrTimeout = errors.New("deadline: operation timed out")

	// ErrCanceled is returned when the caller's context is canceled first.
	ErrCanceled = errors.New("deadline: operation canceled")

	// ErrInvalidDuration is returned for non-positive durations. The
	// operation is never started.
	ErrInvalidDuration = errors.New("deadline: duration must be positive")
)

// Operation is a unit of work that can be bounded.
type Operation[T any] interface {
	Do(ctx context.Context) (T, error)
}

// Cancelable is implemented by operations that hold resources outside their
// context, such as an open connection, and release them on Cancel.
type Cancelable interface {
	Cancel()
}

// OperationFunc adapts a function to an Operation.
type OperationFunc[T any] func(ctx context.Context) (T, error)

func (f OperationFunc[T]) Do(ctx context.Context) (T, error) {
	return f(ctx)
}

type options struct {
	onCancel func()
}

// Option configures Run.
type Option func(*options)

// WithCancelHook registers fn to run once when the operation is abandoned
// because of a timeout or cancellation.
func WithCancelHook(fn func()) Option {
	return func(o *options) {
		o.onCancel = fn
	}
}

type result[T any] struct {
	val T
	err error
}

// Run executes op with a context that is canceled after d or when ctx is
// done, whichever comes first. If op finishes in time its result is returned
// unchanged. Otherwise Run returns immediately with an error wrapping
// ErrTimeout or ErrCanceled, the cancel hook runs exactly once, and op's
// eventual result is discarded.
func Run[T any](ctx context.Context, d time.Duration, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var zero T
	if d <= 0 {
		return zero, fmt.Errorf("%w: %s", ErrInvalidDuration, d)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if d == Unbounded {
		return op(ctx)
	}

	if err := ctx.Err(); err != nil {
		return zero, canceled(ctx)
	}

	opCtx, cancel := context.WithTimeoutCause(ctx, d, ErrTimeout)
	defer cancel()

	var once sync.Once
	abandon := func() {
		cancel()
		if o.onCancel != nil {
			once.Do(o.onCancel)
		}
	}

	// Buffered so the operation goroutine never blocks after Run returns.
	done := make(chan result[T], 1)
	go func() {
		val, err := op(opCtx)
		done <- result[T]{val: val, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && opCtx.Err() != nil {
			// op gave up because the deadline or ctx fired first.
			abandon()
			if ctx.Err() != nil {
				return zero, canceled(ctx)
			}
			return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
		}
		return r.val, r.err
	case <-opCtx.Done():
		// Prefer a result that raced the deadline.
		select {
		case r := <-done:
			if r.err == nil {
				return r.val, nil
			}
		default:
		}
		abandon()
		if ctx.Err() != nil {
			return zero, canceled(ctx)
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
	}
}

// RunOperation is Run for an Operation. If op implements Cancelable, its
// Cancel method is registered as the cancel hook.
func RunOperation[T any](ctx context.Context, d time.Duration, op Operation[T], opts ...Option) (T, error) {
	if c, ok := op.(Cancelable); ok {
		opts = append([]Option{WithCancelHook(c.Cancel)}, opts...)
	}
	return Run(ctx, d, op.Do, opts...)
}

func canceled(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCanceled, cause)
	}
	return ErrCanceled
}
