package irrecoverable

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"go.uber.org/atomic"
)

// Signaler forwards the first irrecoverable error of a component tree to the
// party that started it. Subsequent errors are dropped, since the component is
// already shutting down.
type Signaler struct {
	errChan   chan error
	errThrown *atomic.Bool
}

// NewSignaler returns a signaler and the channel the first thrown error is delivered on.
func NewSignaler() (*Signaler, <-chan error) {
	errChan := make(chan error, 1)
	return &Signaler{
		errChan:   errChan,
		errThrown: atomic.NewBool(false),
	}, errChan
}

// Throw delivers err and terminates the calling goroutine. It is a narrow
// replacement for panic or log.Fatal in worker goroutines.
func (s *Signaler) Throw(err error) {
	if s.errThrown.CompareAndSwap(false, true) {
		s.errChan <- err
		close(s.errChan)
	}
	runtime.Goexit()
}

// SignalerContext is a context.Context that can also throw irrecoverable errors.
type SignalerContext interface {
	context.Context
	Throw(err error)
	sealed()
}

type signalerCtx struct {
	context.Context
	*Signaler
}

func (sc signalerCtx) sealed() {}

// WithSignaler wraps ctx into a SignalerContext and returns the channel on
// which the first thrown error is delivered.
func WithSignaler(parent context.Context) (SignalerContext, <-chan error) {
	sig, errChan := NewSignaler()
	return &signalerCtx{parent, sig}, errChan
}

// Throw throws err on ctx if it is a SignalerContext. Otherwise the process
// terminates, since there is nobody to hand the error to.
func Throw(ctx context.Context, err error) {
	signalerAbleContext, ok := ctx.(SignalerContext)
	if ok {
		signalerAbleContext.Throw(err)
	}
	fmt.Fprintf(os.Stderr, "irrecoverable error signaler not found for context, unhandled irrecoverable error: %v\n", err)
	os.Exit(1)
}

// MockSignalerContext is a SignalerContext for tests that fails the test on Throw.
type MockSignalerContext struct {
	context.Context
	t interface {
		Fatalf(format string, args ...interface{})
	}
}

func (m MockSignalerContext) sealed() {}

func (m MockSignalerContext) Throw(err error) {
	m.t.Fatalf("mock signaler context received error: %v", err)
}

// NewMockSignalerContext returns a SignalerContext that fails t on Throw.
func NewMockSignalerContext(t interface {
	Fatalf(format string, args ...interface{})
}, ctx context.Context) *MockSignalerContext {
	return &MockSignalerContext{Context: ctx, t: t}
}
