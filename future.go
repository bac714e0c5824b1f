package jig

import "context"

// future is a one-shot completion signal with an error payload.
// resolve must be called exactly once; wait may be called any number of
// times from any goroutine.
type future struct {
	done chan struct{}
	err  error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

// resolvedFuture returns a future that is already settled.
func resolvedFuture(err error) *future {
	f := newFuture()
	f.resolve(err)
	return f
}

func (f *future) resolve(err error) {
	f.err = err
	close(f.done)
}

func (f *future) wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
