package h2mux

import "sync"

// Future is a one-shot completion, the "completion" spec.md's API talks
// about returning from write()/close()/create_stream(). It is safe to Wait
// on from any goroutine; Complete is safe to call more than once, only the
// first call has any effect.
//
// Grounded on the corpus's general preference for channel-based futures
// over promise libraries (e.g. dep2p-go-dep2p's stream/connection mocks
// return plain channels for async results) — no promise/future third-party
// package appears anywhere in the pack, so none is introduced here.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Complete satisfies the future with err (nil for success). Only the first
// call has any effect.
func (f *Future) Complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the future is completed and returns its error.
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// Done returns a channel closed when the future completes, for use in
// select statements.
func (f *Future) Done() <-chan struct{} {
	return f.done
}
