package h2mux

import (
	"bytes"
	"runtime"
	"strconv"
)

// loop.go implements the "single-threaded cooperative, serialized on the
// connection's event loop" concurrency model of spec §5: exactly one
// goroutine ever touches a Multiplexer's streams map, allocator, or any
// streamState. Every other goroutine reaches that state by posting a
// closure and, where a result is needed, waiting for it — the
// "trampolining" spec §9's Design Notes call for explicitly.
//
// Grounded on the teacher's own single-goroutine-per-connection model:
// github.com/panjf2000/gnet/v2 (internal/mux/server.go) guarantees that all
// callbacks for one connection run on one event-loop goroutine without the
// caller doing anything special. This package applies the same idiom one
// level down, internally, since gnet's loop is about socket I/O and the
// multiplexer needs its own serialization point independent of which
// goroutine calls Ingest, CreateStream, or a child channel method.

type task func()

func (m *Multiplexer) runLoop() {
	m.loopGoroutineID.Store(goroutineID())
	for {
		select {
		case fn := <-m.tasks:
			fn()
			m.drainTeardown()
		case <-m.closed:
			m.drainRemaining()
			return
		}
	}
}

// do posts fn to the loop without waiting for it to run. Used for
// fire-and-forget notifications originating off the loop goroutine (e.g. an
// initializer's completion callback).
func (m *Multiplexer) do(fn task) {
	select {
	case m.tasks <- fn:
	case <-m.closed:
	}
}

// doSync posts fn to the loop and blocks the calling goroutine until it has
// run. Every public Multiplexer/Stream method that touches shared state
// goes through this, which is what makes the rest of the package safe to
// write without any additional locking (spec §5: "no internal locking on
// hot paths").
//
// If the caller is already running on the loop goroutine — because a
// Handler callback invoked synchronously during frame delivery is calling
// back into the Stream it was given — fn runs immediately instead of being
// posted, since posting would make the loop wait on itself.
func (m *Multiplexer) doSync(fn task) {
	if goroutineID() == m.loopGoroutineID.Load() {
		fn()
		return
	}
	done := make(chan struct{})
	m.do(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-m.closed:
	}
}

// goroutineID extracts the calling goroutine's runtime ID from its stack
// trace header ("goroutine 123 [running]:"). This is the one place the
// package steps outside plain Go to solve a problem the language has no
// other answer for: telling a synchronous reentrant call (safe to run
// inline) apart from a genuinely concurrent one (which must trampoline).
func goroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}

// drainTeardown runs handler-removal tasks scheduled for "the next
// event-loop iteration" (spec §4.6, Design Notes §9): StreamClosed
// processing appends here instead of tearing the handler down inline, so
// that a handler invoked synchronously during StreamClosed never observes
// its own stream slot mid-removal.
func (m *Multiplexer) drainTeardown() {
	for len(m.teardown) > 0 {
		fn := m.teardown[0]
		m.teardown = m.teardown[1:]
		fn()
	}
}

func (m *Multiplexer) drainRemaining() {
	for {
		select {
		case fn := <-m.tasks:
			fn()
			m.drainTeardown()
		default:
			return
		}
	}
}

func (m *Multiplexer) scheduleTeardown(fn task) {
	m.teardown = append(m.teardown, fn)
}
