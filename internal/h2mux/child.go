package h2mux

import "sync/atomic"

// Stream is the user-visible, stream-scoped processing context — the
// "child channel" of spec §2/§4.3. It holds a borrowed handle to its
// streamState slot inside the Multiplexer's map (spec Design Notes §9);
// the Multiplexer exclusively owns that slot and removes it from the map
// before the handler is torn down, breaking the parent/child reference
// cycle.
//
// Grounded on internal/stream/stream.go's Stream type: same idea of a
// small public struct with an internal back-reference to its owning
// manager, generalized to the read/write/flush/close contract of spec §6.
type Stream struct {
	mux   *Multiplexer
	state *streamState

	// writable mirrors streamState.writable for lock-free reads from any
	// goroutine (spec §4.7's writability is polled far more often than it
	// changes); the loop goroutine is the only writer.
	writable atomic.Bool
}

func newStream(mux *Multiplexer, state *streamState) *Stream {
	s := &Stream{mux: mux, state: state}
	s.writable.Store(true)
	state.child = s
	return s
}

// StreamID returns the assigned HTTP/2 stream ID. For a locally-created
// stream that has not yet flushed its first write, it returns
// NoStreamIDAvailableError (spec §4.1, §6).
func (s *Stream) StreamID() (uint32, error) {
	var id uint32
	var err error
	s.mux.doSync(func() {
		if !s.state.assigned {
			err = &NoStreamIDAvailableError{}
			return
		}
		id = s.state.id
	})
	return id, err
}

// Write enqueues payload for outbound delivery. If the stream's ID is not
// yet assigned the write is held until the first flush assigns one (spec
// §4.1, §4.3).
func (s *Stream) Write(f Frame) *Future {
	fut := newFuture()
	result := make(chan error, 1)
	s.mux.doSync(func() {
		s.mux.enqueueWrite(s.state, f, result)
	})
	go func() {
		fut.Complete(<-result)
	}()
	return fut
}

// Flush releases as many queued writes as the flow-control policy allows,
// assigning a stream ID on first release if one is not yet assigned (spec
// §4.1, §4.3, §4.4).
func (s *Stream) Flush() {
	s.mux.doSync(func() {
		s.mux.flushStream(s.state)
	})
}

// Read delivers one deferred inbound frame if any are queued; otherwise it
// marks the stream as wanting a read, so the next frame that arrives for it
// is delivered (spec §4.3). It does not itself request more data from the
// connection layer.
func (s *Stream) Read() {
	s.mux.doSync(func() {
		s.mux.readStream(s.state)
	})
}

// Close initiates shutdown: a RST_STREAM(CANCEL) is emitted at most once
// per stream no matter how many callers call Close, and every caller's
// completion is satisfied only once the subsequent StreamClosed lifecycle
// event arrives (spec §4.6, §8 property 4).
func (s *Stream) Close() *Future {
	fut := newFuture()
	s.mux.doSync(func() {
		s.mux.closeStream(s.state, fut)
	})
	return fut
}

// CloseFuture returns the stream's close future. Unlike per-call Close
// futures, it never fails (spec §4.6).
func (s *Stream) CloseFuture() *Future {
	return s.state.closeFuture
}

// IsWritable reports the current edge-triggered writability (spec §4.7).
func (s *Stream) IsWritable() bool {
	return s.writable.Load()
}

// IsActive reports whether the stream is past setup and not yet closed.
func (s *Stream) IsActive() bool {
	var active bool
	s.mux.doSync(func() { active = s.state.isActive() })
	return active
}

// Autoread reports whether inbound frames are delivered as soon as they
// arrive (true, the default) or only on an explicit Read (spec §4.3).
func (s *Stream) Autoread() bool {
	var v bool
	s.mux.doSync(func() { v = s.state.autoread })
	return v
}

// SetAutoread toggles the autoread delivery policy.
func (s *Stream) SetAutoread(v bool) {
	s.mux.doSync(func() { s.state.autoread = v })
}

// SetHandler installs the pipeline that receives this stream's inbound
// events. Initializers call this before returning (spec §4.5); it may also
// be called later to swap handlers mid-stream.
func (s *Stream) SetHandler(h Handler) {
	s.mux.doSync(func() { s.state.handler = h })
}
