package h2mux

// factory.go implements the locally-initiated half of stream creation
// (spec §4.1, §4.5, §6) and the explicit pull-read path used when a
// stream's autoread is disabled (spec §4.3).
//
// Grounded on internal/stream/stream.go's Manager.CreateStream, generalized
// to defer ID assignment past creation time (spec §4.1: "the HTTP/2 stream
// ID is not assigned until the stream's first write is flushed") and to run
// user setup through an Initializer instead of handing back a bare struct.

// createOutboundStream builds a locally-initiated stream with no ID yet,
// runs its initializer, and returns the child channel immediately; the
// returned Future completes once the initializer has finished (or failed).
func (m *Multiplexer) createOutboundStream(init Initializer, fut *Future) *Stream {
	st := newStreamState(0, false, RoleOutbound, m.opts)
	st.createFuture = fut
	child := newStream(m, st)
	m.metrics.streamsOpened.Inc()
	m.runInitializer(st, init)
	return child
}

// readStream implements the explicit-pull half of spec §4.3: deliver the
// oldest deferred frame if one is already queued, otherwise remember that
// this stream wants the next arriving frame as soon as it's deferred.
func (m *Multiplexer) readStream(state *streamState) {
	if state.phase == PhaseClosed {
		return
	}
	if len(state.inboundDeferred) > 0 {
		m.deliverOne(state)
		return
	}
	state.readPending = true
}
