package h2mux

// lifecycle.go implements the three connection-driven lifecycle events of
// spec §4.6 (StreamCreated, StreamClosed, WindowUpdated), the writability
// propagation of §4.7, and the stream initializer sequencing of §4.5 that
// both the inbound router and the outbound factory depend on.
//
// Grounded on internal/stream/stream.go's Manager (CreateStream,
// DeleteStream, UpdateConnectionWindow) and Processor.handleRSTStream /
// sendRSTStreamAndMarkClosed: this file generalizes the same "mark closed,
// stop delivering, tear the bookkeeping down" sequence to run through
// close-promise futures instead of an inline handler call.

// streamCreated confirms a stream is fully open at the HTTP/2 level and
// installs its negotiated window sizes.
func (m *Multiplexer) streamCreated(id, localInitialWindow, remoteInitialWindow uint32) {
	st, ok := m.streams[id]
	if !ok {
		return
	}
	st.inboundWindow = localInitialWindow
	st.remoteWindow = remoteInitialWindow
	if st.phase == PhaseSetupPending || st.phase == PhaseIdle {
		st.phase = PhaseActive
	}
	m.metricsStreamActive()
	m.updateWritability(st)
	m.flushStream(st)
	if len(st.inboundDeferred) > 0 && st.autoread {
		m.drainDeferred(st)
	}
}

// streamClosed tears a stream down: it fails every unflushed write and
// every pending close() call, fires ErrorCaught for a non-nil reason, and
// schedules handler removal for the next loop iteration so a Closed
// callback invoked synchronously never observes its own slot mid-removal.
func (m *Multiplexer) streamClosed(id uint32, reason error) {
	st, ok := m.streams[id]
	if !ok || st.phase == PhaseClosed {
		return
	}
	m.finishClose(st, reason)
}

func (m *Multiplexer) finishClose(st *streamState, reason error) {
	st.phase = PhaseClosed
	st.closeReason = reason
	st.writable = false
	if st.child != nil {
		st.child.writable.Store(false)
	}

	discardErr := reason
	if discardErr == nil {
		discardErr = errEOF
	}
	for _, pw := range st.outboundPending {
		if pw.result != nil {
			pw.result <- discardErr
		}
	}
	st.outboundPending = nil

	for _, w := range st.closePromises {
		w.fut.Complete(reason)
	}
	st.closePromises = nil
	st.closeFuture.Complete(reason)

	if reason != nil && st.handler != nil {
		st.handler.ErrorCaught(st.child, reason)
	}

	id := st.id
	handler := st.handler
	child := st.child
	m.scheduleTeardown(func() {
		delete(m.streams, id)
		if handler != nil {
			handler.Closed(child)
		}
	})
	m.metricsStreamClosed()
}

// windowUpdated applies a peer-driven or locally-driven window change. A nil
// pointer means that half of the window is unchanged; both nil is a
// deliberate no-op preserved from the source behavior (spec §9 Open
// Questions).
func (m *Multiplexer) windowUpdated(id uint32, inboundWindowSize, outboundWindowSize *uint32) {
	if inboundWindowSize == nil && outboundWindowSize == nil {
		return
	}
	st, ok := m.streams[id]
	if !ok {
		return
	}
	if inboundWindowSize != nil {
		st.inboundWindow = *inboundWindowSize
		m.maybeReplenishInboundWindow(st)
	}
	if outboundWindowSize != nil {
		st.remoteWindow = *outboundWindowSize
		m.flushStream(st)
	}
}

// maybeReplenishInboundWindow implements spec §8 property 6: a
// WINDOW_UPDATE is emitted for a stream iff its inbound window has dropped
// to at most half its target while the stream isn't closed. The increment
// replenishes the window back up to target.
func (m *Multiplexer) maybeReplenishInboundWindow(st *streamState) {
	if st.phase == PhaseClosed {
		return
	}
	if st.inboundWindow > st.targetWindowSize/2 {
		return
	}
	increment := st.targetWindowSize - st.inboundWindow
	if increment == 0 {
		return
	}
	if err := m.writer.WriteFrame(Frame{Type: FrameWindowUpdate, StreamID: st.id, Increment: increment}); err != nil {
		m.finishClose(st, err)
		return
	}
	st.inboundWindow = st.targetWindowSize
}

// updateWritability recomputes a stream's writability and, if it changed,
// publishes it to the child's lock-free flag (spec §4.7).
func (m *Multiplexer) updateWritability(st *streamState) {
	if st.phase == PhaseClosed {
		return
	}
	if st.recomputeWritability(m.opts, m.parentWritable) && st.child != nil {
		st.child.writable.Store(st.writable)
		m.metricsWritabilityFlip()
	}
}

// runInitializer runs init for a newly-created stream, off the loop
// goroutine (spec §5's suspension points), and resumes processing on the
// loop once it completes.
func (m *Multiplexer) runInitializer(st *streamState, init Initializer) {
	if init == nil {
		m.completeInitializer(st, nil)
		return
	}
	child := st.child
	run := func() {
		err := init(child)
		m.do(func() {
			m.completeInitializer(st, err)
		})
	}
	if m.opts.InitializerPool != nil {
		if err := m.opts.InitializerPool.Submit(run); err == nil {
			return
		}
	}
	go run()
}

// completeInitializer resumes a stream once its initializer has returned. A
// failing initializer cancels the stream instead of activating it.
func (m *Multiplexer) completeInitializer(st *streamState, err error) {
	if st.phase == PhaseClosed {
		return
	}
	if err != nil {
		st.closeReason = err
		if st.createFuture != nil {
			st.createFuture.Complete(err)
			st.createFuture = nil
		}
		m.closeStream(st, newFuture())
		return
	}
	if st.phase == PhaseSetupPending || st.phase == PhaseIdle {
		st.phase = PhaseActive
	}
	if st.createFuture != nil {
		st.createFuture.Complete(nil)
		st.createFuture = nil
	}
	m.updateWritability(st)
	if len(st.inboundDeferred) > 0 && st.autoread {
		m.drainDeferred(st)
	}
}

// closeStream implements Stream.Close and Shutdown's per-stream fan-out
// (spec §4.6, §8 property 4: at most one RST_STREAM no matter how many
// callers ask). For a stream that never reached the wire (no ID assigned
// yet), there is nothing for the connection layer to acknowledge, so it
// closes immediately instead of waiting for a StreamClosed event that will
// never arrive. A stream with an ID sends RST_STREAM and waits for that
// event, whether or not StreamCreated has been seen for it.
func (m *Multiplexer) closeStream(st *streamState, fut *Future) {
	if st.phase == PhaseClosed {
		fut.Complete(st.closeReason)
		return
	}

	st.closePromises = append(st.closePromises, closeWaiter{fut: fut})

	if !st.assigned {
		m.finishClose(st, nil)
		return
	}

	if st.rstSent || st.phase == PhaseClosing {
		return
	}
	st.rstSent = true
	st.phase = PhaseClosing
	if err := m.writer.WriteFrame(Frame{Type: FrameRSTStream, StreamID: st.id, ErrorCode: ErrCodeCancel}); err != nil {
		m.finishClose(st, err)
		return
	}
	m.metricsRSTSent()
	for _, pw := range st.outboundPending {
		if pw.result != nil {
			pw.result <- &StreamClosedError{StreamID: st.id, Code: ErrCodeCancel}
		}
	}
	st.outboundPending = nil
}
