package h2mux

// router.go implements the inbound router, spec §4.2: demultiplexing one
// inbound frame onto the stream it addresses, opening new peer-initiated
// streams, and deferring delivery while a stream's setup is pending.
//
// Grounded on internal/stream/stream.go's Processor.ProcessFrame /
// handleHeaders: the "does this stream already exist" branch and the
// switch-on-frame-type dispatch are the same shape, generalized to route
// through streamState's deferred queue and setup-pending phase instead of
// calling a Handler inline.

func (m *Multiplexer) ingest(f Frame) error {
	if f.StreamID == 0 || f.Type == FramePriority {
		m.sink.Passthrough(f)
		return nil
	}

	st, known := m.streams[f.StreamID]
	if !known {
		if f.Type != FrameHeaders || !m.isPeerInitiated(f.StreamID) {
			err := &NoSuchStreamError{StreamID: f.StreamID}
			m.sink.ReportError(err)
			return err
		}
		st = m.openInboundStream(f.StreamID)
	} else if st.phase == PhaseClosed {
		err := &NoSuchStreamError{StreamID: f.StreamID}
		m.sink.ReportError(err)
		return err
	}

	m.markBurstTouched(st)
	st.inboundDeferred = append(st.inboundDeferred, f)

	switch st.phase {
	case PhaseSetupPending:
		// Frames accumulate in inboundDeferred until the initializer
		// completes (spec §4.1 invariant: "no frames delivered while
		// setup-pending").
	case PhaseActive, PhaseHalfClosedLocal:
		if st.autoread {
			m.drainDeferred(st)
		} else if st.readPending {
			st.readPending = false
			m.deliverOne(st)
		}
	}

	return nil
}

// deliverOne delivers the single oldest deferred frame, for the explicit
// Stream.Read pull model used when autoread is disabled (spec §4.3).
func (m *Multiplexer) deliverOne(st *streamState) {
	if len(st.inboundDeferred) == 0 {
		return
	}
	f := st.inboundDeferred[0]
	st.inboundDeferred = st.inboundDeferred[1:]
	if st.phase == PhaseClosed {
		return
	}
	m.applyInboundFrame(st, f)
	if st.handler != nil {
		st.handler.FrameRead(st.child, f)
	}
}

// isPeerInitiated reports whether id has the stream-ID parity the remote
// peer uses to open streams (the opposite parity from our own mode, per
// RFC 7540 §5.1.1, validated by validateStreamID — internal/stream's
// grounding for this rule).
func (m *Multiplexer) isPeerInitiated(id uint32) bool {
	if m.opts.Mode == ModeServer {
		return id%2 == 1
	}
	return id%2 == 0
}

// openInboundStream creates a new peer-opened stream, runs the inbound
// initializer, and enters setup-pending until it completes (spec §4.5).
func (m *Multiplexer) openInboundStream(id uint32) *streamState {
	st := newStreamState(id, true, RoleInbound, m.opts)
	st.phase = PhaseSetupPending
	m.streams[id] = st
	if id > m.lastInboundStreamID {
		m.lastInboundStreamID = id
	}
	newStream(m, st)
	m.metrics.streamsOpened.Inc()
	m.runInitializer(st, m.inboundInit)
	return st
}

// drainDeferred delivers every queued inbound frame to the handler in
// arrival order (spec §4.1 invariant, §4.5 step 3).
func (m *Multiplexer) drainDeferred(st *streamState) {
	if len(st.inboundDeferred) == 0 {
		return
	}
	frames := st.inboundDeferred
	st.inboundDeferred = nil
	for _, f := range frames {
		if st.phase == PhaseClosed {
			return
		}
		m.applyInboundFrame(st, f)
		if st.handler != nil {
			st.handler.FrameRead(st.child, f)
		}
	}
}

// applyInboundFrame updates stream-local bookkeeping (end-stream half-close
// transitions) for a frame about to be delivered. It does not touch
// connection-level concerns (HPACK, SETTINGS) — those remain the
// connection layer's job.
func (m *Multiplexer) applyInboundFrame(st *streamState, f Frame) {
	switch f.Type {
	case FrameHeaders:
		if f.EndStream && st.phase == PhaseActive {
			st.phase = PhaseHalfClosedRemote
		}
	case FrameData:
		if f.EndStream && st.phase == PhaseActive {
			st.phase = PhaseHalfClosedRemote
		}
	case FrameRSTStream:
		// Bookkeeping only; the lifecycle coordinator closes the stream on
		// the StreamClosed event the connection layer synthesizes in
		// response (spec §4.5 step 4, §4.6).
	}
}

func (m *Multiplexer) markBurstTouched(st *streamState) {
	if !m.readBurstActive || st.burstTouched {
		return
	}
	st.burstTouched = true
	m.burstTouched = append(m.burstTouched, st)
}

// endRead implements spec §4.4/§8 property 7: fire ReadComplete once per
// touched child, then issue at most one coalesced flush.
func (m *Multiplexer) endRead() {
	m.readBurstActive = false
	touched := m.burstTouched
	m.burstTouched = nil
	for _, st := range touched {
		st.burstTouched = false
		if st.phase == PhaseClosed {
			continue
		}
		if st.handler != nil {
			st.handler.ReadComplete(st.child)
		}
	}
	m.runFlushQueue()
}
