package h2mux

// collector.go implements the outbound side (spec §4.4): queuing writes,
// lazily assigning a stream ID on first flush, coalescing flushes that
// happen mid read-burst into a single pass at EndRead, and applying peer
// flow control before releasing a DATA frame to the connection.
//
// Grounded on internal/stream/stream.go's Manager.ConsumeSendWindow /
// GetSendWindowsAndMaxFrame: the "don't release more than the peer's
// window allows" check is the same rule, generalized from a per-request
// method on Manager into per-stream state the loop goroutine owns
// directly.

// enqueueWrite queues f for outbound delivery and updates buffered-byte
// accounting used by writability (spec §4.4, §4.7).
func (m *Multiplexer) enqueueWrite(state *streamState, f Frame, result chan error) {
	if state.phase == PhaseClosed {
		result <- &IOOnClosedChannelError{StreamID: state.id}
		return
	}
	state.outboundPending = append(state.outboundPending, pendingWrite{frame: f, result: result})
	state.flowTokens += f.DataLen()
	m.updateWritability(state)
}

// flushStream releases as many queued writes as flow control allows. During
// an active read burst it defers the actual release to a single coalesced
// pass at EndRead (spec §4.4, §8 property 7), except for the very first
// flush of a stream, which must still assign a stream ID synchronously so
// callers observing Stream.StreamID immediately after Flush see it.
func (m *Multiplexer) flushStream(state *streamState) {
	if state.phase == PhaseClosed {
		return
	}
	if !state.assigned {
		m.assignStreamID(state)
	}
	if m.readBurstActive {
		if !state.queuedFlush {
			state.queuedFlush = true
			m.flushQueue = append(m.flushQueue, state)
		}
		return
	}
	m.releaseWrites(state)
}

func (m *Multiplexer) assignStreamID(state *streamState) {
	state.id = m.allocator.assign()
	state.assigned = true
	m.streams[state.id] = state
	m.updateWritability(state)
}

// releaseWrites drains state.outboundPending onto the connection, stopping
// at the first DATA frame the peer's advertised window can't yet absorb.
func (m *Multiplexer) releaseWrites(state *streamState) {
	for len(state.outboundPending) > 0 {
		pw := state.outboundPending[0]
		n := pw.frame.DataLen()
		if pw.frame.Type == FrameData && uint32(n) > state.remoteWindow {
			break
		}

		state.outboundPending = state.outboundPending[1:]
		err := m.writer.WriteFrame(pw.frame)
		if n > 0 {
			state.remoteWindow -= uint32(n)
			state.flowTokens -= n
		}
		if pw.result != nil {
			pw.result <- err
		}
		if err != nil {
			m.finishClose(state, err)
			return
		}
		if pw.frame.EndStream {
			switch state.phase {
			case PhaseActive:
				state.phase = PhaseHalfClosedLocal
			case PhaseHalfClosedRemote:
				state.phase = PhaseClosing
			}
		}
	}
	m.updateWritability(state)
}

// runFlushQueue performs the single coalesced release pass EndRead promises
// for every stream that called Flush during the burst.
func (m *Multiplexer) runFlushQueue() {
	queue := m.flushQueue
	m.flushQueue = nil
	for _, state := range queue {
		state.queuedFlush = false
		if state.phase == PhaseClosed {
			continue
		}
		m.releaseWrites(state)
	}
}
