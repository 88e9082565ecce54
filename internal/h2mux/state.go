package h2mux

// Phase is the per-stream lifecycle phase (spec §3).
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSetupPending
	PhaseActive
	PhaseHalfClosedLocal
	PhaseHalfClosedRemote
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSetupPending:
		return "setup-pending"
	case PhaseActive:
		return "active"
	case PhaseHalfClosedLocal:
		return "half-closed-local"
	case PhaseHalfClosedRemote:
		return "half-closed-remote"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role distinguishes who opened a stream (spec §3).
type Role int

const (
	RoleInbound Role = iota
	RoleOutbound
)

// pendingWrite is a queued outbound frame awaiting flush or (for
// locally-created streams) stream-ID assignment (spec §3 outbound_pending).
type pendingWrite struct {
	frame  Frame
	result chan error
}

// closeWaiter is one caller's close() completion (spec §3 close_promises).
type closeWaiter struct {
	fut *Future
}

// streamState is the full per-stream record the multiplexer owns. It is
// touched only from the multiplexer's single loop goroutine; the child
// channel (Stream) reaches it exclusively through that loop (loop.go).
//
// Grounded on internal/stream/stream.go's Stream struct (ID, State,
// WindowSize, mu-guarded fields), generalized from a single mutex-guarded
// struct touched from arbitrary goroutines into a record whose invariants
// are instead guaranteed by single-goroutine ownership, per spec §5.
type streamState struct {
	id       uint32
	assigned bool
	role     Role
	phase    Phase

	inboundDeferred []Frame
	outboundPending []pendingWrite

	flowTokens    int
	writable      bool
	parentBlocked bool

	autoread    bool
	readPending bool

	inboundWindow    uint32
	targetWindowSize uint32
	remoteWindow     uint32

	closePromises []closeWaiter
	closeFuture   *Future
	createFuture  *Future

	rstSent       bool
	closeReason   error
	handler       Handler
	burstTouched  bool
	queuedFlush   bool

	child *Stream
}

func newStreamState(id uint32, assigned bool, role Role, opts Options) *streamState {
	return &streamState{
		id:               id,
		assigned:         assigned,
		role:             role,
		phase:            PhaseIdle,
		autoread:         true,
		writable:         true,
		targetWindowSize: opts.TargetWindowSize,
		inboundWindow:    opts.TargetWindowSize,
		remoteWindow:     opts.TargetWindowSize,
		closeFuture:      newFuture(),
	}
}

// isActive reports whether the stream is in a phase that counts toward
// "active" for the purposes of writability propagation and metrics.
func (s *streamState) isActive() bool {
	switch s.phase {
	case PhaseActive, PhaseHalfClosedLocal, PhaseHalfClosedRemote:
		return true
	default:
		return false
	}
}

// recomputeWritability applies the edge-triggered watermark rule of spec
// §4.7: crossing high upward flips to false; crossing low-or-below after a
// flush flips back to true. parentWritable AND-gates the result, except
// for pre-activation (unassigned ID) streams, which are always writable
// regardless of parent state (spec §4.7).
func (s *streamState) recomputeWritability(opts Options, parentWritable bool) (changed bool) {
	prev := s.writable
	if !s.assigned {
		s.writable = true
	} else {
		local := s.writable
		if s.flowTokens > opts.HighWatermark {
			local = false
		} else if s.flowTokens <= opts.LowWatermark {
			local = true
		}
		s.writable = local && parentWritable
	}
	return s.writable != prev
}
