// Package h2mux implements the HTTP/2 stream multiplexer: given a
// bidirectional flow of already-framed HTTP/2 messages on one underlying
// connection, it demultiplexes them into independently-managed per-stream
// child channels, and remultiplexes their outbound writes back onto the
// connection while respecting HTTP/2 stream semantics (concurrent streams,
// per-stream flow control, ordered shutdown).
//
// The package neither parses wire bytes nor negotiates the connection
// preface, HPACK, TLS, or connection-level flow control/settings — those
// are the connection layer's job (internal/h2/transport in this repo).
package h2mux

import "sync/atomic"

// ConnWriter is the outbound side of the connection layer ("C" in the
// design): every frame the multiplexer releases — DATA/HEADERS it
// remultiplexes from children, and RST_STREAM/WINDOW_UPDATE it synthesizes
// itself — goes through WriteFrame.
type ConnWriter interface {
	WriteFrame(f Frame) error
}

// Sink is the connection's inbound path for signals that are not frame
// deliveries: protocol errors for frames the multiplexer refuses to route,
// and frames that bypass stream routing entirely (spec §3, §4.2).
type Sink interface {
	// ReportError surfaces a connection-inbound error, e.g. NoSuchStream.
	ReportError(err error)
	// Passthrough hands back a frame addressed to stream 0, or a PRIORITY
	// frame on any stream id — frames the multiplexer never creates or
	// routes a stream for.
	Passthrough(f Frame)
}

// Multiplexer is the top-level "M" of the design: it owns the
// StreamID→StreamState map and the ID allocator exclusively, and is driven
// by a single internal loop goroutine (loop.go) regardless of which
// goroutine calls into its public API.
type Multiplexer struct {
	opts   Options
	writer ConnWriter
	sink   Sink
	inboundInit Initializer

	allocator *idAllocator
	streams   map[uint32]*streamState

	lastInboundStreamID uint32
	parentWritable      bool

	tasks    chan task
	closed   chan struct{}
	teardown []task

	loopGoroutineID atomic.Int64

	readBurstActive bool
	burstTouched    []*streamState
	flushQueue      []*streamState

	metrics *metrics
}

// New creates a multiplexer in the given mode and starts its loop
// goroutine. connection is the frame sink for releases; sink receives
// passthrough frames and connection-inbound errors; inboundInitializer
// runs once per peer-opened stream before any of its frames are delivered
// (spec §6 "new(mode, connection, inbound_initializer, options)").
func New(mode Mode, connection ConnWriter, sink Sink, inboundInitializer Initializer, opts Options) *Multiplexer {
	opts = opts.withDefaults()
	opts.Mode = mode
	m := &Multiplexer{
		opts:            opts,
		writer:          connection,
		sink:            sink,
		inboundInit:     inboundInitializer,
		allocator:       newIDAllocator(mode),
		streams:         make(map[uint32]*streamState),
		parentWritable:  true,
		tasks:           make(chan task, 64),
		closed:          make(chan struct{}),
		metrics:         newMetrics(),
	}
	go m.runLoop()
	return m
}

// Ingest routes one inbound frame per spec §4.2. It returns the same error
// (if any) that was also reported to the Sink, for convenience in tests
// and synchronous callers.
func (m *Multiplexer) Ingest(f Frame) error {
	var err error
	m.doSync(func() {
		err = m.ingest(f)
	})
	return err
}

// BeginRead marks the start of one parent-level read burst (spec §4.4,
// §5, §8 property 7): child flushes during the burst are coalesced, and
// ReadComplete fires at most once per child at EndRead.
func (m *Multiplexer) BeginRead() {
	m.doSync(func() {
		m.readBurstActive = true
		m.burstTouched = m.burstTouched[:0]
	})
}

// EndRead ends the current read burst: fires ReadComplete on every child
// that received at least one frame during the burst, then performs at
// most one coalesced flush to the connection.
func (m *Multiplexer) EndRead() {
	m.doSync(func() {
		m.endRead()
	})
}

// CreateStream creates a locally-initiated outbound stream (spec §4.5,
// §6). Its HTTP/2 stream ID is not assigned until its first flushed write.
func (m *Multiplexer) CreateStream(init Initializer) (*Stream, *Future) {
	var child *Stream
	fut := newFuture()
	m.doSync(func() {
		child = m.createOutboundStream(init, fut)
	})
	return child, fut
}

// HandleStreamCreated processes the StreamCreated lifecycle event (spec
// §4.6).
func (m *Multiplexer) HandleStreamCreated(id, localInitialWindow, remoteInitialWindow uint32) {
	m.doSync(func() {
		m.streamCreated(id, localInitialWindow, remoteInitialWindow)
	})
}

// HandleStreamClosed processes the StreamClosed lifecycle event (spec
// §4.6). A nil reason means the stream closed cleanly (unflushed writes
// fail with EOF); a non-nil reason (callers pass a *StreamClosedError) fails
// them with that same error and is fired inbound as an error.
func (m *Multiplexer) HandleStreamClosed(id uint32, reason error) {
	m.doSync(func() {
		m.streamClosed(id, reason)
	})
}

// HandleWindowUpdated processes the WindowUpdated lifecycle event (spec
// §4.6). Per the Open Question in spec §9 Design Notes, a call where both
// pointers are nil is preserved as a no-op — it is not known whether the
// source relies on this for signaling, so it is not second-guessed here.
func (m *Multiplexer) HandleWindowUpdated(id uint32, inboundWindowSize, outboundWindowSize *uint32) {
	m.doSync(func() {
		m.windowUpdated(id, inboundWindowSize, outboundWindowSize)
	})
}

// SetParentWritable processes the parent-level WritabilityChanged event
// (spec §6), propagating to every active child (spec §4.7).
func (m *Multiplexer) SetParentWritable(writable bool) {
	m.doSync(func() {
		m.parentWritable = writable
		for _, st := range m.streams {
			m.updateWritability(st)
		}
	})
}

// Shutdown closes every active stream as if the caller had called
// Stream.Close on each (spec "ordered shutdown"), then stops the loop.
// Shutdown does not synthesize StreamClosed events, and once the loop has
// stopped, later calls such as HandleStreamClosed are no longer processed,
// so the close futures of streams that had sent RST_STREAM are not
// completed by them.
func (m *Multiplexer) Shutdown() {
	m.doSync(func() {
		for _, st := range m.streams {
			if st.phase == PhaseClosed || st.phase == PhaseClosing {
				continue
			}
			m.closeStream(st, newFuture())
		}
	})
	close(m.closed)
}

// StreamCount reports the number of streams currently tracked, for tests
// and diagnostics.
func (m *Multiplexer) StreamCount() int {
	var n int
	m.doSync(func() { n = len(m.streams) })
	return n
}

// IsStreamWritable reports the edge-triggered writability (spec §4.7) of a
// tracked stream. A stream id the multiplexer doesn't know about is
// reported writable, matching the child's own default before its first
// watermark flip (child.go's newStream).
func (m *Multiplexer) IsStreamWritable(id uint32) bool {
	var writable bool
	m.doSync(func() {
		st, ok := m.streams[id]
		if !ok || st.child == nil {
			writable = true
			return
		}
		writable = st.child.IsWritable()
	})
	return writable
}
