package h2mux

// Handler is the user-installed pipeline a child channel hosts (spec's
// "child channel ... hosting a user-installed pipeline/handler chain",
// §2/§4.3). It is the multiplexer's equivalent of the teacher's
// stream.Handler/HandlerFunc adapter pair (internal/stream/stream.go),
// generalized from a single blocking HandleStream call into the four
// discrete events the child channel's inbound side can raise.
type Handler interface {
	// FrameRead delivers one inbound frame for this stream, in wire order.
	FrameRead(s *Stream, f Frame)
	// ReadComplete fires at most once per parent read burst, and only for
	// streams that received at least one FrameRead during that burst
	// (spec §4.3, §8 property 7).
	ReadComplete(s *Stream)
	// ErrorCaught delivers a stream-scoped protocol error, fired inbound
	// on the StreamClosed event that follows it (spec §7).
	ErrorCaught(s *Stream, err error)
	// Closed fires once the stream has fully closed and is about to be torn
	// down (spec §4.6).
	Closed(s *Stream)
}

// HandlerFuncs adapts plain functions to Handler, mirroring the teacher's
// HandlerFunc idiom (internal/stream/stream.go, pkg/celeris/handler.go) for
// callers that don't need a full pipeline. Any nil field is a no-op.
type HandlerFuncs struct {
	OnFrameRead     func(s *Stream, f Frame)
	OnReadComplete  func(s *Stream)
	OnErrorCaught   func(s *Stream, err error)
	OnClosed        func(s *Stream)
}

func (h HandlerFuncs) FrameRead(s *Stream, f Frame) {
	if h.OnFrameRead != nil {
		h.OnFrameRead(s, f)
	}
}

func (h HandlerFuncs) ReadComplete(s *Stream) {
	if h.OnReadComplete != nil {
		h.OnReadComplete(s)
	}
}

func (h HandlerFuncs) ErrorCaught(s *Stream, err error) {
	if h.OnErrorCaught != nil {
		h.OnErrorCaught(s, err)
	}
}

func (h HandlerFuncs) Closed(s *Stream) {
	if h.OnClosed != nil {
		h.OnClosed(s)
	}
}

// Initializer sets up a newly-created stream's handler before any frames
// are delivered to it. It runs off the multiplexer's loop goroutine (spec
// §5 suspension points 1/2) and reports completion asynchronously; the
// multiplexer resumes delivery (inbound factory path) or tears the stream
// down (failure path) once it returns (spec §4.5).
type Initializer func(s *Stream) error
