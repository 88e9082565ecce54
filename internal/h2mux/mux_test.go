package h2mux

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingWriter collects every frame the multiplexer releases, in order.
type recordingWriter struct {
	mu     sync.Mutex
	frames []Frame
}

func (w *recordingWriter) WriteFrame(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, f)
	return nil
}

func (w *recordingWriter) all() []Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Frame, len(w.frames))
	copy(out, w.frames)
	return out
}

// recordingSink collects passthrough frames and reported errors.
type recordingSink struct {
	mu          sync.Mutex
	errs        []error
	passthrough []Frame
}

func (s *recordingSink) ReportError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) Passthrough(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passthrough = append(s.passthrough, f)
}

func (s *recordingSink) errCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

// recordingHandler tracks every event delivered to the streams it's
// installed on, keyed by stream pointer identity.
type recordingHandler struct {
	mu           sync.Mutex
	frames       []Frame
	readComplete int
	errs         []error
	closed       int
}

func (h *recordingHandler) FrameRead(_ *Stream, f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, f)
}

func (h *recordingHandler) ReadComplete(_ *Stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readComplete++
}

func (h *recordingHandler) ErrorCaught(_ *Stream, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) Closed(_ *Stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
}

func (h *recordingHandler) frameCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

// installingInit returns an Initializer that installs a shared handler and
// completes at once (S3 uses its own initializer that blocks until
// released).
func installingInit(h Handler) Initializer {
	return func(s *Stream) error {
		s.SetHandler(h)
		return nil
	}
}

// S1: 50 inbound HEADERS without END_STREAM open 50 children; StreamClosed
// for each completes cleanly with no outbound frames.
func TestScenarioS1_BulkOpenAndClose(t *testing.T) {
	w := &recordingWriter{}
	sink := &recordingSink{}
	h := &recordingHandler{}
	m := New(ModeServer, w, sink, installingInit(h), Options{})

	var ids []uint32
	for id := uint32(1); id <= 99; id += 2 {
		ids = append(ids, id)
		if err := m.Ingest(Frame{Type: FrameHeaders, StreamID: id}); err != nil {
			t.Fatalf("ingest HEADERS %d: %v", id, err)
		}
	}
	if got := len(ids); got != 50 {
		t.Fatalf("expected 50 stream ids, got %d", got)
	}
	if n := m.StreamCount(); n != 50 {
		t.Fatalf("expected 50 tracked streams, got %d", n)
	}

	for _, id := range ids {
		m.HandleStreamClosed(id, nil)
	}
	if n := m.StreamCount(); n != 0 {
		t.Fatalf("expected streams torn down after close, got %d remaining", n)
	}
	if got := len(w.all()); got != 0 {
		t.Fatalf("expected no outbound frames, got %d", got)
	}
}

// S2: a frame for a stream already closed surfaces NoSuchStream and is
// never delivered.
func TestScenarioS2_FrameAfterClose(t *testing.T) {
	w := &recordingWriter{}
	sink := &recordingSink{}
	h := &recordingHandler{}
	m := New(ModeServer, w, sink, installingInit(h), Options{})

	if err := m.Ingest(Frame{Type: FrameHeaders, StreamID: 5}); err != nil {
		t.Fatalf("ingest HEADERS: %v", err)
	}
	m.HandleStreamClosed(5, nil)

	err := m.Ingest(Frame{Type: FrameData, StreamID: 5, Data: []byte("Hello, world!")})
	if err == nil {
		t.Fatal("expected NoSuchStream error, got nil")
	}
	var nss *NoSuchStreamError
	if !errors.As(err, &nss) {
		t.Fatalf("expected *NoSuchStreamError, got %T: %v", err, err)
	}
	if nss.StreamID != 5 {
		t.Fatalf("expected stream id 5, got %d", nss.StreamID)
	}
	if sink.errCount() != 1 {
		t.Fatalf("expected 1 reported error, got %d", sink.errCount())
	}
	if h.frameCount() != 0 {
		t.Fatalf("expected zero frames delivered, got %d", h.frameCount())
	}
}

// S3: frames arriving while setup-pending queue up undelivered, in order;
// a passthrough PING is unaffected; once the initializer completes, every
// queued frame is delivered (the PING bypassed the queue and went to the
// sink instead).
func TestScenarioS3_DeferredDeliveryUntilSetupCompletes(t *testing.T) {
	w := &recordingWriter{}
	sink := &recordingSink{}
	h := &recordingHandler{}

	release := make(chan struct{})
	init := func(s *Stream) error {
		<-release
		s.SetHandler(h)
		return nil
	}
	m := New(ModeServer, w, sink, init, Options{})

	if err := m.Ingest(Frame{Type: FrameHeaders, StreamID: 1}); err != nil {
		t.Fatalf("ingest HEADERS: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := m.Ingest(Frame{Type: FrameData, StreamID: 1, Data: []byte("Hello, world!")}); err != nil {
			t.Fatalf("ingest DATA %d: %v", i, err)
		}
	}
	if err := m.Ingest(Frame{Type: FramePing, StreamID: 0}); err != nil {
		t.Fatalf("ingest PING: %v", err)
	}

	if got := len(sink.passthrough); got != 1 || sink.passthrough[0].Type != FramePing {
		t.Fatalf("expected PING to pass through, got %+v", sink.passthrough)
	}
	if h.frameCount() != 0 {
		t.Fatalf("expected no frames delivered before setup completes, got %d", h.frameCount())
	}

	close(release)

	deadline := time.After(time.Second)
	for h.frameCount() < 6 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for deferred delivery, got %d frames", h.frameCount())
		case <-time.After(time.Millisecond):
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.frames[0].Type != FrameHeaders {
		t.Fatalf("expected first delivered frame to be HEADERS, got %v", h.frames[0].Type)
	}
	for i := 1; i < 6; i++ {
		if h.frames[i].Type != FrameData {
			t.Fatalf("expected frame %d to be DATA, got %v", i, h.frames[i].Type)
		}
	}
}

// S4: high/low watermark writability flips exactly where spec.md's example
// says it should.
func TestScenarioS4_WatermarkWritability(t *testing.T) {
	w := &recordingWriter{}
	sink := &recordingSink{}
	m := New(ModeClient, w, sink, nil, Options{HighWatermark: 100, LowWatermark: 50})

	child, fut := m.CreateStream(nil)
	if err := fut.Wait(); err != nil {
		t.Fatalf("create stream: %v", err)
	}
	// Assign the stream ID via an empty first flush, as spec.md's scenario
	// calls for, before any write is queued.
	child.Flush()
	if _, err := child.StreamID(); err != nil {
		t.Fatalf("expected assigned stream id after first flush: %v", err)
	}

	child.Write(Frame{Type: FrameHeaders})
	child.Write(Frame{Type: FrameData, Data: make([]byte, 90)})
	if !child.IsWritable() {
		t.Fatal("expected still writable: HEADERS(0) + DATA(90) <= high watermark(100)")
	}

	child.Write(Frame{Type: FrameData, Data: make([]byte, 20)})
	if child.IsWritable() {
		t.Fatal("expected unwritable once buffered bytes exceed high watermark")
	}

	child.Write(Frame{Type: FrameHeaders, EndStream: true})
	if child.IsWritable() {
		t.Fatal("expected still unwritable: trailers carry no bytes")
	}

	child.Flush()
	if !child.IsWritable() {
		t.Fatal("expected writable again once the flush drains buffered bytes to <= low watermark")
	}
}

// S5: a failing inbound initializer yields exactly one RST_STREAM(CANCEL)
// and tears the stream down on the subsequent StreamClosed event.
func TestScenarioS5_FailedInitializerResetsStream(t *testing.T) {
	w := &recordingWriter{}
	sink := &recordingSink{}
	h := &recordingHandler{}

	failure := errors.New("setup failed")
	release := make(chan struct{})
	init := func(s *Stream) error {
		<-release
		return failure
	}
	m := New(ModeServer, w, sink, init, Options{})

	if err := m.Ingest(Frame{Type: FrameHeaders, StreamID: 1}); err != nil {
		t.Fatalf("ingest HEADERS: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := m.Ingest(Frame{Type: FrameData, StreamID: 1, Data: []byte("Hello, world!")}); err != nil {
			t.Fatalf("ingest DATA %d: %v", i, err)
		}
	}
	close(release)

	deadline := time.After(time.Second)
	for len(w.all()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for RST_STREAM")
		case <-time.After(time.Millisecond):
		}
	}

	frames := w.all()
	if len(frames) != 1 {
		t.Fatalf("expected exactly one outbound frame, got %d", len(frames))
	}
	if frames[0].Type != FrameRSTStream || frames[0].StreamID != 1 || frames[0].ErrorCode != ErrCodeCancel {
		t.Fatalf("expected RST_STREAM(1, CANCEL), got %+v", frames[0])
	}

	m.HandleStreamClosed(1, &StreamClosedError{StreamID: 1, Code: ErrCodeCancel})
	if n := m.StreamCount(); n != 0 {
		t.Fatalf("expected stream torn down after StreamClosed, count=%d", n)
	}
	_ = h // the initializer failed before installing a handler, so Closed never fires here
}

// S6: WINDOW_UPDATE is emitted iff the inbound window drops to <= target/2.
func TestScenarioS6_WindowUpdateThreshold(t *testing.T) {
	w := &recordingWriter{}
	sink := &recordingSink{}
	m := New(ModeClient, w, sink, nil, Options{TargetWindowSize: 1024})

	child, fut := m.CreateStream(nil)
	if err := fut.Wait(); err != nil {
		t.Fatalf("create stream: %v", err)
	}
	child.Write(Frame{Type: FrameHeaders})
	child.Flush()
	id, err := child.StreamID()
	if err != nil {
		t.Fatalf("stream id: %v", err)
	}
	baseline := len(w.all())

	above := uint32(513)
	m.HandleWindowUpdated(id, &above, nil)
	if got := len(w.all()); got != baseline {
		t.Fatalf("expected no WINDOW_UPDATE above target/2, got %d new frames", got-baseline)
	}

	at := uint32(512)
	m.HandleWindowUpdated(id, &at, nil)
	frames := w.all()
	if got := len(frames) - baseline; got != 1 {
		t.Fatalf("expected exactly one WINDOW_UPDATE once window drops to target/2, got %d", got)
	}
	last := frames[len(frames)-1]
	if last.Type != FrameWindowUpdate || last.StreamID != id || last.Increment != 512 {
		t.Fatalf("expected WINDOW_UPDATE(id=%d, increment=512), got %+v", id, last)
	}
}
