package stream

import (
	"log"

	"github.com/albertbausili/celeris/internal/h2mux"
	"golang.org/x/net/http2"
)

// mux_adapter.go wires a Processor's existing FrameWriter into the spec'd
// internal/h2mux.Multiplexer, so the per-stream lifecycle it implements
// (deferred delivery, lazy outbound IDs, watermark writability, RST_STREAM-
// once-per-stream close semantics) runs on the HEADERS that open a stream
// and on the DATA, PRIORITY and RST_STREAM frames a Processor handles, and on
// the stream closes a peer GOAWAY causes, rather than living unreached
// beside it.

// processorConnWriter lets the multiplexer emit the RST_STREAM frames it
// synthesizes on stream teardown (spec §4.6) through the same FrameWriter
// Processor already writes to.
type processorConnWriter struct {
	p *Processor
}

func (w processorConnWriter) WriteFrame(f h2mux.Frame) error {
	if f.Type != h2mux.FrameRSTStream {
		return nil
	}
	if err := w.p.writer.WriteRSTStream(f.StreamID, http2.ErrCode(f.ErrorCode)); err != nil {
		return err
	}
	if flusher, ok := w.p.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// processorSink receives the inbound signals the multiplexer never routes
// to a stream itself: errors for frames addressing a stream it doesn't
// know about, and PRIORITY/stream-0 passthrough (spec §4.2). Processor
// already validates stream IDs and frame routing on its own before ever
// calling Ingest, so these mostly confirm that validation rather than
// drive new behavior.
type processorSink struct {
	p *Processor
}

func (s processorSink) ReportError(err error) {
	log.Printf("h2mux: %v", err)
}

func (s processorSink) Passthrough(h2mux.Frame) {}

// defaultMuxOptions configures every Multiplexer a Processor creates from
// this point on. Process-wide and set once at server startup, in the same
// spirit as this package's verboseLogging-style constants — there is one
// server per process and no per-request reason to vary it.
var defaultMuxOptions h2mux.Options

// SetDefaultMuxOptions overrides the watermark/window defaults new
// Processors' multiplexers are created with (spec §4.7, §9 Design Notes),
// wired from pkg/celeris.Config's StreamHighWatermark/StreamLowWatermark.
func SetDefaultMuxOptions(opts h2mux.Options) {
	defaultMuxOptions = opts
}

func newMultiplexer(p *Processor) *h2mux.Multiplexer {
	return h2mux.New(h2mux.ModeServer, processorConnWriter{p: p}, processorSink{p: p}, nil, defaultMuxOptions)
}

// StreamWritable reports the multiplexer's watermark-based writability for
// id (spec §4.7), for callers deciding whether to keep buffering a
// streaming response or wait.
func (p *Processor) StreamWritable(id uint32) bool {
	return p.mux.IsStreamWritable(id)
}
