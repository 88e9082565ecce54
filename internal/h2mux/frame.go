package h2mux

// FrameType identifies the HTTP/2 frame kinds the multiplexer routes or
// passes through, including the stream-0-only PING, GOAWAY and SETTINGS.
// Its values are its own, not the wire type codes; byte-level encoding is
// the connection layer's concern, not the multiplexer's (spec Non-goals).
type FrameType uint8

const (
	FrameHeaders FrameType = iota
	FrameData
	FrameRSTStream
	FramePriority
	FramePing
	FrameGoAway
	FrameWindowUpdate
	FrameSettings
)

func (t FrameType) String() string {
	switch t {
	case FrameHeaders:
		return "HEADERS"
	case FrameData:
		return "DATA"
	case FrameRSTStream:
		return "RST_STREAM"
	case FramePriority:
		return "PRIORITY"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameSettings:
		return "SETTINGS"
	default:
		return "UNKNOWN"
	}
}

// ErrCode mirrors http2.ErrCode without importing the frame codec package;
// the connection layer is responsible for translating to/from the wire
// value (golang.org/x/net/http2.ErrCode shares the same numbering).
type ErrCode uint32

const (
	ErrCodeNo                ErrCode = 0x0
	ErrCodeCancel             ErrCode = 0x8
	ErrCodeProtocol           ErrCode = 0x1
	ErrCodeInternal           ErrCode = 0x2
	ErrCodeFlowControl        ErrCode = 0x3
	ErrCodeStreamClosed       ErrCode = 0x5
	ErrCodeRefusedStream      ErrCode = 0x7
)

// Frame is a defensive, self-contained snapshot of an inbound or outbound
// HTTP/2 frame. golang.org/x/net/http2.Frame values returned by a Framer
// are only valid until the next ReadFrame call, so the connection layer
// copies the fields it needs into a Frame before handing it to the
// multiplexer; the multiplexer never retains a wire-library frame object.
//
// HeaderBlock carries the still-HPACK-encoded header fragment for
// FrameHeaders frames: decoding header blocks is explicitly out of scope
// for the multiplexer (spec Non-goals — no HPACK).
type Frame struct {
	Type        FrameType
	StreamID    uint32
	EndStream   bool
	EndHeaders  bool
	HeaderBlock []byte
	Data        []byte
	ErrorCode   ErrCode
	Increment   uint32
}

// DataLen returns the number of payload bytes this frame contributes to
// outbound flow-token accounting. Only DATA frames are charged (spec
// §4.4/§4.7); everything else is free.
func (f Frame) DataLen() int {
	if f.Type != FrameData {
		return 0
	}
	return len(f.Data)
}
