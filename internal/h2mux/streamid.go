package h2mux

// idAllocator hands out locally-initiated stream IDs per RFC 7540 §5.1.1:
// odd IDs starting at 1 for client mode, even IDs starting at 2 for server
// mode, strictly increasing by 2 on every assignment (spec §4.1).
//
// Grounded on internal/stream/stream.go's Manager.nextStreamID/nextPushID
// fields, which use the same odd/even convention; unlike the teacher, IDs
// here are not assigned at stream-creation time. Assignment happens lazily,
// exactly once, at the moment a locally-created stream's first write is
// flushed to the connection (see collector.go's assignStreamID).
type idAllocator struct {
	next uint32
}

func newIDAllocator(mode Mode) *idAllocator {
	start := uint32(1)
	if mode == ModeServer {
		start = 2
	}
	return &idAllocator{next: start}
}

// assign returns the next ID for this role and advances the counter by 2.
// Only ever called from the multiplexer's single loop goroutine, so no
// synchronization is needed.
func (a *idAllocator) assign() uint32 {
	id := a.next
	a.next += 2
	return id
}
