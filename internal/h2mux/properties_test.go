package h2mux

import (
	"sync"
	"testing"
)

// Property 2/3: outbound stream IDs are assigned exactly at first flush, in
// the order flushes happen, all sharing one parity.
func TestProperty_OutboundIDsAssignedInFlushOrder(t *testing.T) {
	w := &recordingWriter{}
	sink := &recordingSink{}
	m := New(ModeClient, w, sink, nil, Options{})

	a, futA := m.CreateStream(nil)
	b, futB := m.CreateStream(nil)
	if err := futA.Wait(); err != nil {
		t.Fatalf("create A: %v", err)
	}
	if err := futB.Wait(); err != nil {
		t.Fatalf("create B: %v", err)
	}

	if _, err := a.StreamID(); err == nil {
		t.Fatal("expected NoStreamIDAvailable before first flush")
	}

	// B flushes first, so B must get the lower id despite being created
	// second.
	b.Flush()
	a.Flush()

	idB, err := b.StreamID()
	if err != nil {
		t.Fatalf("B stream id: %v", err)
	}
	idA, err := a.StreamID()
	if err != nil {
		t.Fatalf("A stream id: %v", err)
	}
	if idB >= idA {
		t.Fatalf("expected B's id (%d) < A's id (%d), since B flushed first", idB, idA)
	}
	if idA%2 != idB%2 {
		t.Fatalf("expected both client-initiated streams to share parity, got %d and %d", idA, idB)
	}
	if idB%2 == 0 {
		t.Fatalf("expected client-initiated stream ids to be odd, got %d", idB)
	}
}

// Property 4: however many callers call Close concurrently on the same
// stream, exactly one RST_STREAM(CANCEL) reaches the connection and every
// caller's completion is satisfied once StreamClosed arrives.
func TestProperty_CloseIsIdempotentPerStream(t *testing.T) {
	w := &recordingWriter{}
	sink := &recordingSink{}
	m := New(ModeClient, w, sink, nil, Options{})

	child, createFut := m.CreateStream(nil)
	if err := createFut.Wait(); err != nil {
		t.Fatalf("create stream: %v", err)
	}
	child.Flush()
	id, err := child.StreamID()
	if err != nil {
		t.Fatalf("stream id: %v", err)
	}

	const callers = 5
	var wg sync.WaitGroup
	futs := make([]*Future, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			futs[i] = child.Close()
		}()
	}
	wg.Wait()

	m.HandleStreamClosed(id, nil)
	for i, fut := range futs {
		if err := fut.Wait(); err != nil {
			t.Fatalf("caller %d: unexpected error %v", i, err)
		}
	}

	rst := 0
	for _, f := range w.all() {
		if f.Type == FrameRSTStream {
			rst++
		}
	}
	if rst != 1 {
		t.Fatalf("expected exactly one RST_STREAM, got %d", rst)
	}
	if n := m.StreamCount(); n != 0 {
		t.Fatalf("expected stream torn down, count=%d", n)
	}
}
