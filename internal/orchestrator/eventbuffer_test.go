package orchestrator

import "testing"

func TestEventBufferReplaysToLateSubscriber(t *testing.T) {
	t.Parallel()
	b := NewEventBuffer()
	b.Publish(statusPayload("starting", nil))
	b.Publish(StreamPayload{Kind: PayloadDelta, Text: "hello"})

	sub := b.Subscribe()
	done := make(chan struct{})

	first, ok := sub.Next(done)
	if !ok || first.Kind != PayloadStatus {
		t.Fatalf("expected replayed status payload, got %+v ok=%v", first, ok)
	}
	second, ok := sub.Next(done)
	if !ok || second.Text != "hello" {
		t.Fatalf("expected replayed delta payload, got %+v ok=%v", second, ok)
	}
}

func TestEventBufferEndsAtTerminalPayload(t *testing.T) {
	t.Parallel()
	b := NewEventBuffer()
	b.Publish(StreamPayload{Kind: PayloadDelta, Text: "a"})
	b.Publish(StreamPayload{Kind: PayloadComplete, Content: "done"})
	b.Publish(StreamPayload{Kind: PayloadDelta, Text: "ignored after terminal"})

	sub := b.Subscribe()
	done := make(chan struct{})

	p1, _ := sub.Next(done)
	if p1.Kind != PayloadDelta {
		t.Fatalf("unexpected first payload: %+v", p1)
	}
	p2, _ := sub.Next(done)
	if p2.Kind != PayloadComplete {
		t.Fatalf("unexpected second payload: %+v", p2)
	}
	_, ok := sub.Next(done)
	if ok {
		t.Fatal("expected end-of-stream after terminal payload")
	}
}

func TestEventBufferCloseWithoutTerminalEndsStream(t *testing.T) {
	t.Parallel()
	b := NewEventBuffer()
	sub := b.Subscribe()
	done := make(chan struct{})

	waitCh := make(chan bool, 1)
	go func() {
		_, ok := sub.Next(done)
		waitCh <- ok
	}()
	b.Close()

	if ok := <-waitCh; ok {
		t.Fatal("expected ok == false after Close with nothing published")
	}
}

func TestEventBufferDropOldestKeepsSubscriberPositionsConsistent(t *testing.T) {
	t.Parallel()
	b := NewEventBuffer()
	done := make(chan struct{})

	// A slow subscriber reads the first two payloads, then falls behind
	// while the buffer fills past capacity and starts evicting.
	slow := b.Subscribe()
	b.Publish(StreamPayload{Kind: PayloadDelta, Text: "0"})
	b.Publish(StreamPayload{Kind: PayloadDelta, Text: "1"})
	if p, ok := slow.Next(done); !ok || p.Text != "0" {
		t.Fatalf("slow read 0: got %+v ok=%v", p, ok)
	}
	if p, ok := slow.Next(done); !ok || p.Text != "1" {
		t.Fatalf("slow read 1: got %+v ok=%v", p, ok)
	}

	for i := 0; i < EventBufferCapacity+5; i++ {
		b.Publish(StreamPayload{Kind: PayloadDelta, Text: "filler"})
	}
	if b.dropped == 0 {
		t.Fatal("expected eviction once capacity was exceeded")
	}

	b.Publish(StreamPayload{Kind: PayloadComplete, Content: "done"})

	count := 0
	for {
		p, ok := slow.Next(done)
		if !ok {
			break
		}
		count++
		if p.Kind == PayloadComplete {
			break
		}
	}
	if count == 0 {
		t.Fatal("expected the slow subscriber to still make forward progress after eviction")
	}
	// Every payload the slow subscriber receives after catching up must come
	// from the buffer's current window, not a silently-skipped stale index.
	if slow.next < b.dropped {
		t.Fatalf("subscriber fell behind the eviction window: next=%d dropped=%d", slow.next, b.dropped)
	}
}

func TestEventBufferNextUnblocksOnDone(t *testing.T) {
	t.Parallel()
	b := NewEventBuffer()
	sub := b.Subscribe()
	done := make(chan struct{})

	resultCh := make(chan bool, 1)
	go func() {
		_, ok := sub.Next(done)
		resultCh <- ok
	}()
	close(done)

	if ok := <-resultCh; ok {
		t.Fatal("expected ok == false once done is signalled")
	}
}
