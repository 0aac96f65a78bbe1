package orchestrator

import "sync"

// EventBufferCapacity is the bound on retained payloads, consumed or not,
// before the oldest is dropped (§4.2). Never drops after a terminal payload
// has been published.
const EventBufferCapacity = 2000

// EventBuffer is a bounded, replay-capable, single-producer/multi-consumer
// channel. A late subscriber receives everything published so far, in
// order, followed by subsequent live events, ending at the first terminal
// payload.
type EventBuffer struct {
	mu       sync.Mutex
	items    []StreamPayload
	dropped  int // count of items evicted from the front of items, e.g. absolute index of items[0]
	terminal bool
	closed   bool
	waiters  chan struct{} // closed and replaced on every state change
}

func NewEventBuffer() *EventBuffer {
	return &EventBuffer{waiters: make(chan struct{})}
}

// Publish is non-blocking from the producer's perspective: it appends,
// drops the oldest entry if over capacity (unless a terminal has already
// been published), and wakes any blocked subscribers.
func (b *EventBuffer) Publish(payload StreamPayload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminal || b.closed {
		return
	}
	b.items = append(b.items, payload)
	if len(b.items) > EventBufferCapacity && !b.terminal {
		b.items = b.items[1:]
		b.dropped++
	}
	if payload.Kind == PayloadComplete || payload.Kind == PayloadError {
		b.terminal = true
		b.closed = true
	}
	b.wake()
}

// Close ends the buffer without a terminal payload (e.g. process shutdown
// mid-stream). Subsequent Subscribe iterators observe end-of-stream once
// they've drained whatever was published.
func (b *EventBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.wake()
}

func (b *EventBuffer) wake() {
	close(b.waiters)
	b.waiters = make(chan struct{})
}

// Subscription is the per-subscriber cursor into a shared EventBuffer. next
// is an absolute position in the buffer's lifetime, not an index into the
// (possibly-trimmed) items slice — EventBuffer.dropped translates between
// the two so a subscriber's position stays correct across evictions.
type Subscription struct {
	buf  *EventBuffer
	next int
}

func (b *EventBuffer) Subscribe() *Subscription {
	return &Subscription{buf: b}
}

// Next blocks until the next payload is available, the buffer closes, or
// done is signalled. Returns ok == false at end-of-stream (after terminal,
// or after Close with nothing left to replay, or on cancellation).
func (s *Subscription) Next(done <-chan struct{}) (StreamPayload, bool) {
	b := s.buf
	for {
		b.mu.Lock()
		if s.next < b.dropped {
			// Fell behind the eviction window; the oldest payloads still
			// owed to this subscriber are gone. Jump to the oldest payload
			// still held rather than re-reading already-evicted slots.
			s.next = b.dropped
		}
		idx := s.next - b.dropped
		if idx < len(b.items) {
			p := b.items[idx]
			s.next++
			b.mu.Unlock()
			return p, true
		}
		if b.closed {
			b.mu.Unlock()
			return StreamPayload{}, false
		}
		wake := b.waiters
		b.mu.Unlock()

		select {
		case <-wake:
		case <-done:
			return StreamPayload{}, false
		}
	}
}
