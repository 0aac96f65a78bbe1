package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

type blockingStream struct {
	unblock chan struct{}
	closed  bool
	ev      ProviderEvent
}

func (s *blockingStream) Next(ctx context.Context) (ProviderEvent, bool, error) {
	select {
	case <-s.unblock:
		return s.ev, true, nil
	case <-ctx.Done():
		return ProviderEvent{}, false, ctx.Err()
	}
}

func (s *blockingStream) Close() { s.closed = true }

func TestStreamAdapterPassesThroughEventsWithinBudget(t *testing.T) {
	t.Parallel()
	stream := &blockingStream{unblock: make(chan struct{}, 1), ev: ProviderEvent{Type: "response.in_progress"}}
	close(stream.unblock)

	adapter := NewStreamAdapter(stream, time.Second)
	ev, ok, err := adapter.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok || ev.Type != "response.in_progress" {
		t.Fatalf("Next: got ev=%+v ok=%v", ev, ok)
	}
	if stream.closed {
		t.Fatal("stream should not be closed on a successful event")
	}
}

func TestStreamAdapterTimesOutOnInactivityAndClosesStream(t *testing.T) {
	t.Parallel()
	stream := &blockingStream{unblock: make(chan struct{})}
	adapter := NewStreamAdapter(stream, 10*time.Millisecond)

	_, ok, err := adapter.Next(context.Background())
	if ok {
		t.Fatal("expected ok=false on inactivity timeout")
	}
	if !errors.Is(err, ErrTimeoutExceeded) {
		t.Fatalf("expected ErrTimeoutExceeded, got %v", err)
	}
	if !stream.closed {
		t.Fatal("expected the underlying stream to be closed on timeout")
	}
}

func TestStreamAdapterCancelledContextClosesStream(t *testing.T) {
	t.Parallel()
	stream := &blockingStream{unblock: make(chan struct{})}
	adapter := NewStreamAdapter(stream, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := adapter.Next(ctx)
	if ok {
		t.Fatal("expected ok=false on cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !stream.closed {
		t.Fatal("expected the underlying stream to be closed on context cancellation")
	}
}
