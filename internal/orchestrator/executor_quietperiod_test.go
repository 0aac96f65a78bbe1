package orchestrator

import (
	"context"
	"testing"
	"time"
)

func TestNextWithQuietPeriodFiresOnInactivityAndResetsOnEvent(t *testing.T) {
	t.Parallel()
	stream := &blockingStream{unblock: make(chan struct{}, 1), ev: ProviderEvent{Type: "response.in_progress"}}
	adapter := NewStreamAdapter(stream, time.Minute)

	fired := 0
	publishQuiet := func() { fired++ }
	backgroundPolling := false

	e := &Executor{}
	done := make(chan struct{})
	go func() {
		_, _, _ = e.nextWithQuietPeriod(context.Background(), adapter, 10*time.Millisecond, &backgroundPolling, publishQuiet)
		close(done)
	}()

	time.Sleep(55 * time.Millisecond)
	stream.unblock <- struct{}{}
	<-done

	if fired < 2 {
		t.Fatalf("expected multiple quiet-period fires while idle, got %d", fired)
	}
}

func TestNextWithQuietPeriodSuppressedOnceBackgroundPolling(t *testing.T) {
	t.Parallel()
	stream := &blockingStream{unblock: make(chan struct{}, 1), ev: ProviderEvent{Type: "response.in_progress"}}
	adapter := NewStreamAdapter(stream, time.Minute)

	fired := 0
	publishQuiet := func() { fired++ }
	backgroundPolling := true

	e := &Executor{}
	done := make(chan struct{})
	go func() {
		_, _, _ = e.nextWithQuietPeriod(context.Background(), adapter, 10*time.Millisecond, &backgroundPolling, publishQuiet)
		close(done)
	}()

	time.Sleep(55 * time.Millisecond)
	stream.unblock <- struct{}{}
	<-done

	if fired != 0 {
		t.Fatalf("expected quiet-period filler to be suppressed during background polling, got %d fires", fired)
	}
}

func TestNextWithQuietPeriodReturnsAdapterResultImmediately(t *testing.T) {
	t.Parallel()
	stream := &blockingStream{unblock: make(chan struct{}, 1), ev: ProviderEvent{Type: "response.completed"}}
	close(stream.unblock)
	adapter := NewStreamAdapter(stream, time.Minute)

	backgroundPolling := false
	e := &Executor{}
	ev, ok, err := e.nextWithQuietPeriod(context.Background(), adapter, time.Hour, &backgroundPolling, func() {
		t.Fatal("publishQuiet should not fire before the quiet period elapses")
	})
	if err != nil || !ok || ev.Type != "response.completed" {
		t.Fatalf("got ev=%+v ok=%v err=%v", ev, ok, err)
	}
}
