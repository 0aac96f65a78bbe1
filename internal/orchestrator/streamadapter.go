package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// StreamAdapter wraps a ProviderStream with an inactivity timeout: if no
// event arrives within budget, Next returns ErrTimeoutExceeded and the
// underlying stream is closed (§4.3). It does not interpret events, only
// gates their flow on liveness.
type StreamAdapter struct {
	stream ProviderStream
	budget time.Duration
}

func NewStreamAdapter(stream ProviderStream, budget time.Duration) *StreamAdapter {
	return &StreamAdapter{stream: stream, budget: budget}
}

// Next blocks for at most the inactivity budget waiting for the next event
// off the wrapped stream. ok == false with a nil error signals a clean
// end-of-stream; a non-nil error is either the stream's own error or
// ErrTimeoutExceeded.
func (a *StreamAdapter) Next(ctx context.Context) (ProviderEvent, bool, error) {
	type result struct {
		ev  ProviderEvent
		ok  bool
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		ev, ok, err := a.stream.Next(ctx)
		resCh <- result{ev: ev, ok: ok, err: err}
	}()

	timer := time.NewTimer(a.budget)
	defer timer.Stop()

	select {
	case r := <-resCh:
		return r.ev, r.ok, r.err
	case <-timer.C:
		a.stream.Close()
		return ProviderEvent{}, false, fmt.Errorf("%w: no event within %s", ErrTimeoutExceeded, a.budget)
	case <-ctx.Done():
		a.stream.Close()
		return ProviderEvent{}, false, ctx.Err()
	}
}

func (a *StreamAdapter) Close() {
	a.stream.Close()
}
