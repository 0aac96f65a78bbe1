package orchestrator

import (
	"context"
	"errors"
	"testing"
)

func TestBackgroundPollerReturnsImmediatelyOnTerminalState(t *testing.T) {
	t.Parallel()
	client := &fakeModelClient{retrieveResp: ProviderResponse{ID: "resp-1", State: "completed", Content: "done"}}
	poller := NewBackgroundPoller(client, KindResearch)

	resp, err := poller.Poll(context.Background(), "resp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "done" {
		t.Fatalf("Content: got=%q want=done", resp.Content)
	}
}

func TestBackgroundPollerTreatsEmptyStateAsCompleted(t *testing.T) {
	t.Parallel()
	client := &fakeModelClient{retrieveResp: ProviderResponse{ID: "resp-1", State: ""}}
	poller := NewBackgroundPoller(client, KindLetter)

	resp, err := poller.Poll(context.Background(), "resp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State != "completed" {
		t.Fatalf("State: got=%q want=completed", resp.State)
	}
}

func TestBackgroundPollerCancelledContextReturnsContextErr(t *testing.T) {
	t.Parallel()
	client := &fakeModelClient{retrieveErr: errors.New("transient")}
	poller := NewBackgroundPoller(client, KindResearch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := poller.Poll(ctx, "resp-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
