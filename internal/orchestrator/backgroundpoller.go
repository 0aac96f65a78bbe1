package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// BackgroundPoller takes over from live streaming once a responseId is known
// but streaming has given up: it repeatedly fetches the provider's stored
// response until a terminal state or the budget expires (§4.5).
type BackgroundPoller struct {
	client ModelClient
	kind   Kind
}

func NewBackgroundPoller(client ModelClient, kind Kind) *BackgroundPoller {
	return &BackgroundPoller{client: client, kind: kind}
}

// Poll retrieves responseID every PollInterval until the provider reports a
// terminal state, the context is cancelled, or the kind's polling budget
// expires (ErrTimeoutExceeded). completed/failed/cancelled/incomplete and
// null/unknown (treated optimistically as completed) are all terminal.
func (p *BackgroundPoller) Poll(ctx context.Context, responseID string) (ProviderResponse, error) {
	deadline := time.Now().Add(PollingBudget(p.kind))
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		resp, err := p.client.Retrieve(ctx, responseID)
		if err != nil {
			if time.Now().After(deadline) {
				return ProviderResponse{}, fmt.Errorf("%w: background polling budget exhausted: %v", ErrTimeoutExceeded, err)
			}
		} else if isTerminalProviderState(resp.State) {
			if resp.State == "" {
				resp.State = "completed"
			}
			return resp, nil
		}

		select {
		case <-ctx.Done():
			return ProviderResponse{}, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return ProviderResponse{}, fmt.Errorf("%w: background polling budget exhausted", ErrTimeoutExceeded)
			}
		}
	}
}

func isTerminalProviderState(state string) bool {
	switch state {
	case "completed", "failed", "cancelled", "incomplete", "":
		return true
	default:
		return false
	}
}
