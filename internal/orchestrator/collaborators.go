package orchestrator

import (
	"context"

	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

// CreditLedger is the user's atomic credit balance. Deduct is a conditional
// decrement that fails if the balance is insufficient; Refund is best-effort
// and must never block a run's terminal transition on its own failure.
type CreditLedger interface {
	Deduct(ctx context.Context, userID string, amount float64) (remaining float64, err error)
	Refund(ctx context.Context, userID string, amount float64) error
}

// JobStore owns the user's single active job. Get resolves "the user's
// current job" when jobId is empty. Upsert performs a read-modify-write
// merge so orchestrator writes never clobber concurrent caller edits to
// fields the orchestrator doesn't own.
type JobStore interface {
	Get(ctx context.Context, userID, jobID string) (*JobSnapshot, error)
	Upsert(ctx context.Context, userID string, patch func(*JobSnapshot)) (*JobSnapshot, error)
}

// ProfileLookup resolves the authoritative sender/MP context merged onto
// parsed letter output; the model's own claims about these fields are always
// discarded in favor of this.
type ProfileLookup interface {
	Get(ctx context.Context, userID string) (*Profile, error)
}

// EventRecorder durably appends every payload an Executor publishes, as an
// audit trail; nothing in this service reads it back, and subscribers are
// served only from in-process EventBuffers. Record must not block or fail
// the run it's recording:
// Executor logs and continues on error rather than propagating it.
type EventRecorder interface {
	Record(ctx context.Context, key RunKey, seq int, payload StreamPayload) error
}

// ProviderResponse is what ModelClient.Retrieve returns: the provider's
// current view of a previously-started response.
type ProviderResponse struct {
	ID      string
	State   string // completed|failed|cancelled|incomplete|in_progress|queued|""(unknown)
	Content string
	Error   string
	Usage   map[string]any
}

// StreamRequest carries everything ModelClient needs to open a new stream.
type StreamRequest struct {
	Kind   Kind
	Model  string
	Effort string
	System string
	Input  string
	Extras map[string]any
}

// ProviderStream is the async sequence of ProviderEvent a stream yields.
// Next blocks until the next event, an error, or ctx cancellation; io.EOF-style
// completion is signalled by returning (ProviderEvent{}, false, nil).
type ProviderStream interface {
	Next(ctx context.Context) (ev ProviderEvent, ok bool, err error)
	Close()
}

// ModelClient is the opaque factory the orchestrator treats the remote
// reasoning provider through. Connection pooling and retries below the
// stream level are the client's business.
type ModelClient interface {
	CreateStream(ctx context.Context, req StreamRequest) (ProviderStream, error)
	ResumeStream(ctx context.Context, responseID, cursor string, extras map[string]any) (ProviderStream, error)
	Retrieve(ctx context.Context, responseID string) (ProviderResponse, error)
}

// ClampEffort enforces the reasoning-effort clamp (§6.1): o4-mini-deep-research
// (exactly, or prefixed "o4-mini-deep-research@") only supports "medium"; any
// other requested effort is downgraded, logging a warning since the caller's
// request is overridden. log may be nil in tests that don't care about the
// warning.
func ClampEffort(log *logger.Logger, model, effort string) string {
	if model == "o4-mini-deep-research" || hasDeepResearchPrefix(model) {
		if effort != "medium" {
			if log != nil {
				log.Warn("clamping reasoning effort to medium", "model", model, "requested_effort", effort)
			}
			return "medium"
		}
	}
	return effort
}

func hasDeepResearchPrefix(model string) bool {
	const prefix = "o4-mini-deep-research@"
	return len(model) > len(prefix) && model[:len(prefix)] == prefix
}
