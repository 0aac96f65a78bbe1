package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brightfield-labs/writing-desk/internal/observability"
	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

// quietMessages is the fixed, rotated catalog of quiet-period filler events
// (§9: UX only, must not carry protocol meaning). The research kind must not
// repeat the last two messages in succession.
var quietMessages = []string{
	"Still working on it…",
	"The model is thinking this through…",
	"Gathering more detail…",
	"Almost there…",
}

// ResumeFromState seeds an Executor constructed to continue a run recovered
// from RunStateStore rather than started fresh.
type ResumeFromState struct {
	ResponseID       string
	Charged          bool
	RemainingCredits *float64
}

// StartOpts are the caller-supplied parameters for a new or resumed run.
type StartOpts struct {
	UserID string
	JobID  string
	Kind   Kind
	Tone   string
	Resume *ResumeFromState
}

// Executor runs one RunKey end-to-end: charge, stream, resume, poll,
// persist, complete/error/refund (§4.6). It exclusively owns its EventBuffer
// for the run's lifetime.
type Executor struct {
	log   *logger.Logger
	key   RunKey
	kind  Kind
	tone  string

	store    RunStateStore
	ledger   CreditLedger
	jobs     JobStore
	profiles ProfileLookup
	model    ModelClient

	instanceID string
	buf        *EventBuffer
	recorder   EventRecorder

	mu       sync.Mutex
	status   RunStatus
	charged  bool
	settled  bool // terminal persistence has happened; refund path won't double-fire
	remaining *float64
	seq       int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewExecutor constructs an Executor for key, wiring it to its durable and
// external collaborators. It does not start the run; call Start for that.
func NewExecutor(log *logger.Logger, key RunKey, instanceID string, store RunStateStore, ledger CreditLedger, jobs JobStore, profiles ProfileLookup, model ModelClient) *Executor {
	return &Executor{
		log:        log.With("run_key", key.String(), "kind", string(key.Kind)),
		key:        key,
		kind:       key.Kind,
		store:      store,
		ledger:     ledger,
		jobs:       jobs,
		profiles:   profiles,
		model:      model,
		instanceID: instanceID,
		buf:        NewEventBuffer(),
		status:     StatusRunning,
		done:       make(chan struct{}),
	}
}

// WithRecorder attaches a durable timeline recorder; nil disables recording.
// Called right after NewExecutor, before Start.
func (e *Executor) WithRecorder(recorder EventRecorder) *Executor {
	e.recorder = recorder
	return e
}

// publish fans a payload out to the live in-process buffer and, if
// attached, the durable timeline. Recording failures are logged and
// swallowed: a client still connected to the live buffer must never be
// blocked or failed by a timeline write it can't see.
func (e *Executor) publish(ctx context.Context, payload StreamPayload) {
	e.buf.Publish(payload)
	if e.recorder == nil {
		return
	}
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()
	if err := e.recorder.Record(ctx, e.key, seq, payload); err != nil {
		e.log.Warn("record run event failed", "error", err, "seq", seq)
	}
}

func (e *Executor) Status() RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Executor) Buffer() *EventBuffer { return e.buf }

func (e *Executor) setStatus(s RunStatus) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
	if m := observability.Current(); m != nil {
		m.ObserveRunTransition(string(e.kind), string(s))
	}
}

// Start launches the run's goroutine. opts.Tone is only meaningful for
// letter runs; opts.Resume seeds a recovered run rather than a fresh one.
// The run keeps ctx's values but not its cancellation (ctx is often the
// start request's context); only Cancel and MarkCancelledShutdown stop it.
func (e *Executor) Start(ctx context.Context, opts StartOpts) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.tone = opts.Tone
	go func() {
		defer close(e.done)
		e.run(runCtx, opts)
	}()
}

// Cancel aborts the run. If charged and still running it refunds (operator
// cancel semantics, §5); graceful process shutdown calls
// MarkCancelledShutdown instead.
func (e *Executor) Cancel(ctx context.Context) {
	e.mu.Lock()
	charged := e.charged
	status := e.status
	e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	if charged && status == StatusRunning {
		if err := e.ledger.Refund(ctx, e.key.UserID, PriceFor(e.kind)); err != nil {
			e.log.Warn("refund on cancel failed", "error", err)
		}
	}
	_, _ = e.store.Update(ctx, e.key.String(), func(s *RunState) { s.Status = StatusCancelled })
	e.setStatus(StatusCancelled)
}

// MarkCancelledShutdown implements graceful-shutdown semantics: mark
// cancelled in the store, no refund, per the governing design's resolved
// open question. The cancelled entry is terminal, so no instance resumes it.
func (e *Executor) MarkCancelledShutdown(ctx context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	_, _ = e.store.Update(ctx, e.key.String(), func(s *RunState) { s.Status = StatusCancelled })
	e.setStatus(StatusCancelled)
}

func (e *Executor) remainingPtr() *float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remaining
}

func (e *Executor) run(ctx context.Context, opts StartOpts) {
	// --- Starting ---
	charged := opts.Resume != nil && opts.Resume.Charged
	responseID := ""
	if opts.Resume != nil {
		responseID = opts.Resume.ResponseID
		e.remaining = opts.Resume.RemainingCredits
	}
	e.mu.Lock()
	e.charged = charged
	e.mu.Unlock()

	if err := e.store.Register(ctx, RunState{
		Kind:       e.kind,
		RunKey:     e.key.String(),
		UserID:     e.key.UserID,
		JobID:      e.key.JobID,
		InstanceID: e.instanceID,
		Status:     StatusRunning,
		ResponseID: responseID,
		Meta:       RunMeta{Charged: charged, Tone: opts.Tone},
		TTL:        RunStateTTLBudget(e.kind),
	}); err != nil && !errors.Is(err, ErrAlreadyActive) {
		e.log.Warn("RunStateStore.Register failed", "error", err)
	}
	e.publish(ctx, statusPayload("starting", nil))

	// --- Preconditions ---
	snapshot, err := e.jobs.Get(ctx, e.key.UserID, e.key.JobID)
	if err != nil || snapshot == nil {
		e.fail(ctx, ErrPreconditionNotMet, "Run deep research before composing the letter.")
		return
	}
	if e.kind == KindLetter {
		if strings.TrimSpace(snapshot.ResearchContent) == "" || strings.TrimSpace(opts.Tone) == "" {
			e.fail(ctx, ErrPreconditionNotMet, "Run deep research before composing the letter.")
			return
		}
	}

	// --- Charging ---
	if !charged {
		remaining, err := e.ledger.Deduct(ctx, e.key.UserID, PriceFor(e.kind))
		if m := observability.Current(); m != nil {
			status := "ok"
			if err != nil {
				status = "denied"
			}
			m.IncCreditOp("deduct", status)
		}
		if err != nil {
			e.failNoRefund(ctx, ErrInsufficientCredits, "Insufficient credits")
			return
		}
		e.mu.Lock()
		e.charged = true
		e.remaining = &remaining
		e.mu.Unlock()
		_, _ = e.store.Update(ctx, e.key.String(), func(s *RunState) { s.Meta.Charged = true })
		e.publish(ctx, statusPayload("charged", &remaining))
	}

	// --- LiveStreaming / Resuming / BackgroundPolling ---
	policy := NewResumePolicy(e.kind)
	policy.SetResponseID(responseID)

	result, streamErr := e.streamLoop(ctx, snapshot, policy)
	if streamErr != nil {
		e.handleTerminalError(ctx, streamErr)
		return
	}

	// --- Persisting ---
	e.persist(ctx, snapshot, result)
}

// streamResult is what the stream/resume/poll phases produce for Persisting.
type streamResult struct {
	rawBuffer  string
	responseID string
	usage      map[string]any
	preview    LetterPreview
}

func (e *Executor) streamLoop(ctx context.Context, snapshot *JobSnapshot, policy *ResumePolicy) (streamResult, error) {
	res := streamResult{}
	var sb strings.Builder
	quietIdx := -1
	lastTwo := [2]string{}

	publishQuiet := func() {
		msg := quietMessages[(quietIdx+1)%len(quietMessages)]
		quietIdx++
		if e.kind == KindResearch {
			for msg == lastTwo[0] || msg == lastTwo[1] {
				quietIdx++
				msg = quietMessages[quietIdx%len(quietMessages)]
			}
			lastTwo[0], lastTwo[1] = lastTwo[1], msg
		}
		e.publish(ctx, eventPayload(map[string]any{"kind": "quiet_period", "message": msg}))
	}

	var adapter *StreamAdapter
	openFresh := func() error {
		req := StreamRequest{Kind: e.kind, System: "", Input: buildModelInput(e.kind, snapshot, e.tone)}
		stream, err := e.model.CreateStream(ctx, req)
		if err != nil {
			return err
		}
		adapter = NewStreamAdapter(stream, InactivityBudget(e.kind))
		return nil
	}
	openResume := func(cursor string, fromStart bool) error {
		c := cursor
		if fromStart {
			c = ""
		}
		stream, err := e.model.ResumeStream(ctx, policy.ResponseID(), c, nil)
		if err != nil {
			return err
		}
		adapter = NewStreamAdapter(stream, InactivityBudget(e.kind))
		return nil
	}

	if policy.ResponseID() != "" {
		if err := openResume("", true); err != nil {
			return res, err
		}
	} else {
		if err := openFresh(); err != nil {
			return res, err
		}
	}

	backgroundPolling := false

	for {
		ev, ok, err := e.nextWithQuietPeriod(ctx, adapter, QuietPeriod, &backgroundPolling, publishQuiet)
		if err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("stream ended without response.completed")
			}
			decision, reason := policy.Decide(err)
			if reason == giveUpNonRecoverable {
				return res, err
			}
			if reason == giveUpResumeExhausted {
				if policy.ResponseID() == "" {
					return res, err
				}
				if !backgroundPolling {
					backgroundPolling = true
					e.publish(ctx, statusPayload("background_polling", nil))
				}
				poller := NewBackgroundPoller(e.model, e.kind)
				provResp, pollErr := poller.Poll(ctx, policy.ResponseID())
				if m := observability.Current(); m != nil {
					outcome := "ok"
					if pollErr != nil {
						outcome = "error"
					}
					m.IncBackgroundPoll(string(e.kind), outcome)
				}
				if pollErr != nil {
					return res, pollErr
				}
				switch provResp.State {
				case "completed", "":
					res.rawBuffer = provResp.Content
					res.responseID = policy.ResponseID()
					res.usage = provResp.Usage
					return res, nil
				default:
					msg := provResp.Error
					if msg == "" {
						msg = fmt.Sprintf("provider reported terminal state %q", provResp.State)
					}
					return res, fmt.Errorf("%w: %s", ErrProviderTerminal, msg)
				}
			}
			e.publish(ctx, decision.Notification)
			if m := observability.Current(); m != nil {
				resumeReason := "transport"
				if decision.Fresh {
					resumeReason = "missing_response"
				}
				m.IncResumeAttempt(string(e.kind), resumeReason)
			}
			if decision.WaitFor > 0 {
				t := time.NewTimer(decision.WaitFor)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return res, ctx.Err()
				}
			}
			if decision.Fresh {
				if err := openFresh(); err != nil {
					return res, err
				}
			} else {
				if err := openResume(decision.ResumeCursor, decision.FromStart); err != nil {
					return res, err
				}
			}
			continue
		}

		policy.Observe(ev)
		quietIdx = -1

		if ev.ResponseID != "" && policy.ResponseID() == "" {
			policy.SetResponseID(ev.ResponseID)
			_, _ = e.store.Update(ctx, e.key.String(), func(s *RunState) { s.ResponseID = ev.ResponseID })
			if e.kind == KindResearch {
				_, _ = e.jobs.Upsert(ctx, e.key.UserID, func(js *JobSnapshot) { js.ResearchResponseID = ev.ResponseID })
			} else {
				_, _ = e.jobs.Upsert(ctx, e.key.UserID, func(js *JobSnapshot) { js.LetterResponseID = ev.ResponseID })
			}
		}

		switch ev.Type {
		case "response.created", "response.queued":
			e.publish(ctx, statusPayload("queued", nil))
		case "response.in_progress":
			e.publish(ctx, statusPayload("in_progress", nil))
		case "response.output_text.delta":
			delta, _ := ev.Raw["delta"].(string)
			if snapshotText, ok := ev.Raw["snapshot"].(string); ok && e.kind == KindResearch {
				if len(snapshotText) > sb.Len() {
					sb.Reset()
					sb.WriteString(snapshotText)
				} else if delta != "" {
					sb.WriteString(delta)
				}
			} else if delta != "" {
				sb.WriteString(delta)
			}
			if e.kind == KindLetter {
				preview := ExtractLetterPreview(sb.String())
				res.preview = preview
				html := RenderLetterPreviewHTML(preview, nil)
				e.publish(ctx, StreamPayload{Kind: PayloadDelta, Text: delta})
				e.publish(ctx, StreamPayload{Kind: PayloadLetterDelta, HTML: html})
			} else {
				e.publish(ctx, StreamPayload{Kind: PayloadDelta, Text: delta})
			}
		case "response.output_text.done":
			// Final delta already published incrementally; nothing further to add
			// unless the buffer grew without an intervening delta event.
		case "response.failed", "response.incomplete":
			msg, _ := ev.Raw["message"].(string)
			if msg == "" {
				msg = fmt.Sprintf("provider reported %s", ev.Type)
			}
			return res, fmt.Errorf("%w: %s", ErrProviderTerminal, msg)
		case "response.completed":
			res.rawBuffer = sb.String()
			res.responseID = policy.ResponseID()
			if usage, ok := ev.Raw["usage"].(map[string]any); ok {
				res.usage = usage
			}
			return res, nil
		default:
			e.publish(ctx, eventPayload(ev.Raw))
		}
	}
}

// nextWithQuietPeriod waits for adapter's next event while independently
// firing publishQuiet every quietPeriod of inactivity (§4.6 step 3), reset on
// every inbound event. Quiet-period filler is suppressed once background
// polling has taken over the run (§4.5) since a poll cycle no longer has a
// live stream's quiet gaps to fill.
func (e *Executor) nextWithQuietPeriod(ctx context.Context, adapter *StreamAdapter, quietPeriod time.Duration, backgroundPolling *bool, publishQuiet func()) (ProviderEvent, bool, error) {
	type nextResult struct {
		ev  ProviderEvent
		ok  bool
		err error
	}
	resCh := make(chan nextResult, 1)
	go func() {
		ev, ok, err := adapter.Next(ctx)
		resCh <- nextResult{ev: ev, ok: ok, err: err}
	}()

	timer := time.NewTimer(quietPeriod)
	defer timer.Stop()
	for {
		select {
		case r := <-resCh:
			return r.ev, r.ok, r.err
		case <-timer.C:
			if !*backgroundPolling {
				publishQuiet()
			}
			timer.Reset(quietPeriod)
		}
	}
}

func buildModelInput(kind Kind, snapshot *JobSnapshot, tone string) string {
	if kind == KindResearch {
		return snapshot.IssueDescription
	}
	return fmt.Sprintf("Compose a %s-tone letter based on: %s", tone, snapshot.ResearchContent)
}

func (e *Executor) persist(ctx context.Context, snapshot *JobSnapshot, result streamResult) {
	remaining := e.remainingPtr()
	if e.kind == KindResearch {
		_, err := e.jobs.Upsert(ctx, e.key.UserID, func(js *JobSnapshot) {
			js.ResearchStatus = "completed"
			js.ResearchContent = result.rawBuffer
			js.ResearchResponseID = result.responseID
		})
		if err != nil {
			e.handleTerminalError(ctx, fmt.Errorf("persist research: %w", err))
			return
		}
		e.complete(ctx, StreamPayload{
			Kind: PayloadComplete, Content: result.rawBuffer, ResponseID: result.responseID,
			RemainingCredits: remaining, Usage: result.usage,
		})
		return
	}

	parsed, err := ParseLetterJSON(result.rawBuffer)
	if err != nil {
		e.handleTerminalError(ctx, err)
		return
	}
	profile, err := e.profiles.Get(ctx, e.key.UserID)
	if err != nil {
		e.handleTerminalError(ctx, fmt.Errorf("profile lookup: %w", err))
		return
	}
	merged := MergeProfile(parsed, profile)
	html := RenderLetterHTML(merged)

	_, err = e.jobs.Upsert(ctx, e.key.UserID, func(js *JobSnapshot) {
		js.LetterStatus = "completed"
		js.LetterContent = html
		js.LetterReferences = parsed.References
		js.LetterJSON = merged
		js.LetterResponseID = result.responseID
	})
	if err != nil {
		e.handleTerminalError(ctx, fmt.Errorf("persist letter: %w", err))
		return
	}
	e.complete(ctx, StreamPayload{
		Kind: PayloadComplete, Letter: merged, ResponseID: result.responseID,
		RemainingCredits: remaining, Usage: result.usage,
	})
}

func (e *Executor) complete(ctx context.Context, payload StreamPayload) {
	e.mu.Lock()
	e.settled = true
	e.mu.Unlock()
	_, _ = e.store.Update(ctx, e.key.String(), func(s *RunState) { s.Status = StatusCompleted })
	e.setStatus(StatusCompleted)
	e.publish(ctx, payload)
}

// userVisibleMessage maps terminal error sentinels to the short, stable
// catalog exposed to clients (§7); internal detail stays in the log only.
func userVisibleMessage(kind Kind, err error) string {
	switch {
	case errors.Is(err, ErrPreconditionNotMet):
		return "Run deep research before composing the letter."
	case errors.Is(err, ErrInsufficientCredits):
		return "Insufficient credits"
	case errors.Is(err, ErrTimeoutExceeded):
		if kind == KindResearch {
			return "Deep research timed out. Please try again."
		}
		return "Letter composition timed out. Please try again."
	case errors.Is(err, ErrOutputParseFailed):
		return "Letter composition failed. Please try again in a few moments."
	case errors.Is(err, ErrProviderTerminal):
		if kind == KindResearch {
			return "Deep research failed. Please try again."
		}
		return "Letter composition failed. Please try again in a few moments."
	default:
		if kind == KindResearch {
			return "Deep research failed. Please try again."
		}
		return "Letter composition failed. Please try again in a few moments."
	}
}

// handleTerminalError implements the Errored transition (§4.6 step 7):
// refund if charged and not yet settled, persist <kind>Status=error, emit
// error, close buffer.
func (e *Executor) handleTerminalError(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		// Cancel or MarkCancelledShutdown stopped the run and has already
		// settled the refund question and the store status.
		e.buf.Close()
		return
	}
	e.log.Warn("run terminated in error", "error", err)
	e.mu.Lock()
	charged := e.charged
	settled := e.settled
	e.settled = true
	e.mu.Unlock()

	if charged && !settled {
		if refundErr := e.ledger.Refund(ctx, e.key.UserID, PriceFor(e.kind)); refundErr != nil {
			e.log.Error("refund failed after terminal error", "error", refundErr)
			if m := observability.Current(); m != nil {
				m.IncCreditOp("refund", "error")
			}
		} else if m := observability.Current(); m != nil {
			m.IncCreditOp("refund", "ok")
		}
	}

	if e.kind == KindResearch {
		_, _ = e.jobs.Upsert(ctx, e.key.UserID, func(js *JobSnapshot) { js.ResearchStatus = "error" })
	} else {
		_, _ = e.jobs.Upsert(ctx, e.key.UserID, func(js *JobSnapshot) { js.LetterStatus = "error" })
	}

	_, _ = e.store.Update(ctx, e.key.String(), func(s *RunState) { s.Status = StatusError })
	e.setStatus(StatusError)
	e.publish(ctx, errorPayload(userVisibleMessage(e.kind, err), e.remainingPtr()))
}

func (e *Executor) fail(ctx context.Context, err error, message string) {
	_, _ = e.store.Remove(ctx, e.key.String())
	e.setStatus(StatusError)
	e.publish(ctx, errorPayload(message, nil))
}

func (e *Executor) failNoRefund(ctx context.Context, err error, message string) {
	_, _ = e.store.Remove(ctx, e.key.String())
	e.setStatus(StatusError)
	e.publish(ctx, errorPayload(message, nil))
}
