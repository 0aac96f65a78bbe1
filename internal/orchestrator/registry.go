package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

// BeginOpts are the caller-supplied parameters to RunRegistry.Begin.
type BeginOpts struct {
	UserID string
	JobID  string
	Kind   Kind
	Tone   string
	// Restart, if true, cancels any existing in-flight run for this key
	// before starting a new one instead of returning ErrAlreadyRunning.
	Restart bool
}

// RunRegistry is the single process-local authority on which runs are
// in-flight. It is the only component allowed to construct an Executor and
// is the tie-breaker against RunStateStore on any discrepancy (§4.7, §5).
type RunRegistry struct {
	log   *logger.Logger
	mu    sync.Mutex
	execs map[string]*Executor

	instanceID string
	store      RunStateStore
	ledger     CreditLedger
	jobs       JobStore
	profiles   ProfileLookup
	model      ModelClient
	recorder   EventRecorder

	group singleflight.Group
}

func NewRunRegistry(log *logger.Logger, instanceID string, store RunStateStore, ledger CreditLedger, jobs JobStore, profiles ProfileLookup, model ModelClient, recorder EventRecorder) *RunRegistry {
	return &RunRegistry{
		log:        log.With("component", "RunRegistry"),
		execs:      make(map[string]*Executor),
		instanceID: instanceID,
		store:      store,
		ledger:     ledger,
		jobs:       jobs,
		profiles:   profiles,
		model:      model,
		recorder:   recorder,
	}
}

// Begin starts the run for opts. It does not attach to a live run: while a
// non-terminal in-process Executor exists for the key, Begin returns
// ErrAlreadyRunning unless opts.Restart is set, in which case that Executor
// is cancelled and replaced; a live run is reached through Subscribe
// instead. Concurrent callers racing
// on the same key are serialized through a singleflight group so only one
// Executor is ever constructed per key, matching the "at most one active run
// per (kind, user, job)" invariant (§3).
func (r *RunRegistry) Begin(ctx context.Context, opts BeginOpts) (*Executor, error) {
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("%w: invalid kind", ErrPreconditionNotMet)
	}
	key := RunKey{Kind: opts.Kind, UserID: opts.UserID, JobID: opts.JobID}
	keyStr := key.String()

	v, err, _ := r.group.Do(keyStr, func() (any, error) {
		r.mu.Lock()
		existing, inProcess := r.execs[keyStr]
		r.mu.Unlock()

		if inProcess && !existing.Status().Terminal() {
			if !opts.Restart {
				return nil, ErrAlreadyRunning
			}
			existing.Cancel(ctx)
			r.mu.Lock()
			delete(r.execs, keyStr)
			r.mu.Unlock()
		}

		resumeFrom, err := r.resolveResume(ctx, keyStr, opts.Restart)
		if err != nil {
			return nil, err
		}

		exec := NewExecutor(r.log, key, r.instanceID, r.store, r.ledger, r.jobs, r.profiles, r.model).WithRecorder(r.recorder)
		r.mu.Lock()
		r.execs[keyStr] = exec
		r.mu.Unlock()

		exec.Start(ctx, StartOpts{UserID: opts.UserID, JobID: opts.JobID, Kind: opts.Kind, Tone: opts.Tone, Resume: resumeFrom})
		return exec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Executor), nil
}

// resolveResume consults RunStateStore for an existing entry under keyStr.
// A non-terminal entry owned by another instance whose heartbeat is within
// OrphanThreshold blocks a fresh start (ErrAlreadyActive) unless restart was
// requested. Any other non-terminal entry (orphaned, or owned by this
// instance) is resumed in place; a terminal entry yields a fresh start.
func (r *RunRegistry) resolveResume(ctx context.Context, keyStr string, restart bool) (*ResumeFromState, error) {
	state, err := r.store.Get(ctx, keyStr)
	if err != nil {
		return nil, fmt.Errorf("RunStateStore.Get: %w", err)
	}
	if state == nil {
		return nil, nil
	}
	if state.Status.Terminal() {
		return nil, nil
	}
	if restart {
		_ = r.store.Remove(ctx, keyStr)
		return nil, nil
	}
	// Running and owned by this or another instance: treat as resumable
	// unless it's actively heartbeating on a live instance, in which case
	// it's a genuine duplicate start attempt.
	age := time.Since(time.UnixMilli(state.LastHeartbeatAt))
	if age <= OrphanThreshold && state.InstanceID != r.instanceID {
		return nil, ErrAlreadyActive
	}
	remaining := state.Meta.RemainingCredits
	return &ResumeFromState{
		ResponseID:       state.ResponseID,
		Charged:          state.Meta.Charged,
		RemainingCredits: remaining,
	}, nil
}

// Subscribe returns the EventBuffer subscription for a run this instance has
// an in-process Executor for, or ErrNoRunToResume otherwise. A run recorded
// in RunStateStore but owned by a different instance isn't subscribable
// here; the caller resumes it through Begin instead.
func (r *RunRegistry) Subscribe(ctx context.Context, key RunKey) (*Subscription, error) {
	keyStr := key.String()
	r.mu.Lock()
	exec, ok := r.execs[keyStr]
	r.mu.Unlock()
	if ok {
		sub := exec.Buffer().Subscribe()
		return sub, nil
	}

	return nil, ErrNoRunToResume
}

// Status reports the in-process status of key, if any Executor is live for
// it; ok is false if this instance has no in-memory record.
func (r *RunRegistry) Status(key RunKey) (status RunStatus, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, found := r.execs[key.String()]
	if !found {
		return "", false
	}
	return exec.Status(), true
}

// Cancel cancels the in-process run for key, if any.
func (r *RunRegistry) Cancel(ctx context.Context, key RunKey) {
	r.mu.Lock()
	exec, ok := r.execs[key.String()]
	r.mu.Unlock()
	if ok {
		exec.Cancel(ctx)
	}
}

// Shutdown marks every in-process run cancelled without refund (graceful
// shutdown semantics, §9 open question (a)). A cancelled entry is terminal:
// neither Begin nor RecoverFromStore resumes it afterwards, on this or any
// other instance.
func (r *RunRegistry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	execs := make([]*Executor, 0, len(r.execs))
	for _, e := range r.execs {
		execs = append(execs, e)
	}
	r.mu.Unlock()
	for _, e := range execs {
		if !e.Status().Terminal() {
			e.MarkCancelledShutdown(ctx)
		}
	}
}

// reap drops a terminal executor out of the in-process map, bounding memory
// use (§4.6 "Cleanup"). It does not wait for subscribers to drain the buffer.
func (r *RunRegistry) reap(keyStr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exec, ok := r.execs[keyStr]; ok && exec.Status().Terminal() {
		delete(r.execs, keyStr)
	}
}

// RecoverFromStore is invoked once at process startup: it scans
// RunStateStore for non-terminal entries owned by this instance (left
// behind by a previous process under the same instanceID, e.g. a restart
// without a clean shutdown) and resumes each as a live Executor. Entries
// owned by other instances are left alone; they will be picked up by their
// own owning process or reaped by Sweep once orphaned long enough.
func (r *RunRegistry) RecoverFromStore(ctx context.Context) error {
	all, err := r.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("RunStateStore.ListAll: %w", err)
	}
	for _, state := range all {
		if state.Status.Terminal() || state.InstanceID != r.instanceID {
			continue
		}
		key := RunKey{Kind: state.Kind, UserID: state.UserID, JobID: state.JobID}
		keyStr := key.String()
		r.mu.Lock()
		_, already := r.execs[keyStr]
		r.mu.Unlock()
		if already {
			continue
		}
		r.log.Info("recovering run from store", "run_key", keyStr)
		exec := NewExecutor(r.log, key, r.instanceID, r.store, r.ledger, r.jobs, r.profiles, r.model).WithRecorder(r.recorder)
		r.mu.Lock()
		r.execs[keyStr] = exec
		r.mu.Unlock()
		remaining := state.Meta.RemainingCredits
		exec.Start(ctx, StartOpts{
			UserID: state.UserID, JobID: state.JobID, Kind: state.Kind, Tone: state.Meta.Tone,
			Resume: &ResumeFromState{ResponseID: state.ResponseID, Charged: state.Meta.Charged, RemainingCredits: remaining},
		})
	}
	return nil
}

// Sweep runs on SweepInterval: it reaps terminal in-process executors and
// removes orphaned RunStateStore entries (running, heartbeat stale beyond
// CleanupTTL, not owned by any live in-process Executor) so crashed runs
// don't linger in the store forever (§4.6 "Cleanup", SweepInterval).
func (r *RunRegistry) Sweep(ctx context.Context) {
	r.mu.Lock()
	keys := make([]string, 0, len(r.execs))
	for keyStr := range r.execs {
		keys = append(keys, keyStr)
	}
	r.mu.Unlock()
	for _, keyStr := range keys {
		r.reap(keyStr)
	}

	stale, err := r.store.ListStale(ctx, CleanupTTL)
	if err != nil {
		r.log.Warn("Sweep: ListStale failed", "error", err)
		return
	}
	for _, state := range stale {
		r.mu.Lock()
		_, live := r.execs[state.RunKey]
		r.mu.Unlock()
		if live {
			continue
		}
		r.log.Info("sweeping orphaned run state", "run_key", state.RunKey)
		if err := r.store.Remove(ctx, state.RunKey); err != nil {
			r.log.Warn("Sweep: Remove failed", "run_key", state.RunKey, "error", err)
		}
	}
}

// RunSweepLoop blocks until ctx is cancelled, calling Sweep every
// SweepInterval. Intended to run as its own goroutine started at boot.
func (r *RunRegistry) RunSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}
