package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brightfield-labs/writing-desk/internal/orchestrator"
	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

// fakeRunStateStore is an in-memory RunStateStore good enough to back a real
// RunRegistry in a handler test without a Redis instance.
type fakeRunStateStore struct {
	mu     sync.Mutex
	states map[string]orchestrator.RunState
}

func newFakeRunStateStore() *fakeRunStateStore {
	return &fakeRunStateStore{states: make(map[string]orchestrator.RunState)}
}

func (s *fakeRunStateStore) Register(ctx context.Context, state orchestrator.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.RunKey] = state
	return nil
}

func (s *fakeRunStateStore) Update(ctx context.Context, runKey string, patch func(*orchestrator.RunState)) (*orchestrator.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[runKey]
	if !ok {
		return nil, nil
	}
	patch(&state)
	s.states[runKey] = state
	return &state, nil
}

func (s *fakeRunStateStore) Heartbeat(ctx context.Context, runKey string) error { return nil }

func (s *fakeRunStateStore) Get(ctx context.Context, runKey string) (*orchestrator.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[runKey]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *fakeRunStateStore) Remove(ctx context.Context, runKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, runKey)
	return nil
}

func (s *fakeRunStateStore) ListAll(ctx context.Context) ([]orchestrator.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orchestrator.RunState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	return out, nil
}

func (s *fakeRunStateStore) ListStale(ctx context.Context, threshold time.Duration) ([]orchestrator.RunState, error) {
	return nil, nil
}

// fakeLedger, fakeJobs, fakeProfiles, and fakeModel are the minimal
// collaborator stand-ins needed to exercise JobHandler against a real
// RunRegistry without a database or outbound model call.
type fakeLedger struct{}

func (fakeLedger) Deduct(ctx context.Context, userID string, amount float64) (float64, error) {
	return 0, orchestrator.ErrInsufficientCredits
}
func (fakeLedger) Refund(ctx context.Context, userID string, amount float64) error { return nil }

type fakeJobs struct{}

func (fakeJobs) Get(ctx context.Context, userID, jobID string) (*orchestrator.JobSnapshot, error) {
	return nil, nil
}
func (fakeJobs) Upsert(ctx context.Context, userID string, patch func(*orchestrator.JobSnapshot)) (*orchestrator.JobSnapshot, error) {
	snap := &orchestrator.JobSnapshot{}
	patch(snap)
	return snap, nil
}

type fakeProfiles struct{}

func (fakeProfiles) Get(ctx context.Context, userID string) (*orchestrator.Profile, error) {
	return &orchestrator.Profile{}, nil
}

type fakeModel struct{}

func (fakeModel) CreateStream(ctx context.Context, req orchestrator.StreamRequest) (orchestrator.ProviderStream, error) {
	return nil, context.Canceled
}
func (fakeModel) ResumeStream(ctx context.Context, responseID, cursor string, extras map[string]any) (orchestrator.ProviderStream, error) {
	return nil, context.Canceled
}
func (fakeModel) Retrieve(ctx context.Context, responseID string) (orchestrator.ProviderResponse, error) {
	return orchestrator.ProviderResponse{}, context.Canceled
}

type fakeRecorder struct{}

func (fakeRecorder) Record(ctx context.Context, key orchestrator.RunKey, seq int, payload orchestrator.StreamPayload) error {
	return nil
}

// newFakeRegistry builds a RunRegistry whose run for "job-1" fails fast with
// ErrPreconditionNotMet (no job on record), which is enough to exercise the
// handler's happy-path response shape without needing the run to ever reach
// a provider.
func newFakeRegistry(t *testing.T) *orchestrator.RunRegistry {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return orchestrator.NewRunRegistry(log, "test-instance", newFakeRunStateStore(), fakeLedger{}, fakeJobs{}, fakeProfiles{}, fakeModel{}, fakeRecorder{})
}
