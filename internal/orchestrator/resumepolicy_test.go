package orchestrator

import (
	"errors"
	"testing"
)

func TestResumePolicyDecideGivesUpWithoutResponseID(t *testing.T) {
	t.Parallel()
	p := NewResumePolicy(KindResearch)
	_, reason := p.Decide(errors.New("connection reset by peer"))
	if reason != giveUpResumeExhausted {
		t.Fatalf("expected giveUpResumeExhausted with no known responseId, got %v", reason)
	}
}

func TestResumePolicyDecideResumesTransportFailureWithResponseID(t *testing.T) {
	t.Parallel()
	p := NewResumePolicy(KindLetter)
	p.SetResponseID("resp_123")

	decision, reason := p.Decide(errors.New("socket hang up"))
	if reason != giveUpNone {
		t.Fatalf("expected a resume decision, got reason=%v", reason)
	}
	if !decision.Resume {
		t.Fatal("expected Resume == true")
	}
	if decision.WaitFor <= 0 {
		t.Fatal("expected a positive backoff wait")
	}
	if p.Attempt() != 1 {
		t.Fatalf("attempt counter: got=%d want=1", p.Attempt())
	}
}

func TestResumePolicyGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	p := NewResumePolicy(KindResearch)
	p.SetResponseID("resp_123")
	for i := 0; i < MaxResumeAttempts; i++ {
		_, reason := p.Decide(errors.New("etimedout"))
		if reason != giveUpNone {
			t.Fatalf("gave up early on attempt %d: reason=%v", i+1, reason)
		}
	}
	_, reason := p.Decide(errors.New("etimedout"))
	if reason != giveUpResumeExhausted {
		t.Fatalf("expected giveUpResumeExhausted once MaxResumeAttempts exhausted, got %v", reason)
	}
}

func TestResumePolicyMissingResponseStartsFreshAndResetsAttempts(t *testing.T) {
	t.Parallel()
	p := NewResumePolicy(KindResearch)
	p.SetResponseID("resp_123")
	p.Decide(errors.New("socket hang up")) // bump attempt to 1

	decision, reason := p.Decide(errors.New("404 not found"))
	if reason != giveUpNone {
		t.Fatalf("missing-response should not give up, got reason=%v", reason)
	}
	if !decision.Fresh {
		t.Fatal("expected Fresh == true for missing response")
	}
	if p.ResponseID() != "" {
		t.Fatalf("responseId should be cleared, got %q", p.ResponseID())
	}
	if p.Attempt() != 0 {
		t.Fatalf("attempt counter should reset, got %d", p.Attempt())
	}
}

func TestResumePolicyNonRecoverableGivesUp(t *testing.T) {
	t.Parallel()
	p := NewResumePolicy(KindLetter)
	p.SetResponseID("resp_123")
	_, reason := p.Decide(errors.New("invalid request: malformed payload"))
	if reason != giveUpNonRecoverable {
		t.Fatalf("expected giveUpNonRecoverable on a non-recoverable error, got %v", reason)
	}
}

// A non-recoverable failure must be distinguished from a recoverable failure
// that has simply exhausted its resume budget: only the latter is eligible
// for background polling (§4.4 step 3).
func TestResumePolicyNonRecoverableDiffersFromResumeExhausted(t *testing.T) {
	t.Parallel()

	nonRecoverable := NewResumePolicy(KindLetter)
	nonRecoverable.SetResponseID("resp_123")
	_, reason := nonRecoverable.Decide(errors.New("invalid request: malformed payload"))
	if reason != giveUpNonRecoverable {
		t.Fatalf("expected giveUpNonRecoverable, got %v", reason)
	}

	exhausted := NewResumePolicy(KindLetter)
	exhausted.SetResponseID("resp_123")
	for i := 0; i < MaxResumeAttempts; i++ {
		if _, r := exhausted.Decide(errors.New("etimedout")); r != giveUpNone {
			t.Fatalf("gave up early on attempt %d: reason=%v", i+1, r)
		}
	}
	_, reason = exhausted.Decide(errors.New("etimedout"))
	if reason != giveUpResumeExhausted {
		t.Fatalf("expected giveUpResumeExhausted, got %v", reason)
	}

	if reason == giveUpNonRecoverable {
		t.Fatal("resume-exhausted must not be reported as non-recoverable")
	}
}

func TestResumePolicyObserveTracksCursorAndSequence(t *testing.T) {
	t.Parallel()
	p := NewResumePolicy(KindResearch)
	p.SetResponseID("resp_1")
	seq := int64(42)
	p.Observe(ProviderEvent{SequenceNumber: &seq, Cursor: "cur-a"})

	decision, reason := p.Decide(errors.New("connection reset"))
	if reason != giveUpNone {
		t.Fatalf("expected a resume decision, got reason=%v", reason)
	}
	if decision.ResumeCursor != "cur-a" {
		t.Fatalf("ResumeCursor: got=%q want=%q", decision.ResumeCursor, "cur-a")
	}
	if decision.FromStart {
		t.Fatal("should not resume from start once a cursor is known")
	}
}
