package orchestrator

import (
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// classification is the ResumePolicy's verdict on a streaming failure (§4.4).
type classification int

const (
	classNonRecoverable classification = iota
	classRecoverableTransport
	classMissingResponse
)

var transportErrnoSubstrings = []string{
	"econnreset", "econnaborted", "etimedout", "epipe", "enotfound",
}

var transportPhrases = []string{
	"premature close",
	"socket hang up",
	"connection reset",
	"connection closed",
	"reset by peer",
	"http/2 stream closed",
	"underlying socket was closed",
	"server hung up",
	"timed out",
	"fetch failed",
}

// classify inspects a streaming failure and decides how ResumePolicy should
// react. responseID is the currently-known responseId (if any), used to
// detect the "missing response" 404 case.
func classify(err error, responseID string) classification {
	if err == nil {
		return classNonRecoverable
	}
	msg := strings.ToLower(err.Error())

	if responseID != "" && strings.Contains(msg, "404") && strings.Contains(msg, "not found") {
		return classMissingResponse
	}
	if errors.Is(err, ErrTimeoutExceeded) {
		return classRecoverableTransport
	}
	for _, sub := range transportErrnoSubstrings {
		if strings.Contains(msg, sub) {
			return classRecoverableTransport
		}
	}
	for _, phrase := range transportPhrases {
		if strings.Contains(msg, phrase) {
			return classRecoverableTransport
		}
	}
	return classNonRecoverable
}

// resumeMessages is the fixed, rotated catalog of human-readable resume
// notifications (§9: quiet-period/resume messages are UX, not protocol).
var resumeMessages = []string{
	"Reconnecting to the provider…",
	"Connection dropped, picking back up…",
	"Network hiccup, resuming the stream…",
}

// ResumePolicy decides, given a streaming failure, whether and how to
// recover, tracking the attempt counter and the cursor/sequence state needed
// to resume from the right point.
type ResumePolicy struct {
	kind   Kind
	attempt int

	lastSequenceNumber *int64
	lastCursor         string
	responseID         string
}

func NewResumePolicy(kind Kind) *ResumePolicy {
	return &ResumePolicy{kind: kind}
}

func (p *ResumePolicy) Attempt() int { return p.attempt }

func (p *ResumePolicy) SetResponseID(id string) {
	if id != "" {
		p.responseID = id
	}
}

func (p *ResumePolicy) ResponseID() string { return p.responseID }

// Observe tracks cursor/sequence progress off a successfully-processed event.
func (p *ResumePolicy) Observe(ev ProviderEvent) {
	if ev.SequenceNumber != nil {
		p.lastSequenceNumber = ev.SequenceNumber
	}
	if ev.Cursor != "" {
		p.lastCursor = ev.Cursor
	}
}

// ResumeDecision is what Decide returns: either a resumed stream should be
// opened (Resume == true, with ResumeCursor/FromStart describing how), a
// fresh stream should be started from scratch (Fresh == true), or the caller
// should give up on live streaming (both false), per GiveUpReason.
type ResumeDecision struct {
	Resume       bool
	Fresh        bool
	ResumeCursor string // "" plus FromStart==true means "from start"
	FromStart    bool
	Notification StreamPayload
	WaitFor      time.Duration
}

// GiveUpReason distinguishes why Decide gave up on live streaming, since the
// two cases have different fallbacks (§4.4 step 3): a non-recoverable
// failure must fail the run outright, while a recoverable failure that has
// exhausted its resume budget (or never captured a responseId to resume
// from) falls back to background polling when a responseId is known.
type GiveUpReason int

const (
	giveUpNone GiveUpReason = iota
	giveUpNonRecoverable
	giveUpResumeExhausted
)

// Decide implements the algorithm of §4.4. reason is giveUpNone while live
// streaming should continue (Resume or Fresh describes how); otherwise it
// tells the caller whether the failure was non-recoverable (fail the run
// immediately, never background-poll) or a recoverable failure whose resume
// budget ran out (eligible for background polling if a responseId is known).
func (p *ResumePolicy) Decide(err error) (decision ResumeDecision, reason GiveUpReason) {
	switch classify(err, p.responseID) {
	case classMissingResponse:
		p.responseID = ""
		p.attempt = 0
		p.lastCursor = ""
		p.lastSequenceNumber = nil
		return ResumeDecision{
			Fresh: true,
			Notification: eventPayload(map[string]any{
				"kind":    "resume_attempt",
				"message": "Response expired upstream; starting a fresh stream…",
			}),
		}, giveUpNone

	case classRecoverableTransport:
		if p.responseID == "" {
			return ResumeDecision{}, giveUpResumeExhausted
		}
		if p.attempt >= MaxResumeAttempts {
			return ResumeDecision{}, giveUpResumeExhausted
		}
		p.attempt++
		wait := backoff(p.attempt)
		cursor := p.lastCursor
		fromStart := cursor == ""
		if fromStart && p.lastSequenceNumber != nil {
			cursor = strconv.FormatInt(*p.lastSequenceNumber, 10)
			fromStart = false
		}
		msg := resumeMessages[(p.attempt-1)%len(resumeMessages)]
		return ResumeDecision{
			Resume:       true,
			ResumeCursor: cursor,
			FromStart:    fromStart,
			WaitFor:      wait,
			Notification: eventPayload(map[string]any{
				"kind":    "resume_attempt",
				"attempt": p.attempt,
				"message": msg,
			}),
		}, giveUpNone

	default:
		return ResumeDecision{}, giveUpNonRecoverable
	}
}

// backoff computes min(1000*2^(attempt-1), 5000)ms plus [0,300)ms jitter.
func backoff(attempt int) time.Duration {
	base := int64(1000)
	for i := 1; i < attempt; i++ {
		base *= 2
		if base >= 5000 {
			base = 5000
			break
		}
	}
	if base > 5000 {
		base = 5000
	}
	jitter := rand.Int63n(300)
	return time.Duration(base+jitter) * time.Millisecond
}
