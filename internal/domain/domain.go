// Package domain re-exports the persisted record types the orchestrator and
// its HTTP surface share, so callers write `domain.WritingJob` rather than
// reaching into the jobs subpackage directly.
package domain

import "github.com/brightfield-labs/writing-desk/internal/domain/jobs"

type WritingJob = jobs.WritingJob
type CreditBalance = jobs.CreditBalance
type SenderProfile = jobs.SenderProfile
type RunEvent = jobs.RunEvent

type RunEventKind = jobs.RunEventKind

const (
	RunEventStatus   = jobs.RunEventStatus
	RunEventDelta    = jobs.RunEventDelta
	RunEventEvent    = jobs.RunEventEvent
	RunEventLetter   = jobs.RunEventLetter
	RunEventComplete = jobs.RunEventComplete
	RunEventError    = jobs.RunEventError
)
