package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RunEventKind tags a RunEvent row; it mirrors orchestrator.PayloadKind but
// lives in the domain layer so the timeline table has no import dependency
// on the orchestrator package.
type RunEventKind string

const (
	RunEventStatus  RunEventKind = "status"
	RunEventDelta   RunEventKind = "delta"
	RunEventEvent   RunEventKind = "event"
	RunEventLetter  RunEventKind = "letter_delta"
	RunEventComplete RunEventKind = "complete"
	RunEventError   RunEventKind = "error"
)

// RunEvent is an append-only timeline of everything a run's EventBuffer
// ever published, persisted as an audit trail that outlives the Executor
// (the orchestrator's own EventBuffer only lives for the process lifetime of
// the Executor). No handler reads it back for a reconnecting client.
type RunEvent struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	RunKey      string         `gorm:"column:run_key;not null;index" json:"run_key"`
	OwnerUserID uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	JobID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"job_id"`
	Kind        string         `gorm:"column:kind;not null" json:"kind"`
	Sequence    int            `gorm:"column:sequence;not null" json:"sequence"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (RunEvent) TableName() string { return "run_event" }
