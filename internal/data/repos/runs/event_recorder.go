package runs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/brightfield-labs/writing-desk/internal/domain"
	"github.com/brightfield-labs/writing-desk/internal/orchestrator"
	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

// EventRecorderRepo backs orchestrator.EventRecorder with an append-only
// run_event table, a durable audit trail that outlives the Executor that
// produced it. Nothing in this service serves it back to clients.
type EventRecorderRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventRecorderRepo(db *gorm.DB, baseLog *logger.Logger) *EventRecorderRepo {
	return &EventRecorderRepo{db: db, log: baseLog.With("repo", "EventRecorderRepo")}
}

var _ orchestrator.EventRecorder = (*EventRecorderRepo)(nil)

func (r *EventRecorderRepo) Record(ctx context.Context, key orchestrator.RunKey, seq int, payload orchestrator.StreamPayload) error {
	uid, err := uuid.Parse(key.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	jid, err := uuid.Parse(key.JobID)
	if err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	row := domain.RunEvent{
		ID:          uuid.New(),
		RunKey:      key.String(),
		OwnerUserID: uid,
		JobID:       jid,
		Kind:        string(payload.Kind),
		Sequence:    seq,
		Payload:     datatypes.JSON(body),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}
