package runs

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/brightfield-labs/writing-desk/internal/data/repos/testutil"
	"github.com/brightfield-labs/writing-desk/internal/domain"
	"github.com/brightfield-labs/writing-desk/internal/orchestrator"
)

func TestEventRecorderRecordPersistsPayloadInOrder(t *testing.T) {
	t.Parallel()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewEventRecorderRepo(tx, testutil.Logger(t))

	userID, jobID := uuid.New(), uuid.New()
	key := orchestrator.RunKey{Kind: orchestrator.KindResearch, UserID: userID.String(), JobID: jobID.String()}

	if err := repo.Record(context.Background(), key, 1, orchestrator.StreamPayload{Kind: orchestrator.PayloadStatus, State: "starting"}); err != nil {
		t.Fatalf("Record seq 1: %v", err)
	}
	if err := repo.Record(context.Background(), key, 2, orchestrator.StreamPayload{Kind: orchestrator.PayloadDelta, Text: "Dear"}); err != nil {
		t.Fatalf("Record seq 2: %v", err)
	}

	var rows []domain.RunEvent
	if err := tx.Where("run_key = ?", key.String()).Order("sequence ASC").Find(&rows).Error; err != nil {
		t.Fatalf("query run_event: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("row count: got=%d want=2", len(rows))
	}
	if rows[0].Sequence != 1 || rows[0].Kind != string(orchestrator.PayloadStatus) {
		t.Fatalf("row 0: got seq=%d kind=%q", rows[0].Sequence, rows[0].Kind)
	}
	if rows[1].Sequence != 2 || rows[1].Kind != string(orchestrator.PayloadDelta) {
		t.Fatalf("row 1: got seq=%d kind=%q", rows[1].Sequence, rows[1].Kind)
	}
	if rows[0].OwnerUserID != userID || rows[0].JobID != jobID {
		t.Fatalf("owner/job ids not persisted correctly: %+v", rows[0])
	}
}

func TestEventRecorderRejectsInvalidUserID(t *testing.T) {
	t.Parallel()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewEventRecorderRepo(tx, testutil.Logger(t))

	key := orchestrator.RunKey{Kind: orchestrator.KindLetter, UserID: "not-a-uuid", JobID: uuid.New().String()}
	if err := repo.Record(context.Background(), key, 1, orchestrator.StreamPayload{Kind: orchestrator.PayloadStatus}); err == nil {
		t.Fatal("expected an error for an invalid user id")
	}
}
