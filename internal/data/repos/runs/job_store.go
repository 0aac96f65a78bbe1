// Package runs holds the GORM-backed collaborators the orchestrator drives
// its persistence through: the user's writing job, their credit balance, and
// their sender/MP profile.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/brightfield-labs/writing-desk/internal/domain"
	"github.com/brightfield-labs/writing-desk/internal/orchestrator"
	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

// JobStoreRepo backs orchestrator.JobStore with a writing_job row per user.
// Get narrows to jobID when one is given and otherwise takes the user's most
// recent job; Upsert always writes the user's most recent job.
type JobStoreRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobStoreRepo(db *gorm.DB, baseLog *logger.Logger) *JobStoreRepo {
	return &JobStoreRepo{db: db, log: baseLog.With("repo", "JobStoreRepo")}
}

var _ orchestrator.JobStore = (*JobStoreRepo)(nil)

func (r *JobStoreRepo) Get(ctx context.Context, userID, jobID string) (*orchestrator.JobSnapshot, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	var row domain.WritingJob
	q := r.db.WithContext(ctx).Where("owner_user_id = ?", uid)
	if jobID != "" {
		jid, err := uuid.Parse(jobID)
		if err != nil {
			return nil, fmt.Errorf("invalid job id: %w", err)
		}
		q = q.Where("id = ?", jid)
	}
	err = q.Order("created_at DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toSnapshot(row), nil
}

// Upsert loads the user's current job (creating one if none exists), applies
// patch, and writes back the full row. Reading immediately before writing
// under no explicit lock is a deliberate simplification: RunRegistry already
// guarantees at most one Executor drives a given (kind, user, job) at a time,
// so concurrent Upsert calls for the same job don't happen in practice.
func (r *JobStoreRepo) Upsert(ctx context.Context, userID string, patch func(*orchestrator.JobSnapshot)) (*orchestrator.JobSnapshot, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}

	var snap *orchestrator.JobSnapshot
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row domain.WritingJob
		ferr := tx.Where("owner_user_id = ?", uid).Order("created_at DESC").First(&row).Error
		switch {
		case errors.Is(ferr, gorm.ErrRecordNotFound):
			row = domain.WritingJob{ID: uuid.New(), OwnerUserID: uid, Phase: "intake"}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		case ferr != nil:
			return ferr
		}

		current := toSnapshot(row)
		patch(current)
		fromSnapshot(&row, *current)

		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		snap = toSnapshot(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func toSnapshot(row domain.WritingJob) *orchestrator.JobSnapshot {
	snap := &orchestrator.JobSnapshot{
		JobID:              row.ID.String(),
		Phase:              row.Phase,
		IssueDescription:   row.IssueDescription,
		Notes:              row.Notes,
		ResearchStatus:     row.ResearchStatus,
		ResearchContent:    row.ResearchContent,
		ResearchResponseID: row.ResearchResponseID,
		LetterStatus:       row.LetterStatus,
		LetterTone:         row.LetterTone,
		LetterContent:      row.LetterContent,
		LetterResponseID:   row.LetterResponseID,
	}
	if len(row.FollowUpQA) > 0 {
		var qa followUpQAView
		if err := json.Unmarshal(row.FollowUpQA, &qa); err == nil {
			snap.FollowUpQuestions = qa.Questions
			snap.FollowUpAnswers = qa.Answers
		}
	}
	if len(row.LetterReferences) > 0 {
		var refs []string
		if err := json.Unmarshal(row.LetterReferences, &refs); err == nil {
			snap.LetterReferences = refs
		}
	}
	if len(row.LetterFields) > 0 {
		var fields map[string]any
		if err := json.Unmarshal(row.LetterFields, &fields); err == nil {
			snap.LetterJSON = fields
		}
	}
	return snap
}

type followUpQAView struct {
	Questions []string `json:"questions"`
	Answers   []string `json:"answers"`
}

func fromSnapshot(row *domain.WritingJob, snap orchestrator.JobSnapshot) {
	row.Phase = snap.Phase
	row.IssueDescription = snap.IssueDescription
	row.Notes = snap.Notes
	row.ResearchStatus = snap.ResearchStatus
	row.ResearchContent = snap.ResearchContent
	row.ResearchResponseID = snap.ResearchResponseID
	row.LetterStatus = snap.LetterStatus
	row.LetterTone = snap.LetterTone
	row.LetterContent = snap.LetterContent
	row.LetterResponseID = snap.LetterResponseID

	if snap.FollowUpQuestions != nil || snap.FollowUpAnswers != nil {
		b, _ := json.Marshal(followUpQAView{Questions: snap.FollowUpQuestions, Answers: snap.FollowUpAnswers})
		row.FollowUpQA = datatypes.JSON(b)
	}
	if snap.LetterReferences != nil {
		b, _ := json.Marshal(snap.LetterReferences)
		row.LetterReferences = datatypes.JSON(b)
	}
	if snap.LetterJSON != nil {
		b, _ := json.Marshal(snap.LetterJSON)
		row.LetterFields = datatypes.JSON(b)
	}
}
