package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brightfield-labs/writing-desk/internal/domain"
	"github.com/brightfield-labs/writing-desk/internal/orchestrator"
	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

// ProfileLookupRepo backs orchestrator.ProfileLookup with the sender_profile
// table. A missing row is not an error: letter composition simply merges in
// blank sender/MP fields, which NormalizeTypography/MergeProfile tolerate.
type ProfileLookupRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProfileLookupRepo(db *gorm.DB, baseLog *logger.Logger) *ProfileLookupRepo {
	return &ProfileLookupRepo{db: db, log: baseLog.With("repo", "ProfileLookupRepo")}
}

var _ orchestrator.ProfileLookup = (*ProfileLookupRepo)(nil)

func (r *ProfileLookupRepo) Get(ctx context.Context, userID string) (*orchestrator.Profile, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	var row domain.SenderProfile
	err = r.db.WithContext(ctx).Where("user_id = ?", uid).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &orchestrator.Profile{Today: time.Now().Format("2 January 2006")}, nil
	}
	if err != nil {
		return nil, err
	}
	return &orchestrator.Profile{
		SenderName:     row.SenderName,
		SenderAddress1: row.SenderAddress1,
		SenderAddress2: row.SenderAddress2,
		SenderAddress3: row.SenderAddress3,
		SenderCity:     row.SenderCity,
		SenderCounty:   row.SenderCounty,
		SenderPostcode: row.SenderPostcode,
		SenderPhone:    row.SenderPhone,
		MPName:         row.MPName,
		MPAddress1:     row.MPAddress1,
		MPAddress2:     row.MPAddress2,
		MPCity:         row.MPCity,
		MPCounty:       row.MPCounty,
		MPPostcode:     row.MPPostcode,
		Constituency:   row.Constituency,
		Today:          time.Now().Format("2 January 2006"),
	}, nil
}
