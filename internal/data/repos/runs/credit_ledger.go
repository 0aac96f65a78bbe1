package runs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/brightfield-labs/writing-desk/internal/domain"
	"github.com/brightfield-labs/writing-desk/internal/orchestrator"
	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

// CreditLedgerRepo backs orchestrator.CreditLedger with an atomic
// compare-and-decrement against credit_balance, so two concurrent Deduct
// calls for the same user can never both succeed against an insufficient
// balance (the UPDATE ... WHERE balance >= amount only matches once).
type CreditLedgerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCreditLedgerRepo(db *gorm.DB, baseLog *logger.Logger) *CreditLedgerRepo {
	return &CreditLedgerRepo{db: db, log: baseLog.With("repo", "CreditLedgerRepo")}
}

var _ orchestrator.CreditLedger = (*CreditLedgerRepo)(nil)

func (r *CreditLedgerRepo) Deduct(ctx context.Context, userID string, amount float64) (float64, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return 0, fmt.Errorf("invalid user id: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.CreditBalance{UserID: uid, Balance: 0}).Error; err != nil {
		return 0, err
	}

	res := r.db.WithContext(ctx).Model(&domain.CreditBalance{}).
		Where("user_id = ? AND balance >= ?", uid, amount).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, orchestrator.ErrInsufficientCredits
	}

	var bal domain.CreditBalance
	if err := r.db.WithContext(ctx).Where("user_id = ?", uid).First(&bal).Error; err != nil {
		return 0, err
	}
	return bal.Balance, nil
}

func (r *CreditLedgerRepo) Refund(ctx context.Context, userID string, amount float64) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	return r.db.WithContext(ctx).Model(&domain.CreditBalance{}).
		Where("user_id = ?", uid).
		UpdateColumn("balance", gorm.Expr("balance + ?", amount)).Error
}
