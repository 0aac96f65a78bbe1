package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brightfield-labs/writing-desk/internal/domain"
)

func SeedWritingJob(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID) *domain.WritingJob {
	tb.Helper()
	j := &domain.WritingJob{
		ID:          uuid.New(),
		OwnerUserID: userID,
		Phase:       "intake",
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed writing job: %v", err)
	}
	return j
}

func SeedCreditBalance(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, balance float64) *domain.CreditBalance {
	tb.Helper()
	b := &domain.CreditBalance{UserID: userID, Balance: balance}
	if err := tx.WithContext(ctx).Create(b).Error; err != nil {
		tb.Fatalf("seed credit balance: %v", err)
	}
	return b
}

func SeedSenderProfile(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID) *domain.SenderProfile {
	tb.Helper()
	p := &domain.SenderProfile{
		UserID:         userID,
		SenderName:     "Jane Doe",
		SenderAddress1: "1 Example Street",
		SenderCity:     "Exampleford",
		SenderPostcode: "EX4 1PL",
		MPName:         "A. Member",
		Constituency:   "Exampleford Central",
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed sender profile: %v", err)
	}
	return p
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }
