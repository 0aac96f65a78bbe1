package runs

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/brightfield-labs/writing-desk/internal/data/repos/testutil"
	"github.com/brightfield-labs/writing-desk/internal/orchestrator"
)

func approxEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCreditLedgerDeductCreatesZeroBalanceRowOnFirstUse(t *testing.T) {
	t.Parallel()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewCreditLedgerRepo(tx, testutil.Logger(t))
	userID := uuid.New()

	_, err := repo.Deduct(context.Background(), userID.String(), 0.70)
	if !errors.Is(err, orchestrator.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits against an implicit zero balance, got %v", err)
	}
}

func TestCreditLedgerDeductThenRefundRoundTrips(t *testing.T) {
	t.Parallel()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewCreditLedgerRepo(tx, testutil.Logger(t))
	userID := uuid.New()
	testutil.SeedCreditBalance(t, context.Background(), tx, userID, 1.0)

	remaining, err := repo.Deduct(context.Background(), userID.String(), 0.70)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if !approxEqual(remaining, 0.3) {
		t.Fatalf("remaining: got=%v want=0.3", remaining)
	}

	if err := repo.Refund(context.Background(), userID.String(), 0.70); err != nil {
		t.Fatalf("Refund: %v", err)
	}

	final, err := repo.Deduct(context.Background(), userID.String(), 1.0)
	if err != nil {
		t.Fatalf("Deduct after refund: %v", err)
	}
	if !approxEqual(final, 0.0) {
		t.Fatalf("final balance after refund+full deduct: got=%v want=0", final)
	}
}

func TestCreditLedgerDeductRejectsInsufficientBalanceWithoutMutating(t *testing.T) {
	t.Parallel()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewCreditLedgerRepo(tx, testutil.Logger(t))
	userID := uuid.New()
	testutil.SeedCreditBalance(t, context.Background(), tx, userID, 0.50)

	_, err := repo.Deduct(context.Background(), userID.String(), 0.70)
	if !errors.Is(err, orchestrator.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	remaining, err := repo.Deduct(context.Background(), userID.String(), 0.50)
	if err != nil {
		t.Fatalf("Deduct of exact remaining balance should succeed: %v", err)
	}
	if !approxEqual(remaining, 0) {
		t.Fatalf("remaining: got=%v want=0", remaining)
	}
}
