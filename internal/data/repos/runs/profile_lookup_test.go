package runs

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/brightfield-labs/writing-desk/internal/data/repos/testutil"
)

func TestProfileLookupReturnsBlankProfileWhenNoneExists(t *testing.T) {
	t.Parallel()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewProfileLookupRepo(tx, testutil.Logger(t))

	profile, err := repo.Get(context.Background(), uuid.New().String())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if profile == nil {
		t.Fatal("expected a blank profile, not nil")
	}
	if profile.SenderName != "" {
		t.Fatalf("SenderName: got=%q want=empty", profile.SenderName)
	}
	if strings.TrimSpace(profile.Today) == "" {
		t.Fatal("Today must always be populated, even for a blank profile")
	}
}

func TestProfileLookupReturnsSeededProfile(t *testing.T) {
	t.Parallel()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewProfileLookupRepo(tx, testutil.Logger(t))
	userID := uuid.New()
	testutil.SeedSenderProfile(t, context.Background(), tx, userID)

	profile, err := repo.Get(context.Background(), userID.String())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if profile.SenderName != "Jane Doe" {
		t.Fatalf("SenderName: got=%q want=%q", profile.SenderName, "Jane Doe")
	}
	if profile.MPName != "A. Member" {
		t.Fatalf("MPName: got=%q want=%q", profile.MPName, "A. Member")
	}
}
