package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/brightfield-labs/writing-desk/internal/data/db"
	"github.com/brightfield-labs/writing-desk/internal/data/repos/runs"
	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
	"github.com/brightfield-labs/writing-desk/internal/platform/openai"
	"github.com/brightfield-labs/writing-desk/internal/orchestrator"
)

// Clients wires every external collaborator the orchestrator and its HTTP
// surface need: Postgres for durable job/credit/profile/timeline state,
// Redis for cross-instance run-state coordination, and the reasoning
// provider for streaming.
type Clients struct {
	Postgres *db.PostgresService
	DB       *gorm.DB

	RunStateStore orchestrator.RunStateStore
	JobStore      orchestrator.JobStore
	CreditLedger  orchestrator.CreditLedger
	Profiles      orchestrator.ProfileLookup
	EventRecorder orchestrator.EventRecorder
	Model         orchestrator.ModelClient
}

func wireClients(ctx context.Context, log *logger.Logger) (Clients, error) {
	log.Info("wiring clients...")

	var out Clients

	pg, err := db.NewPostgresService(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init postgres: %w", err)
	}
	out.Postgres = pg
	out.DB = pg.DB()

	if err := db.AutoMigrateAll(out.DB); err != nil {
		return Clients{}, fmt.Errorf("automigrate: %w", err)
	}
	if err := db.EnsureIndexes(out.DB); err != nil {
		return Clients{}, fmt.Errorf("ensure indexes: %w", err)
	}

	store, err := orchestrator.NewRedisRunStateStore(ctx, log)
	if err != nil {
		return Clients{}, fmt.Errorf("init run state store: %w", err)
	}
	out.RunStateStore = store

	out.JobStore = runs.NewJobStoreRepo(out.DB, log)
	out.CreditLedger = runs.NewCreditLedgerRepo(out.DB, log)
	out.Profiles = runs.NewProfileLookupRepo(out.DB, log)
	out.EventRecorder = runs.NewEventRecorderRepo(out.DB, log)

	model, err := openai.NewResponsesModelClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init responses model client: %w", err)
	}
	out.Model = model

	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	c.RunStateStore = nil
	c.JobStore = nil
	c.CreditLedger = nil
	c.Profiles = nil
	c.EventRecorder = nil
	c.Model = nil
}
