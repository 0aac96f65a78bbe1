// Package app wires the writing-desk service together: clients, the
// orchestrator's RunRegistry, HTTP handlers/router, and the background
// recovery/sweep loops RunRegistry needs at boot and during its lifetime.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brightfield-labs/writing-desk/internal/orchestrator"
	"github.com/brightfield-labs/writing-desk/internal/platform/envutil"
	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

type App struct {
	Log *logger.Logger

	clients  Clients
	registry *orchestrator.RunRegistry
	router   *gin.Engine

	sweepCancel context.CancelFunc
}

// New wires every collaborator and returns an App ready to Start.
func New() (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	ctx := context.Background()
	clients, err := wireClients(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("wire clients: %w", err)
	}

	instanceID := envutil.String("INSTANCE_ID", uuid.NewString())
	registry := orchestrator.NewRunRegistry(
		log, instanceID,
		clients.RunStateStore, clients.CreditLedger, clients.JobStore, clients.Profiles, clients.Model,
		clients.EventRecorder,
	)

	handlers := wireHandlers(log, registry)
	router := wireRouter(log, handlers)

	return &App{
		Log:      log,
		clients:  clients,
		registry: registry,
		router:   router,
	}, nil
}

// Start recovers any in-flight runs this instance owned before a restart and
// begins the periodic orphan sweep. Both run for the lifetime of the
// process; Close stops the sweep loop and marks live runs cancelled without
// refund. A cancelled run is terminal and is not resumed afterwards.
func (a *App) Start() {
	ctx := context.Background()
	if err := a.registry.RecoverFromStore(ctx); err != nil {
		a.Log.Warn("RecoverFromStore failed", "error", err)
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	a.sweepCancel = cancel
	go a.registry.RunSweepLoop(sweepCtx)
}

func (a *App) Run(address string) error {
	return a.router.Run(address)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.sweepCancel != nil {
		a.sweepCancel()
	}
	if a.registry != nil {
		a.registry.Shutdown(context.Background())
	}
	a.clients.Close()
}
