package app

import (
	"github.com/gin-gonic/gin"

	"github.com/brightfield-labs/writing-desk/internal/http"
	httpH "github.com/brightfield-labs/writing-desk/internal/http/handlers"
	"github.com/brightfield-labs/writing-desk/internal/orchestrator"
	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

type Handlers struct {
	Health *httpH.HealthHandler
	Job    *httpH.JobHandler
}

func wireHandlers(log *logger.Logger, registry *orchestrator.RunRegistry) Handlers {
	log.Info("wiring handlers...")
	return Handlers{
		Health: httpH.NewHealthHandler(),
		Job:    httpH.NewJobHandler(log, registry),
	}
}

func wireRouter(log *logger.Logger, handlers Handlers) *gin.Engine {
	return http.NewRouter(http.RouterConfig{
		Log:           log,
		HealthHandler: handlers.Health,
		JobHandler:    handlers.Job,
	})
}
