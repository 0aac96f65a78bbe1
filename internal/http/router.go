package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/brightfield-labs/writing-desk/internal/http/handlers"
	httpMW "github.com/brightfield-labs/writing-desk/internal/http/middleware"
	"github.com/brightfield-labs/writing-desk/internal/observability"
	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

// RouterConfig wires the two handlers this service exposes: health, and the
// writing-desk job surface (§6.1) backed by RunRegistry.
type RouterConfig struct {
	Log           *logger.Logger
	HealthHandler *httpH.HealthHandler
	JobHandler    *httpH.JobHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.AttachRequestContext())
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS())
	if m := observability.Current(); m != nil {
		r.Use(httpMW.Metrics(m))
	}
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	if cfg.JobHandler != nil {
		desk := r.Group("/writing-desk/jobs/active")
		desk.Use(httpMW.RequireUserID())
		desk.POST("/research/start", cfg.JobHandler.StartResearch)
		desk.POST("/letter/start", cfg.JobHandler.StartLetter)
		desk.GET("/research/stream", cfg.JobHandler.StreamResearch)
		desk.GET("/letter/stream", cfg.JobHandler.StreamLetter)
	}

	return r
}
