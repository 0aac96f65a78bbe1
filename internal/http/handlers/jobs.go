package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brightfield-labs/writing-desk/internal/http/response"
	"github.com/brightfield-labs/writing-desk/internal/orchestrator"
	"github.com/brightfield-labs/writing-desk/internal/platform/apierr"
	"github.com/brightfield-labs/writing-desk/internal/platform/ctxutil"
	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

// JobHandler serves the writing-desk run endpoints (§6.1): start a research
// or letter run and stream its events back as server-sent events. Everything
// beyond extracting a pre-authenticated userId from context is delegated to
// RunRegistry.
type JobHandler struct {
	log      *logger.Logger
	registry *orchestrator.RunRegistry
}

func NewJobHandler(log *logger.Logger, registry *orchestrator.RunRegistry) *JobHandler {
	return &JobHandler{log: log.With("handler", "JobHandler"), registry: registry}
}

type startRequest struct {
	JobID  string `json:"jobId"`
	Tone   string `json:"tone"`
	Resume bool   `json:"resume"`
}

type startResponse struct {
	JobID      string `json:"jobId"`
	StreamPath string `json:"streamPath"`
}

func (h *JobHandler) StartResearch(c *gin.Context) { h.start(c, orchestrator.KindResearch) }
func (h *JobHandler) StartLetter(c *gin.Context)   { h.start(c, orchestrator.KindLetter) }

func (h *JobHandler) start(c *gin.Context, kind orchestrator.Kind) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthenticated", errors.New("missing caller identity"))
		return
	}

	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "malformed_request", err)
			return
		}
	}
	if kind == orchestrator.KindLetter && req.Tone == "" {
		req.Tone = c.Query("tone")
	}
	if !req.Resume {
		req.Resume = c.Query("resume") == "true"
	}

	if _, err := h.registry.Begin(c.Request.Context(), orchestrator.BeginOpts{
		UserID:  rd.UserID.String(),
		JobID:   req.JobID,
		Kind:    kind,
		Tone:    req.Tone,
		Restart: req.Resume,
	}); err != nil {
		h.respondStartError(c, err)
		return
	}

	key := orchestrator.RunKey{Kind: kind, UserID: rd.UserID.String(), JobID: req.JobID}
	response.RespondOK(c, startResponse{
		JobID:      req.JobID,
		StreamPath: fmt.Sprintf("/writing-desk/jobs/active/%s/stream?jobId=%s", kind, key.JobID),
	})
}

// Stream serves the SSE transport for a run identified by kind + jobId in
// the caller's own namespace. Reconnecting after the run's process has
// exited resolves ErrNoRunToResume, since subscriptions are served only from
// an in-process Executor's EventBuffer.
func (h *JobHandler) Stream(c *gin.Context, kind orchestrator.Kind) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthenticated", errors.New("missing caller identity"))
		return
	}
	jobID := c.Query("jobId")
	key := orchestrator.RunKey{Kind: kind, UserID: rd.UserID.String(), JobID: jobID}

	sub, err := h.registry.Subscribe(c.Request.Context(), key)
	if err != nil {
		h.respondStartError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, canFlush := c.Writer.(http.Flusher)
	done := c.Request.Context().Done()
	for {
		payload, ok := sub.Next(done)
		if !ok {
			return
		}
		body, merr := json.Marshal(payload)
		if merr != nil {
			h.log.Warn("marshal stream payload failed", "error", merr)
			continue
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", payload.Kind, body)
		if canFlush {
			flusher.Flush()
		}
	}
}

func (h *JobHandler) StreamResearch(c *gin.Context) { h.Stream(c, orchestrator.KindResearch) }
func (h *JobHandler) StreamLetter(c *gin.Context)   { h.Stream(c, orchestrator.KindLetter) }

func (h *JobHandler) respondStartError(c *gin.Context, err error) {
	mapped := mapOrchestratorError(err)
	response.RespondError(c, mapped.Status, mapped.Code, mapped.Err)
}

func mapOrchestratorError(err error) *apierr.Error {
	switch {
	case errors.Is(err, orchestrator.ErrPreconditionNotMet):
		return apierr.New(http.StatusBadRequest, "precondition_not_met", err)
	case errors.Is(err, orchestrator.ErrAlreadyRunning), errors.Is(err, orchestrator.ErrAlreadyActive):
		return apierr.New(http.StatusConflict, "already_running", err)
	case errors.Is(err, orchestrator.ErrInsufficientCredits):
		return apierr.New(http.StatusPaymentRequired, "insufficient_credits", err)
	case errors.Is(err, orchestrator.ErrNoRunToResume):
		return apierr.New(http.StatusNotFound, "no_run_to_resume", err)
	default:
		return apierr.New(http.StatusInternalServerError, "internal_error", err)
	}
}
