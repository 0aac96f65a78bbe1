package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brightfield-labs/writing-desk/internal/orchestrator"
	"github.com/brightfield-labs/writing-desk/internal/platform/ctxutil"
	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

func withRequestData(rd *ctxutil.RequestData) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(ctxutil.WithRequestData(c.Request.Context(), rd))
		c.Next()
	}
}

func TestStartRejectsUnauthenticatedCaller(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	h := NewJobHandler(log, nil)

	r := gin.New()
	r.POST("/writing-desk/jobs/active/research/start", h.StartResearch)

	req := httptest.NewRequest(http.MethodPost, "/writing-desk/jobs/active/research/start", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got=%d want=%d", rec.Code, http.StatusUnauthorized)
	}
}

func TestStartResearchBuildsStreamPathOnSuccess(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	userID := uuid.New()
	reg := newFakeRegistry(t)
	h := NewJobHandler(log, reg)

	r := gin.New()
	r.Use(withRequestData(&ctxutil.RequestData{UserID: userID}))
	r.POST("/writing-desk/jobs/active/research/start", h.StartResearch)

	body, _ := json.Marshal(map[string]any{"jobId": "job-1"})
	req := httptest.NewRequest(http.MethodPost, "/writing-desk/jobs/active/research/start", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got=%d want=%d body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp startResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	want := "/writing-desk/jobs/active/research/stream?jobId=job-1"
	if resp.StreamPath != want {
		t.Fatalf("StreamPath: got=%q want=%q", resp.StreamPath, want)
	}
}

func TestMapOrchestratorErrorStatusCodes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{orchestrator.ErrPreconditionNotMet, http.StatusBadRequest},
		{orchestrator.ErrAlreadyRunning, http.StatusConflict},
		{orchestrator.ErrAlreadyActive, http.StatusConflict},
		{orchestrator.ErrInsufficientCredits, http.StatusPaymentRequired},
		{orchestrator.ErrNoRunToResume, http.StatusNotFound},
	}
	for _, c := range cases {
		if got := mapOrchestratorError(c.err).Status; got != c.want {
			t.Fatalf("mapOrchestratorError(%v).Status: got=%d want=%d", c.err, got, c.want)
		}
	}
}
