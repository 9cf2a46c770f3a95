package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/OpenNSW/batchrun/internal/task"
	"github.com/OpenNSW/batchrun/internal/task/manager"
	"github.com/OpenNSW/batchrun/internal/task/persistence"
	"github.com/OpenNSW/batchrun/utils"
)

const maxRequestBytes = 8 << 20

// APIResponse is the envelope of every API response.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CreateRunRequest is the body of POST /api/runs.
type CreateRunRequest struct {
	Action      string   `json:"action" binding:"required"`
	Target      string   `json:"target"`
	Identities  []string `json:"identities"`
	Concurrency int      `json:"concurrency"`
}

// RunResponse is returned for a completed or stored run.
type RunResponse struct {
	RunID       uuid.UUID         `json:"runId"`
	Action      string            `json:"action"`
	Target      string            `json:"target,omitempty"`
	Summary     task.RunSummary   `json:"summary"`
	SuccessRate string            `json:"successRate"`
	Results     []task.TaskResult `json:"results"`
	ArchiveURL  string            `json:"archiveUrl,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
}

// RunListResponse is returned by GET /api/runs.
type RunListResponse struct {
	Runs   []persistence.RunRecord `json:"runs"`
	Total  int64                   `json:"total"`
	Offset int                     `json:"offset"`
	Limit  int                     `json:"limit"`
}

type handlers struct {
	deps Dependencies
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, APIResponse{Success: false, Error: message})
}

func (h *handlers) health(c *gin.Context) {
	if h.deps.Health != nil {
		if err := h.deps.Health(c.Request.Context()); err != nil {
			slog.WarnContext(c.Request.Context(), "health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) createRun(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)

	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	outcome, err := h.deps.Manager.Execute(c.Request.Context(), manager.RunRequest{
		Action:      task.Action(strings.ToLower(strings.TrimSpace(req.Action))),
		Target:      task.Target{Descriptor: strings.TrimSpace(req.Target)},
		Identities:  req.Identities,
		Concurrency: req.Concurrency,
	}, manager.RunOptions{})
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if outcome.PersistErr != nil {
		slog.WarnContext(c.Request.Context(), "run completed but was not persisted", "runID", outcome.RunID)
	}

	c.JSON(http.StatusOK, APIResponse{Success: true, Data: RunResponse{
		RunID:       outcome.RunID,
		Action:      string(outcome.Action),
		Target:      strings.TrimSpace(req.Target),
		Summary:     outcome.Summary,
		SuccessRate: task.FormatRate(outcome.Summary.Succeeded, outcome.Summary.Total),
		Results:     outcome.Results,
		ArchiveURL:  outcome.ArchiveURL,
		StartedAt:   outcome.StartedAt,
	}})
}

func (h *handlers) listRuns(c *gin.Context) {
	if h.deps.Store == nil {
		respondError(c, http.StatusServiceUnavailable, "run history is not configured")
		return
	}
	offset, limit := utils.ParsePaginationQuery(c.Query("offset"), c.Query("limit"))
	runs, total, err := h.deps.Store.ListRuns(c.Request.Context(), offset, limit)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to list runs", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to list runs")
		return
	}
	finalOffset, finalLimit := utils.GetPaginationParams(offset, limit)
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: RunListResponse{
		Runs:   runs,
		Total:  total,
		Offset: finalOffset,
		Limit:  finalLimit,
	}})
}

func (h *handlers) parseRunID(c *gin.Context) (uuid.UUID, bool) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil || runID == uuid.Nil {
		respondError(c, http.StatusBadRequest, "run id is invalid")
		return uuid.Nil, false
	}
	return runID, true
}

func (h *handlers) getRun(c *gin.Context) {
	if h.deps.Store == nil {
		respondError(c, http.StatusServiceUnavailable, "run history is not configured")
		return
	}
	runID, ok := h.parseRunID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	run, err := h.deps.Store.GetRun(ctx, runID)
	if errors.Is(err, persistence.ErrRunNotFound) {
		respondError(c, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to get run", "runID", runID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to get run")
		return
	}
	results, err := h.deps.Store.GetResults(ctx, runID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to get run results", "runID", runID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to get run results")
		return
	}

	summary := task.Collect(results, time.Duration(run.ElapsedMs)*time.Millisecond)
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: RunResponse{
		RunID:       run.ID,
		Action:      run.Action,
		Target:      run.Target,
		Summary:     summary,
		SuccessRate: task.FormatRate(summary.Succeeded, summary.Total),
		Results:     results,
		ArchiveURL:  run.ArchiveURL,
		StartedAt:   run.StartedAt,
	}})
}

func (h *handlers) getRunLog(c *gin.Context) {
	if h.deps.Logs == nil {
		respondError(c, http.StatusNotFound, "result archive is not configured")
		return
	}
	runID, ok := h.parseRunID(c)
	if !ok {
		return
	}

	rc, contentType, err := h.deps.Logs.Open(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			respondError(c, http.StatusNotFound, "result log not found")
			return
		}
		slog.ErrorContext(c.Request.Context(), "failed to open result log", "runID", runID, "error", err)
		respondError(c, http.StatusBadGateway, "failed to open result log")
		return
	}
	defer rc.Close()

	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		slog.WarnContext(c.Request.Context(), "failed to stream result log", "runID", runID, "error", err)
	}
}
