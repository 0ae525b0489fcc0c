package migration

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/coldwire-data/migrator/domain/catalog"
	"github.com/coldwire-data/migrator/domain/mapping"
	"github.com/coldwire-data/migrator/pkg/apperror"
	"github.com/coldwire-data/migrator/pkg/logger"
	"github.com/coldwire-data/migrator/pkg/sse"
)

// pollInterval is how often the metrics stream samples the catalog.
const pollInterval = 2 * time.Second

// Handler exposes Service over the thin imperative API of §6.
type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log.With(logger.Scope("migration.handler"))}
}

// RegisterRoutes wires the migration API onto the shared echo instance.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/jobs")
	g.POST("", h.CreateJob)
	g.GET("", h.ListJobs)
	g.GET("/:id", h.GetJob)
	g.GET("/:id/tables", h.GetTables)
	g.GET("/tables/:tableId/chunks", h.GetChunks)
	g.POST("/chunks/:chunkId/retry", h.RetryChunk)
	g.POST("/:id/pause", h.PauseJob)
	g.POST("/:id/resume", h.ResumeJob)
	g.GET("/:id/metrics/stream", h.StreamMetrics)
}

// CreateJob handles POST /jobs: the request body is the table-mapping job
// spec of §6, the same document `migrate plan` loads from YAML.
func (h *Handler) CreateJob(c echo.Context) error {
	var spec mapping.JobSpec
	if err := c.Bind(&spec); err != nil {
		return apperror.NewBadRequest("invalid job spec")
	}
	if len(spec.Tables) == 0 {
		return apperror.NewBadRequest("job spec names no tables")
	}

	job, err := h.svc.CreateJob(c.Request().Context(), &spec)
	if err != nil {
		if job != nil {
			// Job row exists but planning failed — report the id so the
			// caller can inspect what the planner recorded per table.
			return apperror.NewInternal("job created but planning failed: "+err.Error(), err).WithDetails(map[string]any{"jobId": job.ID})
		}
		return apperror.NewInternal("failed to create job", err)
	}
	return c.JSON(http.StatusCreated, job)
}

// ListJobs handles GET /jobs.
func (h *Handler) ListJobs(c echo.Context) error {
	jobs, err := h.svc.ListJobs(c.Request().Context())
	if err != nil {
		return apperror.NewInternal("failed to list jobs", err)
	}
	return c.JSON(http.StatusOK, jobs)
}

// GetJob handles GET /jobs/:id.
func (h *Handler) GetJob(c echo.Context) error {
	job, err := h.svc.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jobError(err, c.Param("id"))
	}
	return c.JSON(http.StatusOK, job)
}

// GetTables handles GET /jobs/:id/tables.
func (h *Handler) GetTables(c echo.Context) error {
	tables, err := h.svc.GetTables(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.NewInternal("failed to list tables", err)
	}
	return c.JSON(http.StatusOK, tables)
}

// GetChunks handles GET /jobs/tables/:tableId/chunks.
func (h *Handler) GetChunks(c echo.Context) error {
	chunks, err := h.svc.GetChunks(c.Request().Context(), c.Param("tableId"))
	if err != nil {
		return apperror.NewInternal("failed to list chunks", err)
	}
	return c.JSON(http.StatusOK, chunks)
}

// RetryChunk handles POST /jobs/chunks/:chunkId/retry.
func (h *Handler) RetryChunk(c echo.Context) error {
	if err := h.svc.RetryChunk(c.Request().Context(), c.Param("chunkId")); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return apperror.NewNotFound("chunk", c.Param("chunkId"))
		}
		return apperror.NewInternal("failed to retry chunk", err)
	}
	return c.NoContent(http.StatusOK)
}

// PauseJob handles POST /jobs/:id/pause.
func (h *Handler) PauseJob(c echo.Context) error {
	if err := h.svc.PauseJob(c.Request().Context(), c.Param("id")); err != nil {
		return apperror.NewInternal("failed to pause job", err)
	}
	return c.NoContent(http.StatusOK)
}

// ResumeJob handles POST /jobs/:id/resume.
func (h *Handler) ResumeJob(c echo.Context) error {
	if err := h.svc.ResumeJob(c.Request().Context(), c.Param("id")); err != nil {
		return apperror.NewInternal("failed to resume job", err)
	}
	return c.NoContent(http.StatusOK)
}

// StreamMetrics handles GET /jobs/:id/metrics/stream: an SSE feed of
// throughput/memory/latency samples (§6 "streaming readers for metrics time
// series", supplemented in §12) polled every pollInterval until the job
// reaches a terminal status or the client disconnects.
func (h *Handler) StreamMetrics(c echo.Context) error {
	jobID := c.Param("id")
	ctx := c.Request().Context()

	// Validate before switching the response into SSE mode, same rule the
	// donor's chat stream follows: a bad request still gets a normal JSON
	// error, not an SSE error event.
	job, err := h.svc.GetJob(ctx, jobID)
	if err != nil {
		return jobError(err, jobID)
	}

	w := c.Response().Writer
	writer := sse.NewWriter(w)
	if err := writer.Start(); err != nil {
		return apperror.NewInternal("streaming not supported", err)
	}
	defer writer.Close()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	if terminal(job.Status) {
		h.emitSnapshot(ctx, writer, jobID)
		writer.WriteData(sse.NewDoneEvent())
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			job, err := h.svc.GetJob(ctx, jobID)
			if err != nil {
				writer.WriteData(sse.NewErrorEvent(err.Error()))
				return nil
			}
			h.emitSnapshot(ctx, writer, jobID)
			if terminal(job.Status) {
				writer.WriteData(sse.NewJobStateEvent(jobID, string(job.Status)))
				writer.WriteData(sse.NewDoneEvent())
				return nil
			}
		}
	}
}

func (h *Handler) emitSnapshot(ctx context.Context, w *sse.Writer, jobID string) {
	m, err := h.svc.Metrics(ctx, jobID)
	if err != nil {
		h.log.Warn("metrics sample failed", logger.Error(err), slog.String("job_id", jobID))
		return
	}
	w.WriteData(sse.NewSnapshotEvent(jobID, m.CompletedChunks, m.FailedChunks, m.TotalChunks,
		m.ThroughputRowsPerS, m.PeakMemoryMB, m.AvgInsertLatencyMS))
}

func terminal(status catalog.JobStatus) bool {
	return status == catalog.JobComplete || status == catalog.JobFailed
}

func jobError(err error, jobID string) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return apperror.NewNotFound("job", jobID)
	}
	return apperror.NewInternal("failed to load job", err)
}
