// Package migration is the thin imperative API of §6: CreateJob, ListJobs,
// GetJob, GetTables, GetChunks, RetryChunk, PauseJob, ResumeJob, plus the
// streaming metrics reader supplemented in §12. REST/UI is a collaborator
// layered on top of this service, not part of the core.
package migration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coldwire-data/migrator/domain/catalog"
	"github.com/coldwire-data/migrator/domain/mapping"
	"github.com/coldwire-data/migrator/domain/planner"
	"github.com/coldwire-data/migrator/pkg/logger"
)

// Service is the core's single entry point for everything outside the
// worker/dispatcher processes: job creation, inspection, and operator
// controls.
type Service struct {
	repo    *catalog.Repository
	planner *planner.Planner
	log     *slog.Logger
}

func New(repo *catalog.Repository, p *planner.Planner, log *slog.Logger) *Service {
	return &Service{repo: repo, planner: p, log: log.With(logger.Scope("migration.service"))}
}

// CreateJob registers a job from a parsed job spec and plans it inline.
// Planning touches the source and target connections (table discovery, PK
// bounds) so a bad spec or an unreachable source surfaces immediately as an
// error rather than silently leaving the job stuck in "planning" — matching
// the CLI's exit-code contract (§6: exit 2 bad spec, exit 3 source
// unreachable).
func (s *Service) CreateJob(ctx context.Context, spec *mapping.JobSpec) (*catalog.Job, error) {
	job, err := s.repo.CreateJob(ctx,
		catalog.FromAdapter(spec.Source),
		catalog.FromAdapter(spec.Target),
		spec.Tables,
		spec.BatchSize,
		spec.FailureThresholdPct,
		spec.ValidateRowCounts,
	)
	if err != nil {
		return nil, fmt.Errorf("migration: create job: %w", err)
	}

	if err := s.planner.Plan(ctx, job.ID, spec.Source, spec.Target, spec.Tables, spec.ChunkSize); err != nil {
		return job, fmt.Errorf("migration: plan job %s: %w", job.ID, err)
	}

	job, err = s.repo.GetJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("migration: reload planned job: %w", err)
	}
	return job, nil
}

// ListJobs returns every job, most recently created first.
func (s *Service) ListJobs(ctx context.Context) ([]catalog.Job, error) {
	return s.repo.ListJobs(ctx)
}

// GetJob returns one job by id.
func (s *Service) GetJob(ctx context.Context, jobID string) (*catalog.Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

// GetTables returns every table planned for jobID.
func (s *Service) GetTables(ctx context.Context, jobID string) ([]catalog.Table, error) {
	return s.repo.GetTables(ctx, jobID)
}

// GetChunks returns every chunk planned for a table.
func (s *Service) GetChunks(ctx context.Context, tableID string) ([]catalog.Chunk, error) {
	return s.repo.GetChunks(ctx, tableID)
}

// RetryChunk resets one terminal failed chunk back to pending (§6).
func (s *Service) RetryChunk(ctx context.Context, chunkID string) error {
	return s.repo.RetryChunk(ctx, chunkID)
}

// PauseJob toggles the job's pause flag on. A paused job's chunks remain
// ineligible for claiming until ResumeJob (§4.1.2 eligibility predicate).
func (s *Service) PauseJob(ctx context.Context, jobID string) error {
	return s.repo.PauseJob(ctx, jobID)
}

// ResumeJob toggles the job's pause flag off.
func (s *Service) ResumeJob(ctx context.Context, jobID string) error {
	return s.repo.ResumeJob(ctx, jobID)
}

// Metrics returns the current throughput/memory/latency sample for a job,
// the unit the streaming reader polls (§12).
func (s *Service) Metrics(ctx context.Context, jobID string) (*catalog.JobMetrics, error) {
	return s.repo.QueryJobMetrics(ctx, jobID)
}
