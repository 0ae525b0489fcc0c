// Package dispatcher is the control-loop tier of §4.4: it does not hand out
// chunks itself (workers claim directly against the catalog store, §4.5) —
// it runs the maintenance loop: the dead-worker reaper and the failure
// supervisor.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/coldwire-data/migrator/domain/catalog"
	"github.com/coldwire-data/migrator/pkg/logger"
)

// Dispatcher runs the two periodic maintenance tasks of §4.4. No lock or
// leader election is taken: every process that calls Start runs both
// ticks. Every operation the tasks perform is itself a transactional
// catalog write.
type Dispatcher struct {
	catalog            *catalog.Repository
	cron               *cron.Cron
	livenessThreshold  time.Duration
	reapInterval       time.Duration
	supervisorInterval time.Duration
	failureNoiseFloor  int
	log                *slog.Logger
}

// Config bundles the tunables named in §6.
type Config struct {
	LivenessThreshold  time.Duration
	ReapInterval       time.Duration
	SupervisorInterval time.Duration
	// FailureNoiseFloor is the minimum total_chunks before the supervisor
	// will act on a job's failure ratio (§4.4 step 3, default 20).
	FailureNoiseFloor int
}

// New constructs a Dispatcher. It does not start ticking until Start is
// called — matching the teacher's cron-scheduler lifecycle convention.
func New(repo *catalog.Repository, cfg Config, log *slog.Logger) *Dispatcher {
	if cfg.FailureNoiseFloor <= 0 {
		cfg.FailureNoiseFloor = 20
	}
	return &Dispatcher{
		catalog:            repo,
		cron:               cron.New(cron.WithSeconds()),
		livenessThreshold:  cfg.LivenessThreshold,
		reapInterval:       cfg.ReapInterval,
		supervisorInterval: cfg.SupervisorInterval,
		failureNoiseFloor:  cfg.FailureNoiseFloor,
		log:                log.With(logger.Scope("dispatcher")),
	}
}

// Start schedules the reaper and supervisor ticks. It acquires no lock, so
// two processes that both call Start both run the ticks; a chunk already
// reaped by one is skipped by the other, since FailChunk ignores a chunk
// that is no longer running.
func (d *Dispatcher) Start(ctx context.Context) error {
	reapSpec := cronSpec(d.reapInterval)
	if _, err := d.cron.AddFunc(reapSpec, func() { d.runReaper(ctx) }); err != nil {
		return err
	}
	supSpec := cronSpec(d.supervisorInterval)
	if _, err := d.cron.AddFunc(supSpec, func() { d.runSupervisor(ctx) }); err != nil {
		return err
	}
	d.cron.Start()
	return nil
}

// Stop waits for in-flight ticks to finish before returning.
func (d *Dispatcher) Stop() {
	stopCtx := d.cron.Stop()
	<-stopCtx.Done()
}

func (d *Dispatcher) runReaper(ctx context.Context) {
	n, err := d.catalog.ReapDeadWorkers(ctx, d.livenessThreshold)
	if err != nil {
		d.log.Error("reaper tick failed", logger.Error(err))
		return
	}
	if n > 0 {
		d.log.Info("reaper reclaimed chunks", slog.Int("count", n))
	}
}

func (d *Dispatcher) runSupervisor(ctx context.Context) {
	jobs, err := d.catalog.ListJobs(ctx)
	if err != nil {
		d.log.Error("supervisor tick failed to list jobs", logger.Error(err))
		return
	}

	for _, job := range jobs {
		if job.Status != catalog.JobRunning && job.Status != catalog.JobPlanning {
			continue
		}

		health, err := d.catalog.QueryJobHealth(ctx, job.ID)
		if err != nil {
			d.log.Error("supervisor failed to query job health", logger.Error(err), slog.String("job_id", job.ID))
			continue
		}
		if health.TotalChunks < d.failureNoiseFloor {
			continue
		}

		failureRate := float64(health.FailedChunks) / float64(maxInt(health.TotalChunks, 1))
		if failureRate*100 < health.FailureThresholdPct {
			continue
		}

		reason := "failure rate exceeded threshold"
		if err := d.catalog.FailJob(ctx, job.ID, reason); err != nil {
			d.log.Error("supervisor failed to fail job", logger.Error(err), slog.String("job_id", job.ID))
			continue
		}
		d.log.Warn("job auto-failed by supervisor",
			slog.String("job_id", job.ID),
			slog.Float64("failure_rate_pct", failureRate*100),
			slog.Float64("threshold_pct", health.FailureThresholdPct))
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// cronSpec renders a seconds-precision "@every" style spec for a fixed
// interval, matching how robfig/cron is used elsewhere for simple
// fixed-period ticks.
func cronSpec(d time.Duration) string {
	return "@every " + d.String()
}

// PollLimiter bounds how often an idle worker hammers ClaimNextChunk while
// waiting for work, so a large worker fleet polling an empty queue doesn't
// saturate the catalog connection pool. One limiter is shared per worker
// process, not per goroutine.
type PollLimiter struct {
	limiter *rate.Limiter
}

// NewPollLimiter allows burst immediate claims (covers the common case of a
// worker finishing one chunk and immediately finding another queued) while
// capping sustained polling to ratePerSec.
func NewPollLimiter(ratePerSec float64, burst int) *PollLimiter {
	return &PollLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait blocks until the next poll is permitted or ctx is done.
func (p *PollLimiter) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
