// Command migrate is the CLI boundary of the engine (§6): a thin dispatcher
// over the long-lived subcommands (worker, dispatcher) and the short,
// one-shot catalog operations (plan, status, retry-chunk, pause, resume).
// It builds its own database connection directly, the way the donor's
// standalone cmd/* tools do, rather than pulling in the fx container used
// by the HTTP server entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/coldwire-data/migrator/domain/adapter"
	"github.com/coldwire-data/migrator/domain/catalog"
	"github.com/coldwire-data/migrator/domain/dispatcher"
	"github.com/coldwire-data/migrator/domain/mapping"
	"github.com/coldwire-data/migrator/domain/planner"
	"github.com/coldwire-data/migrator/domain/worker"
	"github.com/coldwire-data/migrator/internal/config"
	"github.com/coldwire-data/migrator/pkg/logger"
)

// Exit codes per §6's command table.
const (
	exitOK            = 0
	exitFatal         = 1
	exitBadSpec       = 2
	exitSourceUnreach = 3
	exitNotFound      = 4
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitBadSpec)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "plan":
		os.Exit(runPlan(args))
	case "worker":
		os.Exit(runWorker(args))
	case "dispatcher":
		os.Exit(runDispatcher(args))
	case "status":
		os.Exit(runStatus(args))
	case "retry-chunk":
		os.Exit(runRetryChunk(args))
	case "pause":
		os.Exit(runPauseResume(args, true))
	case "resume":
		os.Exit(runPauseResume(args, false))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		printUsage()
		os.Exit(exitBadSpec)
	}
}

func printUsage() {
	fmt.Println("Bulk relational-data migration engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  migrate plan <job.yaml>")
	fmt.Println("  migrate worker --id <worker-id>")
	fmt.Println("  migrate dispatcher")
	fmt.Println("  migrate status <job-id>")
	fmt.Println("  migrate retry-chunk <chunk-id>")
	fmt.Println("  migrate pause <job-id>")
	fmt.Println("  migrate resume <job-id>")
}

func newLog() *slog.Logger {
	return logger.NewLogger()
}

// openRepository opens a standalone connection pool, the same dialect and
// driver path NewPgxPool/NewBunDB use inside the fx-managed server process,
// but without an fx.Lifecycle to hang it on.
func openRepository(cfg *config.Config, log *slog.Logger) (*catalog.Repository, func(), error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("parse pgx config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	sqldb := stdlib.OpenDBFromPool(pool)
	db := bun.NewDB(sqldb, pgdialect.New())
	repo := catalog.NewRepository(db, log)

	return repo, func() { db.Close(); pool.Close() }, nil
}

func runPlan(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: migrate plan <job.yaml>")
		return exitBadSpec
	}
	log := newLog()

	spec, err := mapping.LoadJobSpec(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad job spec: %v\n", err)
		return exitBadSpec
	}

	cfg, err := config.NewConfig(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad config: %v\n", err)
		return exitBadSpec
	}
	if spec.ChunkSize <= 0 {
		spec.ChunkSize = cfg.Migration.ChunkSize
	}
	if spec.BatchSize <= 0 {
		spec.BatchSize = cfg.Migration.BatchSize
	}
	if spec.FailureThresholdPct <= 0 {
		spec.FailureThresholdPct = cfg.Migration.FailureThresholdPct
	}

	repo, closeDB, err := openRepository(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach catalog database: %v\n", err)
		return exitSourceUnreach
	}
	defer closeDB()

	ctx := context.Background()
	job, err := repo.CreateJob(ctx, catalog.FromAdapter(spec.Source), catalog.FromAdapter(spec.Target),
		spec.Tables, spec.BatchSize, spec.FailureThresholdPct, spec.ValidateRowCounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create job: %v\n", err)
		return exitFatal
	}

	p := planner.New(repo, adapter.New, log)
	if err := p.Plan(ctx, job.ID, spec.Source, spec.Target, spec.Tables, spec.ChunkSize); err != nil {
		fmt.Fprintf(os.Stderr, "planning failed: %v\n", err)
		if isUnreachable(err) {
			return exitSourceUnreach
		}
		return exitFatal
	}

	fmt.Printf("job %s planned\n", job.ID)
	return exitOK
}

func runWorker(args []string) int {
	id := flagValue(args, "--id")
	if id == "" {
		id = "worker-" + uuid.NewString()[:8]
	}
	log := newLog()

	cfg, err := config.NewConfig(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad config: %v\n", err)
		return exitFatal
	}

	repo, closeDB, err := openRepository(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach catalog database: %v\n", err)
		return exitFatal
	}
	defer closeDB()

	rt := worker.New(repo, adapter.New, worker.Config{
		WorkerID:          id,
		HeartbeatInterval: cfg.Migration.HeartbeatInterval(),
		DropConstraints:   true,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker starting", slog.String("worker_id", id))
	if err := rt.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "worker exited with error: %v\n", err)
		return exitFatal
	}
	log.Info("worker stopped cleanly", slog.String("worker_id", id))
	return exitOK
}

func runDispatcher(args []string) int {
	log := newLog()

	cfg, err := config.NewConfig(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad config: %v\n", err)
		return exitFatal
	}

	repo, closeDB, err := openRepository(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach catalog database: %v\n", err)
		return exitFatal
	}
	defer closeDB()

	d := dispatcher.New(repo, dispatcher.Config{
		LivenessThreshold:  cfg.Migration.LivenessThreshold(),
		ReapInterval:       cfg.Migration.ReapInterval(),
		SupervisorInterval: cfg.Migration.SupervisorInterval(),
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dispatcher failed to start: %v\n", err)
		return exitFatal
	}
	log.Info("dispatcher running")
	<-ctx.Done()
	d.Stop()
	log.Info("dispatcher stopped cleanly")
	return exitOK
}

func runStatus(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: migrate status <job-id>")
		return exitBadSpec
	}
	log := newLog()
	cfg, err := config.NewConfig(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad config: %v\n", err)
		return exitFatal
	}
	repo, closeDB, err := openRepository(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach catalog database: %v\n", err)
		return exitFatal
	}
	defer closeDB()

	ctx := context.Background()
	job, err := repo.GetJob(ctx, args[0])
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "job %s not found\n", args[0])
			return exitNotFound
		}
		fmt.Fprintf(os.Stderr, "failed to load job: %v\n", err)
		return exitFatal
	}

	health, err := repo.QueryJobHealth(ctx, job.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load job health: %v\n", err)
		return exitFatal
	}

	fmt.Printf("job:       %s\n", job.ID)
	fmt.Printf("status:    %s\n", job.Status)
	fmt.Printf("tables:    %d\n", job.TotalTables)
	fmt.Printf("chunks:    %s completed, %s failed, %s total\n",
		humanize.Comma(int64(health.CompletedChunks)), humanize.Comma(int64(health.FailedChunks)), humanize.Comma(int64(health.TotalChunks)))
	fmt.Printf("transferred: %s (%s/s)\n", humanize.Bytes(uint64(job.TotalBytes)), humanize.Comma(int64(job.AvgThroughputRowsPerS))+" rows")
	if job.LastError != "" {
		fmt.Printf("last error: %s\n", job.LastError)
	}
	return exitOK
}

func runRetryChunk(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: migrate retry-chunk <chunk-id>")
		return exitBadSpec
	}
	log := newLog()
	cfg, err := config.NewConfig(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad config: %v\n", err)
		return exitFatal
	}
	repo, closeDB, err := openRepository(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach catalog database: %v\n", err)
		return exitFatal
	}
	defer closeDB()

	if err := repo.RetryChunk(context.Background(), args[0]); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "chunk %s not found\n", args[0])
			return exitNotFound
		}
		fmt.Fprintf(os.Stderr, "retry failed: %v\n", err)
		return exitFatal
	}
	fmt.Printf("chunk %s requeued\n", args[0])
	return exitOK
}

func runPauseResume(args []string, pause bool) int {
	verb := "resume"
	if pause {
		verb = "pause"
	}
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: migrate %s <job-id>\n", verb)
		return exitBadSpec
	}
	log := newLog()
	cfg, err := config.NewConfig(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad config: %v\n", err)
		return exitFatal
	}
	repo, closeDB, err := openRepository(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach catalog database: %v\n", err)
		return exitFatal
	}
	defer closeDB()

	ctx := context.Background()
	var opErr error
	if pause {
		opErr = repo.PauseJob(ctx, args[0])
	} else {
		opErr = repo.ResumeJob(ctx, args[0])
	}
	if opErr != nil {
		if errors.Is(opErr, catalog.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "job %s not found\n", args[0])
			return exitNotFound
		}
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", verb, opErr)
		return exitFatal
	}
	fmt.Printf("job %s %sd\n", args[0], verb)
	return exitOK
}

func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func isUnreachable(err error) bool {
	var adapterErr *adapter.Error
	if errors.As(err, &adapterErr) {
		return adapterErr.Kind == adapter.KindConnectionLost
	}
	return false
}
