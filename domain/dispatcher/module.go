package dispatcher

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/coldwire-data/migrator/domain/catalog"
	"github.com/coldwire-data/migrator/internal/config"
	"github.com/coldwire-data/migrator/pkg/logger"
)

// Module provides the Dispatcher wired from MigrationConfig and starts it
// for the lifetime of the host process. A deployment that wants the
// reaper/supervisor loop on a dedicated process instead runs `migrate
// dispatcher` and omits this module from its fx graph.
var Module = fx.Module("dispatcher",
	fx.Provide(func(repo *catalog.Repository, cfg *config.Config, log *slog.Logger) *Dispatcher {
		return New(repo, Config{
			LivenessThreshold:  cfg.Migration.LivenessThreshold(),
			ReapInterval:       cfg.Migration.ReapInterval(),
			SupervisorInterval: cfg.Migration.SupervisorInterval(),
		}, log)
	}),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, d *Dispatcher, log *slog.Logger) {
	log = log.With(logger.Scope("dispatcher"))
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting dispatcher")
			// Start's ticks must outlive the short OnStart context, so the
			// background loop runs against its own, matching the teacher's
			// scheduler.Start/cron.Start non-blocking lifecycle contract.
			return d.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping dispatcher")
			d.Stop()
			return nil
		},
	})
}
