// Command migrate-server runs the engine's HTTP API: job creation, catalog
// inspection, and the live metrics stream (§6, §12), plus the dispatcher's
// reaper/supervisor loop (§4.4) in the same process. Worker runtimes are
// deployed separately via `migrate worker`, matching §5's expectation that
// workers scale independently of the control plane.
package main

import (
	"context"
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/coldwire-data/migrator/domain/catalog"
	"github.com/coldwire-data/migrator/domain/dispatcher"
	"github.com/coldwire-data/migrator/domain/migration"
	"github.com/coldwire-data/migrator/domain/planner"
	"github.com/coldwire-data/migrator/internal/config"
	"github.com/coldwire-data/migrator/internal/database"
	"github.com/coldwire-data/migrator/internal/migrate"
	"github.com/coldwire-data/migrator/internal/server"
	"github.com/coldwire-data/migrator/pkg/logger"
)

func main() {
	// Order matters: .env.local overrides .env; Load won't clobber existing
	// vars, Overload will.
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		server.Module,

		catalog.Module,
		planner.Module,
		migration.Module,
		dispatcher.Module,

		fx.Invoke(runPendingMigrations),
	).Run()
}

// runPendingMigrations brings the catalog schema up to date before the
// process starts accepting work, the way a control-plane process owns its
// own schema rather than relying on an operator to run migrations out of
// band.
func runPendingMigrations(lc fx.Lifecycle, m *migrate.Migrator) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return m.Up(ctx)
		},
	})
}
