package migration

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/coldwire-data/migrator/domain/catalog"
	"github.com/coldwire-data/migrator/domain/planner"
)

// Module provides the migration API's Service and Handler and registers
// its routes on the process-wide echo instance.
var Module = fx.Module("migration",
	fx.Provide(
		func(repo *catalog.Repository, p *planner.Planner, log *slog.Logger) *Service {
			return New(repo, p, log)
		},
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
