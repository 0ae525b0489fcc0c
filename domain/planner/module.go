package planner

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/coldwire-data/migrator/domain/adapter"
	"github.com/coldwire-data/migrator/domain/catalog"
)

// Module provides the Planner, wired to the real adapter registry.
var Module = fx.Module("planner",
	fx.Provide(func(repo *catalog.Repository, log *slog.Logger) *Planner {
		newSource := func(ctx context.Context, desc adapter.ConnDescriptor, log *slog.Logger) (adapter.Adapter, error) {
			return adapter.New(ctx, desc, log)
		}
		return New(repo, newSource, log)
	}),
)
