package catalog

import (
	"log/slog"

	"github.com/uptrace/bun"
	"go.uber.org/fx"
)

// Module provides the catalog Repository to the rest of the engine.
var Module = fx.Module("catalog",
	fx.Provide(func(db *bun.DB, log *slog.Logger) *Repository {
		return NewRepository(db, log)
	}),
)
