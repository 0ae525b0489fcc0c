package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/coldwire-data/migrator/domain/adapter"
	"github.com/coldwire-data/migrator/domain/catalog"
	"github.com/coldwire-data/migrator/internal/config"
)

// Module provides a Runtime identified by hostname-uuidprefix, matching the
// teacher's convention of deriving a stable-enough worker identity without
// requiring operator configuration.
var Module = fx.Module("worker",
	fx.Provide(func(repo *catalog.Repository, cfg *config.Config, log *slog.Logger) *Runtime {
		newAdapter := func(ctx context.Context, desc adapter.ConnDescriptor, log *slog.Logger) (adapter.Adapter, error) {
			return adapter.New(ctx, desc, log)
		}
		return New(repo, newAdapter, Config{
			WorkerID:          workerID(),
			HeartbeatInterval: cfg.Migration.HeartbeatInterval(),
			DropConstraints:   true,
		}, log)
	}),
)

func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
