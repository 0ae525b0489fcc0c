package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// New opens the concrete Adapter for desc. When DriverHint is set it is
// taken as-is; otherwise the driver is inferred from Database, which may be
// given as a bare name ("orders") or a connection-string-style value
// ("postgresql://..." / "mysql://...").
func New(ctx context.Context, desc ConnDescriptor, log *slog.Logger) (Adapter, error) {
	switch driverOf(desc) {
	case "postgres":
		return NewPostgres(ctx, desc, log)
	case "mysql":
		return NewMySQL(ctx, desc, log)
	default:
		return nil, fmt.Errorf("adapter: cannot determine driver for %s (set driver explicitly)", desc.String())
	}
}

func driverOf(desc ConnDescriptor) string {
	hint := strings.ToLower(strings.TrimSpace(desc.DriverHint))
	switch hint {
	case "postgres", "postgresql", "pg":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	}

	switch {
	case strings.HasPrefix(desc.Database, "postgresql://"), strings.HasPrefix(desc.Database, "postgres://"):
		return "postgres"
	case strings.HasPrefix(desc.Database, "mysql://"):
		return "mysql"
	}

	return ""
}
