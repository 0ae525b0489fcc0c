package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all process configuration. The recognized surface is the
// closed set of environment variables below; new knobs belong here, not in
// ad hoc os.Getenv calls scattered through the domain packages.
type Config struct {
	// API boundary server settings (domain/migration's echo instance)
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Database is the catalog store's own Postgres connection, distinct from
	// the source/target connections named per-job in the table-mapping spec.
	Database DatabaseConfig

	Migration MigrationConfig

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"28800s"` // 8h, metrics SSE stream
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"28800s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds the catalog store's PostgreSQL connection settings.
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"migrator"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"migrator"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string for the catalog store.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// MigrationConfig is the closed set of engine-wide defaults from §6 of the
// specification. Individual jobs may override chunk size, batch size, and
// failure threshold; these are process-wide defaults applied when a job
// spec omits them.
type MigrationConfig struct {
	MetadataDBURL        string        `env:"METADATA_DB_URL"`
	ChunkSize            int64         `env:"MIGRATION_CHUNK_SIZE" envDefault:"100000"`
	BatchSize            int           `env:"MIGRATION_BATCH_SIZE" envDefault:"5000"`
	MaxRetries           int           `env:"MIGRATION_MAX_RETRIES" envDefault:"3"`
	HeartbeatIntervalS   int           `env:"MIGRATION_HEARTBEAT_INTERVAL_S" envDefault:"10"`
	LivenessThresholdS   int           `env:"MIGRATION_LIVENESS_THRESHOLD_S" envDefault:"120"`
	FailureThresholdPct  float64       `env:"MIGRATION_FAILURE_THRESHOLD_PCT" envDefault:"5"`
	ReapIntervalS        int           `env:"MIGRATION_REAP_INTERVAL_S" envDefault:"30"`
	SupervisorIntervalS  int           `env:"MIGRATION_SUPERVISOR_INTERVAL_S" envDefault:"10"`
	ChunkHardTimeout     time.Duration `env:"MIGRATION_CHUNK_HARD_TIMEOUT" envDefault:"1h"`
	MaxWorkersPerJob     int           `env:"MIGRATION_MAX_WORKERS_PER_JOB" envDefault:"8"`
}

// HeartbeatInterval returns the worker heartbeat period as a Duration.
func (m *MigrationConfig) HeartbeatInterval() time.Duration {
	return time.Duration(m.HeartbeatIntervalS) * time.Second
}

// LivenessThreshold returns the reaper's dead-worker threshold as a Duration.
func (m *MigrationConfig) LivenessThreshold() time.Duration {
	return time.Duration(m.LivenessThresholdS) * time.Second
}

// ReapInterval returns T_reap, the reaper tick period, as a Duration.
func (m *MigrationConfig) ReapInterval() time.Duration {
	return time.Duration(m.ReapIntervalS) * time.Second
}

// SupervisorInterval returns T_sup, the supervisor tick period, as a Duration.
func (m *MigrationConfig) SupervisorInterval() time.Duration {
	return time.Duration(m.SupervisorIntervalS) * time.Second
}

// NewConfig loads configuration from environment variables.
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.Int64("default_chunk_size", cfg.Migration.ChunkSize),
		slog.Int("default_batch_size", cfg.Migration.BatchSize),
	)

	return cfg, nil
}
