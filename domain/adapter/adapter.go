// Package adapter defines the uniform view over a relational database that
// the planner and worker runtime use to move rows between a source and a
// target, independent of the underlying engine (PostgreSQL, MySQL, ...).
package adapter

import (
	"context"
	"strconv"
	"time"
)

// ConnDescriptor is one endpoint of a migration job: either the source or
// the target database. Password is never logged or serialized to JSON.
type ConnDescriptor struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	Database   string `json:"database" yaml:"database"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"-" yaml:"password"`
	TLS        bool   `json:"tls,omitempty" yaml:"tls"`
	DriverHint string `json:"driver,omitempty" yaml:"driver"` // "postgres" | "mysql"; inferred from syntax if empty
}

// String renders a safe, secret-free description for logs.
func (d ConnDescriptor) String() string {
	port := "default"
	if d.Port != 0 {
		port = strconv.Itoa(d.Port)
	}
	return d.DriverHint + "://" + d.Username + "@" + d.Host + ":" + port + "/" + d.Database
}

// Column describes one column of a source or target table.
type Column struct {
	Name       string
	DBType     string
	Nullable   bool
	HasDefault bool
}

// TableDescriptor is everything the planner needs to know about one table.
type TableDescriptor struct {
	Name             string
	PKColumn         string
	Columns          []Column
	RowCountEstimate int64
}

// Row is one source row keyed by column name. Using a map keeps the adapter
// interface storage-engine agnostic; the worker applies column remapping and
// transforms before handing rows to bulkInsert.
type Row map[string]any

// RowStream is a bounded, finite sequence of rows delivered in primary-key
// order. Next blocks until a row is available, an error occurs, or the
// underlying cursor is exhausted (io.EOF-like via ok=false).
type RowStream interface {
	Next(ctx context.Context) (row Row, ok bool, err error)
	Close() error
}

// BulkInsertResult reports what happened when a batch of rows was flushed to
// the target.
type BulkInsertResult struct {
	RowsInserted int
	LatencyMS    int64
	PeakMemoryMB float64
}

// ConstraintBackup is a restorable record of one dropped index or foreign key.
type ConstraintBackup struct {
	ObjectName string
	ObjectType string // "index" | "foreign_key"
	Definition string // DDL sufficient to recreate the object
}

// Adapter is the uniform capability set every back-end must provide. All
// methods return *Error on failure so callers can branch on Kind.
type Adapter interface {
	// DiscoverTables lists every table the connecting user can see.
	DiscoverTables(ctx context.Context) ([]string, error)

	// DescribeTable resolves the primary key, column set, and a row-count
	// estimate (from catalog statistics, not a full scan, when possible).
	DescribeTable(ctx context.Context, table string) (*TableDescriptor, error)

	// PKBounds returns the minimum and maximum value of the primary key
	// column, used by the planner to carve chunk boundaries.
	PKBounds(ctx context.Context, table, pkColumn string) (min, max int64, err error)

	// ScanRange streams rows of table in ascending pk order within
	// [lo, hi]. The caller must Close the stream on every exit path.
	ScanRange(ctx context.Context, table, pkColumn string, lo, hi int64) (RowStream, error)

	// BulkInsert issues one set-based insert for rows (already transformed
	// and remapped to target column names) and reports measured latency.
	BulkInsert(ctx context.Context, table string, rows []Row) (*BulkInsertResult, error)

	// DropAndBackupConstraints removes indexes and foreign keys on table so
	// bulk loads can proceed without incurring their maintenance cost,
	// returning enough information to restore them later. Idempotent: a
	// second call against a table with nothing left to drop returns an
	// empty slice, not an error.
	DropAndBackupConstraints(ctx context.Context, table string) ([]ConstraintBackup, error)

	// RestoreConstraints recreates everything DropAndBackupConstraints
	// removed. Idempotent: recreating an object that already exists is a
	// no-op, not an error.
	RestoreConstraints(ctx context.Context, table string, backups []ConstraintBackup) error

	// Close releases the underlying connection pool.
	Close() error
}

// Elapsed is a small helper the postgres/mysql implementations use to time
// bulk-insert latency without importing time in call sites.
func Elapsed(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
