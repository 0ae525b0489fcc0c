package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/coldwire-data/migrator/pkg/logger"
)

// Postgres is the Adapter implementation for PostgreSQL source and target
// databases. It uses database/sql with the lib/pq driver so it can drive
// pq.CopyIn for set-based bulk loads independent of the catalog store's own
// pgx-based connection pool.
type Postgres struct {
	db  *sql.DB
	log *slog.Logger
}

// NewPostgres opens a connection pool against desc and verifies it with a
// ping, wrapping any failure as a classified *Error.
func NewPostgres(ctx context.Context, desc ConnDescriptor, log *slog.Logger) (*Postgres, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		desc.Host, portOr5432(desc.Port), desc.Database, desc.Username, desc.Password, sslMode(desc.TLS))

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, NewError(KindUnknown, "", "open postgres connection", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	_, err = withRetry(ctx, defaultRetry, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return struct{}{}, classifyPostgresError(err, "", "connect")
		}
		return struct{}{}, nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Postgres{db: db, log: log.With(logger.Scope("adapter.postgres"))}, nil
}

func portOr5432(p int) int {
	if p == 0 {
		return 5432
	}
	return p
}

func sslMode(tls bool) string {
	if tls {
		return "require"
	}
	return "disable"
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) DiscoverTables(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, classifyPostgresError(err, "", "discover tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classifyPostgresError(err, "", "scan table name")
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (p *Postgres) DescribeTable(ctx context.Context, table string) (*TableDescriptor, error) {
	pkColumn, err := p.primaryKeyColumn(ctx, table)
	if err != nil {
		return nil, err
	}

	colRows, err := p.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES', column_default IS NOT NULL
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, classifyPostgresError(err, table, "describe columns")
	}
	defer colRows.Close()

	var cols []Column
	for colRows.Next() {
		var c Column
		if err := colRows.Scan(&c.Name, &c.DBType, &c.Nullable, &c.HasDefault); err != nil {
			return nil, classifyPostgresError(err, table, "scan column")
		}
		cols = append(cols, c)
	}
	if err := colRows.Err(); err != nil {
		return nil, classifyPostgresError(err, table, "iterate columns")
	}
	if len(cols) == 0 {
		return nil, NewError(KindNotFound, table, "table has no columns or does not exist", nil)
	}

	// Row-count estimate from planner statistics, not a full scan.
	var estimate sql.NullFloat64
	err = p.db.QueryRowContext(ctx, `SELECT reltuples FROM pg_class WHERE oid = $1::regclass`, table).Scan(&estimate)
	if err != nil {
		return nil, classifyPostgresError(err, table, "read table statistics")
	}

	return &TableDescriptor{
		Name:             table,
		PKColumn:         pkColumn,
		Columns:          cols,
		RowCountEstimate: int64(estimate.Float64),
	}, nil
}

func (p *Postgres) primaryKeyColumn(ctx context.Context, table string) (string, error) {
	var cols []string
	rows, err := p.db.QueryContext(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::regclass AND i.indisprimary
		ORDER BY array_position(i.indkey, a.attnum)`, table)
	if err != nil {
		return "", classifyPostgresError(err, table, "resolve primary key")
	}
	defer rows.Close()
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return "", classifyPostgresError(err, table, "scan primary key column")
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return "", classifyPostgresError(err, table, "iterate primary key columns")
	}
	if len(cols) != 1 {
		return "", NewError(KindTypeMismatch, table,
			fmt.Sprintf("table must have exactly one primary-key column, found %d", len(cols)), nil)
	}
	return cols[0], nil
}

func (p *Postgres) PKBounds(ctx context.Context, table, pkColumn string) (int64, int64, error) {
	var lo, hi sql.NullInt64
	q := fmt.Sprintf(`SELECT MIN(%s), MAX(%s) FROM %s`, quoteIdent(pkColumn), quoteIdent(pkColumn), quoteIdent(table))
	if err := p.db.QueryRowContext(ctx, q).Scan(&lo, &hi); err != nil {
		return 0, 0, classifyPostgresError(err, table, "read pk bounds")
	}
	return lo.Int64, hi.Int64, nil
}

type postgresRowStream struct {
	rows    *sql.Rows
	columns []string
	table   string
}

func (s *postgresRowStream) Next(ctx context.Context) (Row, bool, error) {
	if !s.rows.Next() {
		return nil, false, classifyPostgresError(s.rows.Err(), s.table, "scan row")
	}
	values := make([]any, len(s.columns))
	ptrs := make([]any, len(s.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return nil, false, classifyPostgresError(err, s.table, "scan row")
	}
	row := make(Row, len(s.columns))
	for i, col := range s.columns {
		row[col] = values[i]
	}
	return row, true, nil
}

func (s *postgresRowStream) Close() error { return s.rows.Close() }

func (p *Postgres) ScanRange(ctx context.Context, table, pkColumn string, lo, hi int64) (RowStream, error) {
	q := fmt.Sprintf(`SELECT * FROM %s WHERE %s >= $1 AND %s <= $2 ORDER BY %s ASC`,
		quoteIdent(table), quoteIdent(pkColumn), quoteIdent(pkColumn), quoteIdent(pkColumn))
	rows, err := p.db.QueryContext(ctx, q, lo, hi)
	if err != nil {
		return nil, classifyPostgresError(err, table, "scan range")
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, classifyPostgresError(err, table, "read column names")
	}
	return &postgresRowStream{rows: rows, columns: cols, table: table}, nil
}

// BulkInsert loads rows into table using a single COPY FROM STDIN statement
// via pq.CopyIn, the fastest set-based load path PostgreSQL offers.
func (p *Postgres) BulkInsert(ctx context.Context, table string, rows []Row) (*BulkInsertResult, error) {
	if len(rows) == 0 {
		return &BulkInsertResult{}, nil
	}
	start := time.Now()

	columns := columnOrder(rows[0])

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyPostgresError(err, table, "begin bulk insert transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return nil, classifyPostgresError(err, table, "prepare copy statement")
	}

	for _, row := range rows {
		values := make([]any, len(columns))
		for i, col := range columns {
			values[i] = row[col]
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return nil, classifyPostgresError(err, table, "copy row")
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return nil, classifyPostgresError(err, table, "flush copy buffer")
	}
	if err := stmt.Close(); err != nil {
		return nil, classifyPostgresError(err, table, "close copy statement")
	}
	if err := tx.Commit(); err != nil {
		return nil, classifyPostgresError(err, table, "commit bulk insert")
	}

	return &BulkInsertResult{
		RowsInserted: len(rows),
		LatencyMS:    Elapsed(start),
		PeakMemoryMB: estimateRowSetMemoryMB(rows),
	}, nil
}

func (p *Postgres) DropAndBackupConstraints(ctx context.Context, table string) ([]ConstraintBackup, error) {
	var backups []ConstraintBackup

	idxRows, err := p.db.QueryContext(ctx, `
		SELECT indexname, indexdef FROM pg_indexes
		WHERE schemaname = 'public' AND tablename = $1 AND indexdef NOT LIKE '%UNIQUE%pkey%'`, table)
	if err != nil {
		return nil, classifyPostgresError(err, table, "list indexes")
	}
	type idxDef struct{ name, def string }
	var idxs []idxDef
	for idxRows.Next() {
		var d idxDef
		if err := idxRows.Scan(&d.name, &d.def); err != nil {
			idxRows.Close()
			return nil, classifyPostgresError(err, table, "scan index")
		}
		idxs = append(idxs, d)
	}
	idxRows.Close()

	for _, d := range idxs {
		if _, err := p.db.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s`, quoteIdent(d.name))); err != nil {
			return nil, classifyPostgresError(err, table, "drop index "+d.name)
		}
		backups = append(backups, ConstraintBackup{ObjectName: d.name, ObjectType: "index", Definition: d.def})
	}

	fkRows, err := p.db.QueryContext(ctx, `
		SELECT con.conname, pg_get_constraintdef(con.oid)
		FROM pg_constraint con
		JOIN pg_class rel ON rel.oid = con.conrelid
		WHERE con.contype = 'f' AND rel.relname = $1`, table)
	if err != nil {
		return nil, classifyPostgresError(err, table, "list foreign keys")
	}
	type fkDef struct{ name, def string }
	var fks []fkDef
	for fkRows.Next() {
		var d fkDef
		if err := fkRows.Scan(&d.name, &d.def); err != nil {
			fkRows.Close()
			return nil, classifyPostgresError(err, table, "scan foreign key")
		}
		fks = append(fks, d)
	}
	fkRows.Close()

	for _, d := range fks {
		stmt := fmt.Sprintf(`ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s`, quoteIdent(table), quoteIdent(d.name))
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return nil, classifyPostgresError(err, table, "drop foreign key "+d.name)
		}
		backups = append(backups, ConstraintBackup{
			ObjectName: d.name,
			ObjectType: "foreign_key",
			Definition: fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s", quoteIdent(table), quoteIdent(d.name), d.def),
		})
	}

	p.log.Info("dropped constraints for bulk load",
		slog.String("table", table), slog.Int("count", len(backups)))
	return backups, nil
}

func (p *Postgres) RestoreConstraints(ctx context.Context, table string, backups []ConstraintBackup) error {
	for _, b := range backups {
		var stmt string
		switch b.ObjectType {
		case "index":
			stmt = b.Definition
		case "foreign_key":
			stmt = b.Definition
		default:
			continue
		}
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			// Idempotent: already-restored objects are not an error.
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return classifyPostgresError(err, table, "restore "+b.ObjectName)
		}
	}
	p.log.Info("restored constraints after bulk load", slog.String("table", table), slog.Int("count", len(backups)))
	return nil
}

func columnOrder(row Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	return cols
}

// estimateRowSetMemoryMB gives the adaptive batch controller a cheap,
// order-of-magnitude signal without instrumenting the Go runtime per batch.
func estimateRowSetMemoryMB(rows []Row) float64 {
	const avgRowOverheadBytes = 200
	total := 0
	for _, row := range rows {
		total += avgRowOverheadBytes
		for _, v := range row {
			if s, ok := v.(string); ok {
				total += len(s)
			} else {
				total += 8
			}
		}
	}
	return float64(total) / (1024 * 1024)
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// classifyPostgresError maps driver errors to adapter Kinds so the worker
// and catalog store can apply the right retry/terminal policy without
// parsing driver-specific text beyond what lib/pq already structures.
func classifyPostgresError(err error, table, action string) error {
	if err == nil {
		return nil
	}
	kind := KindUnknown
	msg := err.Error()

	switch {
	case errIsConnLost(err):
		kind = KindConnectionLost
	case strings.Contains(msg, "password authentication failed"), strings.Contains(msg, "authentication"):
		kind = KindAuthFailed
	case strings.Contains(msg, "does not exist"):
		kind = KindNotFound
	case strings.Contains(msg, "violates foreign key constraint"),
		strings.Contains(msg, "violates unique constraint"),
		strings.Contains(msg, "violates not-null constraint"),
		strings.Contains(msg, "violates check constraint"):
		kind = KindConstraintViolation
	case strings.Contains(msg, "invalid input syntax"), strings.Contains(msg, "out of range"):
		kind = KindTypeMismatch
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "context deadline exceeded"):
		kind = KindTimeout
	}

	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code.Class() {
		case "08": // connection exception
			kind = KindConnectionLost
		case "28": // invalid authorization specification
			kind = KindAuthFailed
		case "23": // integrity constraint violation
			kind = KindConstraintViolation
		case "22": // data exception
			kind = KindTypeMismatch
		}
	}

	return NewError(kind, table, action, err)
}

func errIsConnLost(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "bad connection") ||
		strings.Contains(msg, "EOF")
}
