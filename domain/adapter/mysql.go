package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/coldwire-data/migrator/pkg/logger"
)

// MySQL is the Adapter implementation for MySQL/MariaDB source and target
// databases. Unlike Postgres it has no COPY protocol, so BulkInsert issues a
// single multi-row INSERT statement per batch.
type MySQL struct {
	db     *sql.DB
	schema string
	log    *slog.Logger
}

// NewMySQL opens a connection pool against desc and verifies it with a ping.
func NewMySQL(ctx context.Context, desc ConnDescriptor, log *slog.Logger) (*MySQL, error) {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", desc.Host, portOr3306(desc.Port))
	cfg.User = desc.Username
	cfg.Passwd = desc.Password
	cfg.DBName = desc.Database
	cfg.ParseTime = true
	if desc.TLS {
		cfg.TLSConfig = "true"
	}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, NewError(KindUnknown, "", "open mysql connection", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	_, err = withRetry(ctx, defaultRetry, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return struct{}{}, classifyMySQLError(err, "", "connect")
		}
		return struct{}{}, nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &MySQL{db: db, schema: desc.Database, log: log.With(logger.Scope("adapter.mysql"))}, nil
}

func portOr3306(p int) int {
	if p == 0 {
		return 3306
	}
	return p
}

func (m *MySQL) Close() error { return m.db.Close() }

func (m *MySQL) DiscoverTables(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name`, m.schema)
	if err != nil {
		return nil, classifyMySQLError(err, "", "discover tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classifyMySQLError(err, "", "scan table name")
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (m *MySQL) DescribeTable(ctx context.Context, table string) (*TableDescriptor, error) {
	pkColumn, err := m.primaryKeyColumn(ctx, table)
	if err != nil {
		return nil, err
	}

	colRows, err := m.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES', column_default IS NOT NULL
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, m.schema, table)
	if err != nil {
		return nil, classifyMySQLError(err, table, "describe columns")
	}
	defer colRows.Close()

	var cols []Column
	for colRows.Next() {
		var c Column
		if err := colRows.Scan(&c.Name, &c.DBType, &c.Nullable, &c.HasDefault); err != nil {
			return nil, classifyMySQLError(err, table, "scan column")
		}
		cols = append(cols, c)
	}
	if err := colRows.Err(); err != nil {
		return nil, classifyMySQLError(err, table, "iterate columns")
	}
	if len(cols) == 0 {
		return nil, NewError(KindNotFound, table, "table has no columns or does not exist", nil)
	}

	// information_schema.tables.table_rows is an estimate from InnoDB
	// statistics, not a full COUNT(*) scan.
	var estimate sql.NullInt64
	err = m.db.QueryRowContext(ctx, `
		SELECT table_rows FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?`, m.schema, table).Scan(&estimate)
	if err != nil {
		return nil, classifyMySQLError(err, table, "read table statistics")
	}

	return &TableDescriptor{
		Name:             table,
		PKColumn:         pkColumn,
		Columns:          cols,
		RowCountEstimate: estimate.Int64,
	}, nil
}

func (m *MySQL) primaryKeyColumn(ctx context.Context, table string) (string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT column_name FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position`, m.schema, table)
	if err != nil {
		return "", classifyMySQLError(err, table, "resolve primary key")
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return "", classifyMySQLError(err, table, "scan primary key column")
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return "", classifyMySQLError(err, table, "iterate primary key columns")
	}
	if len(cols) != 1 {
		return "", NewError(KindTypeMismatch, table,
			fmt.Sprintf("table must have exactly one primary-key column, found %d", len(cols)), nil)
	}
	return cols[0], nil
}

func (m *MySQL) PKBounds(ctx context.Context, table, pkColumn string) (int64, int64, error) {
	var lo, hi sql.NullInt64
	q := fmt.Sprintf("SELECT MIN(`%s`), MAX(`%s`) FROM `%s`", pkColumn, pkColumn, table)
	if err := m.db.QueryRowContext(ctx, q).Scan(&lo, &hi); err != nil {
		return 0, 0, classifyMySQLError(err, table, "read pk bounds")
	}
	return lo.Int64, hi.Int64, nil
}

type mysqlRowStream struct {
	rows    *sql.Rows
	columns []string
	table   string
}

func (s *mysqlRowStream) Next(ctx context.Context) (Row, bool, error) {
	if !s.rows.Next() {
		return nil, false, classifyMySQLError(s.rows.Err(), s.table, "scan row")
	}
	values := make([]any, len(s.columns))
	ptrs := make([]any, len(s.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return nil, false, classifyMySQLError(err, s.table, "scan row")
	}
	row := make(Row, len(s.columns))
	for i, col := range s.columns {
		row[col] = values[i]
	}
	return row, true, nil
}

func (s *mysqlRowStream) Close() error { return s.rows.Close() }

func (m *MySQL) ScanRange(ctx context.Context, table, pkColumn string, lo, hi int64) (RowStream, error) {
	q := fmt.Sprintf("SELECT * FROM `%s` WHERE `%s` >= ? AND `%s` <= ? ORDER BY `%s` ASC",
		table, pkColumn, pkColumn, pkColumn)
	rows, err := m.db.QueryContext(ctx, q, lo, hi)
	if err != nil {
		return nil, classifyMySQLError(err, table, "scan range")
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, classifyMySQLError(err, table, "read column names")
	}
	return &mysqlRowStream{rows: rows, columns: cols, table: table}, nil
}

// BulkInsert issues one multi-row INSERT for the whole batch. MySQL has no
// COPY protocol; a single parameterized statement is the fastest available
// set-based load path.
func (m *MySQL) BulkInsert(ctx context.Context, table string, rows []Row) (*BulkInsertResult, error) {
	if len(rows) == 0 {
		return &BulkInsertResult{}, nil
	}
	start := time.Now()

	columns := columnOrder(rows[0])
	placeholders := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	rowPH := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"

	for i, row := range rows {
		placeholders[i] = rowPH
		for _, col := range columns {
			args = append(args, row[col])
		}
	}

	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = "`" + c + "`"
	}

	stmt := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES %s",
		table, strings.Join(quotedCols, ","), strings.Join(placeholders, ","))

	if _, err := m.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, classifyMySQLError(err, table, "bulk insert")
	}

	return &BulkInsertResult{
		RowsInserted: len(rows),
		LatencyMS:    Elapsed(start),
		PeakMemoryMB: estimateRowSetMemoryMB(rows),
	}, nil
}

// DropAndBackupConstraints drops every secondary (non-PRIMARY) index on
// table and returns their definitions. Foreign keys are not dropped or
// backed up by the MySQL adapter; they stay in place during the bulk load.
func (m *MySQL) DropAndBackupConstraints(ctx context.Context, table string) ([]ConstraintBackup, error) {
	var backups []ConstraintBackup

	idxRows, err := m.db.QueryContext(ctx, `
		SELECT index_name, MIN(non_unique) FROM information_schema.statistics
		WHERE table_schema = ? AND table_name = ? AND index_name != 'PRIMARY'
		GROUP BY index_name`, m.schema, table)
	if err != nil {
		return nil, classifyMySQLError(err, table, "list indexes")
	}
	var names []string
	unique := map[string]bool{}
	for idxRows.Next() {
		var n string
		var nonUnique int
		if err := idxRows.Scan(&n, &nonUnique); err != nil {
			idxRows.Close()
			return nil, classifyMySQLError(err, table, "scan index")
		}
		names = append(names, n)
		unique[n] = nonUnique == 0
	}
	idxRows.Close()

	for _, name := range names {
		cols, colErr := m.indexColumns(ctx, table, name)
		if colErr != nil {
			return nil, colErr
		}
		kind := "INDEX"
		if unique[name] {
			kind = "UNIQUE INDEX"
		}
		def := fmt.Sprintf("CREATE %s `%s` ON `%s` (%s)", kind, name, table, strings.Join(cols, ","))
		if _, err := m.db.ExecContext(ctx, fmt.Sprintf("DROP INDEX `%s` ON `%s`", name, table)); err != nil {
			return nil, classifyMySQLError(err, table, "drop index "+name)
		}
		backups = append(backups, ConstraintBackup{ObjectName: name, ObjectType: "index", Definition: def})
	}

	m.log.Info("dropped constraints for bulk load", slog.String("table", table), slog.Int("count", len(backups)))
	return backups, nil
}

func (m *MySQL) indexColumns(ctx context.Context, table, index string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT column_name FROM information_schema.statistics
		WHERE table_schema = ? AND table_name = ? AND index_name = ?
		ORDER BY seq_in_index`, m.schema, table, index)
	if err != nil {
		return nil, classifyMySQLError(err, table, "read index columns")
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, classifyMySQLError(err, table, "scan index column")
		}
		cols = append(cols, "`"+c+"`")
	}
	if err := rows.Err(); err != nil {
		return nil, classifyMySQLError(err, table, "iterate index columns")
	}
	return cols, nil
}

func (m *MySQL) RestoreConstraints(ctx context.Context, table string, backups []ConstraintBackup) error {
	for _, b := range backups {
		if _, err := m.db.ExecContext(ctx, b.Definition); err != nil {
			if strings.Contains(err.Error(), "Duplicate key name") {
				continue
			}
			return classifyMySQLError(err, table, "restore "+b.ObjectName)
		}
	}
	m.log.Info("restored constraints after bulk load", slog.String("table", table), slog.Int("count", len(backups)))
	return nil
}

func classifyMySQLError(err error, table, action string) error {
	if err == nil {
		return nil
	}
	kind := KindUnknown
	msg := err.Error()

	if mysqlErr, ok := err.(*mysql.MySQLError); ok {
		switch mysqlErr.Number {
		case 1045, 1044: // access denied
			kind = KindAuthFailed
		case 1146, 1049: // unknown table/database
			kind = KindNotFound
		case 1062, 1451, 1452, 1048: // duplicate key, FK violation, not-null
			kind = KindConstraintViolation
		case 1366, 1264: // incorrect value, out of range
			kind = KindTypeMismatch
		}
	}

	switch {
	case kind != KindUnknown:
		// already classified above
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "invalid connection"), strings.Contains(msg, "EOF"):
		kind = KindConnectionLost
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "context deadline exceeded"):
		kind = KindTimeout
	}

	return NewError(kind, table, action, err)
}
