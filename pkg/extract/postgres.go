package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/StevenACoffman/anotherr/errors"
	"github.com/elliotchance/sshtunnel"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"go.uber.org/zap"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/config"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// PostgresExtractor runs queries against the relational source and
// materializes the results. Connections are opened by Connect and held for
// one phase's operations; Close releases them.
type PostgresExtractor struct {
	cfg    config.Postgres
	Table  string // table read by Extract
	conn   *pgx.Conn
	tunnel *sshtunnel.SSHTunnel
	logger *zap.Logger
}

// NewPostgresExtractor builds an extractor for one table; no connection is
// opened yet.
func NewPostgresExtractor(logger *zap.Logger, cfg config.Postgres, table string) *PostgresExtractor {
	return &PostgresExtractor{cfg: cfg, Table: table, logger: logger}
}

// Extract materializes the configured table.
func (e *PostgresExtractor) Extract(ctx context.Context) (*dataset.Dataset, error) {
	return e.ExtractTable(ctx, e.Table)
}

// Connect opens the database connection, first standing up the SSH tunnel
// when one is configured.
func (e *PostgresExtractor) Connect(ctx context.Context) error {
	host := e.cfg.Host
	port := e.cfg.Port

	if t := e.cfg.Tunnel; t != nil {
		tunnel := sshtunnel.NewSSHTunnel(
			t.Bastion,
			sshtunnel.PrivateKeyFile(t.PrivateKey),
			t.RemoteAddr,
			"0",
		)
		go func() {
			if err := tunnel.Start(); err != nil {
				e.logger.Error("ssh tunnel stopped", zap.Error(err))
			}
		}()
		// give the tunnel a moment to bind its local port
		time.Sleep(100 * time.Millisecond)
		e.tunnel = tunnel
		host = "127.0.0.1"
		port = tunnel.Local.Port
		e.logger.Info("ssh tunnel established",
			zap.String("bastion", t.Bastion), zap.Int("localPort", port))
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s search_path=%s",
		host, port, e.cfg.User, e.cfg.Password, e.cfg.Database, e.cfg.Schema,
	)
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return etlerr.Wrapf(etlerr.ErrConnection, err,
			"connecting to postgres %s:%d/%s", host, port, e.cfg.Database)
	}
	e.conn = conn
	return nil
}

// Close releases the connection and the tunnel, if any.
func (e *PostgresExtractor) Close(ctx context.Context) {
	if e.conn != nil {
		_ = e.conn.Close(ctx)
		e.logger.Info("postgres connection closed")
	}
	if e.tunnel != nil {
		e.tunnel.Close()
	}
}

// ExtractQuery runs an arbitrary query and materializes all returned rows.
func (e *PostgresExtractor) ExtractQuery(ctx context.Context, query string) (*dataset.Dataset, error) {
	if e.conn == nil {
		return nil, etlerr.Wrap(etlerr.ErrConnection, nil, "postgres extractor has no open connection")
	}
	e.logger.Info("running postgres query", zap.String("query", truncateSQL(query)))

	rows, err := e.conn.Query(ctx, query)
	if err != nil {
		return nil, classifyPGError(err, "querying postgres")
	}
	defer rows.Close()

	cols := make([]string, 0, len(rows.FieldDescriptions()))
	for _, fd := range rows.FieldDescriptions() {
		cols = append(cols, string(fd.Name))
	}
	ds, err := dataset.New(cols)
	if err != nil {
		return nil, errors.Wrap(err, "building dataset from postgres columns")
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, classifyPGError(err, "scanning postgres row")
		}
		row := make([]dataset.Value, len(vals))
		for i, v := range vals {
			row[i] = normalizePGValue(v)
		}
		if err := ds.AppendRow(row); err != nil {
			return nil, errors.Wrap(err, "appending postgres row")
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPGError(err, "reading postgres rows")
	}

	e.logger.Info("postgres extraction complete", zap.Int("rows", ds.Len()))
	return ds, nil
}

// TableQuery builds the SELECT used to pull a whole table, with optional
// column list, where clause and limit.
func TableQuery(table string, columns []string, where string, limit int) string {
	colStr := "*"
	if len(columns) > 0 {
		colStr = strings.Join(columns, ", ")
	}
	query := fmt.Sprintf("SELECT %s FROM %s", colStr, table)
	if where != "" {
		query += " WHERE " + where
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return query
}

// ExtractTable materializes one table's content. Columns are named
// explicitly from the catalog so the dataset's column order matches the
// table's declared order regardless of how the planner expands *.
func (e *PostgresExtractor) ExtractTable(ctx context.Context, table string) (*dataset.Dataset, error) {
	cols, types, err := e.ColumnTypes(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, etlerr.Wrapf(etlerr.ErrSourceNotFound, nil,
			"table %s has no columns in schema %s", table, e.cfg.Schema)
	}
	e.logger.Debug("table introspected",
		zap.String("table", table), zap.Int("columns", len(types)))
	return e.ExtractQuery(ctx, TableQuery(table, cols, "", 0))
}

// CopyQuery builds the COPY statement that exports a table straight to CSV
// on the wire, header included.
func CopyQuery(table, where string) string {
	return fmt.Sprintf("COPY (%s) TO STDOUT CSV HEADER", TableQuery(table, nil, where, 0))
}

// ExportCSV streams a table's content directly into the file at path via
// COPY, skipping row materialization. Cheaper than ExtractTable when the
// rows only need staging, not transformation.
func (e *PostgresExtractor) ExportCSV(ctx context.Context, table, where, path string) error {
	if e.conn == nil {
		return etlerr.Wrap(etlerr.ErrConnection, nil, "postgres extractor has no open connection")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating export file "+path)
	}
	copySQL := CopyQuery(table, where)
	e.logger.Info("running postgres copy", zap.String("query", truncateSQL(copySQL)))

	res, err := e.conn.PgConn().CopyTo(ctx, f, copySQL)
	if err != nil {
		_ = f.Close()
		return classifyPGError(err, "copying table "+table)
	}
	e.logger.Info("postgres export complete",
		zap.String("table", table),
		zap.String("path", path),
		zap.Int64("rows", res.RowsAffected()))
	return errors.Wrap(f.Close(), "closing export file "+path)
}

// ColumnTypes introspects information_schema for the table's column names
// (in ordinal order) and their declared types.
func (e *PostgresExtractor) ColumnTypes(ctx context.Context, table string) ([]string, map[string]string, error) {
	query := `SELECT column_name, data_type
FROM information_schema.columns
WHERE table_name = $1
ORDER BY ordinal_position`
	if e.conn == nil {
		return nil, nil, etlerr.Wrap(etlerr.ErrConnection, nil, "postgres extractor has no open connection")
	}
	rows, err := e.conn.Query(ctx, query, table)
	if err != nil {
		return nil, nil, classifyPGError(err, "querying column types for "+table)
	}
	defer rows.Close()

	var names []string
	types := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, nil, errors.Wrap(err, "scanning column types for "+table)
		}
		names = append(names, name)
		types[name] = dataType
	}
	return names, types, errors.Wrap(rows.Err(), "reading column types for "+table)
}

// PrimaryKeys introspects pg_constraint for the table's primary key columns.
func (e *PostgresExtractor) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	query := `SELECT pg_get_constraintdef(oid)
FROM pg_constraint
WHERE contype = 'p'
AND conrelid::regclass::text = $1`
	if e.conn == nil {
		return nil, etlerr.Wrap(etlerr.ErrConnection, nil, "postgres extractor has no open connection")
	}
	rows, err := e.conn.Query(ctx, query, table)
	if err != nil {
		return nil, classifyPGError(err, "querying primary keys for "+table)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, errors.New("no primary key constraint on table " + table)
	}
	var def string
	if err := rows.Scan(&def); err != nil {
		return nil, errors.Wrap(err, "scanning primary key constraint")
	}
	keys := strings.TrimSuffix(strings.TrimPrefix(def, "PRIMARY KEY ("), ")")
	return strings.Split(keys, ", "), nil
}

// classifyPGError maps driver errors onto the failure taxonomy: integrity
// violations (SQLSTATE class 23) are constraint violations, everything else
// from the wire is a connection failure.
func classifyPGError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "23") {
			return etlerr.Wrap(etlerr.ErrConstraintViolation, err, msg)
		}
		return etlerr.Wrap(etlerr.ErrParse, err, msg)
	}
	return etlerr.Wrap(etlerr.ErrConnection, err, msg)
}

// normalizePGValue squeezes driver types into the dataset's scalar set.
func normalizePGValue(v interface{}) dataset.Value {
	switch t := v.(type) {
	case nil:
		return nil
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64, float64, bool, string, time.Time:
		return t
	case float32:
		return float64(t)
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func truncateSQL(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > 100 {
		return q[:100] + "..."
	}
	return q
}
