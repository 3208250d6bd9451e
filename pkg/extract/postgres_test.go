package extract

import (
	"context"
	"testing"
	"time"

	"github.com/StevenACoffman/anotherr/errors"
	"github.com/jackc/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/config"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

func TestClassifyPGError(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	err := classifyPGError(unique, "loading rows")
	assert.True(t, errors.Is(err, etlerr.ErrConstraintViolation))

	syntax := &pgconn.PgError{Code: "42601", Message: "syntax error"}
	err = classifyPGError(syntax, "querying")
	assert.True(t, errors.Is(err, etlerr.ErrParse))

	err = classifyPGError(errors.New("dial tcp: connection refused"), "connecting")
	assert.True(t, errors.Is(err, etlerr.ErrConnection))
}

func TestNormalizePGValue(t *testing.T) {
	ts := time.Date(2023, 8, 15, 0, 0, 0, 0, time.UTC)
	assert.Nil(t, normalizePGValue(nil))
	assert.Equal(t, int64(7), normalizePGValue(int16(7)))
	assert.Equal(t, int64(7), normalizePGValue(int32(7)))
	assert.Equal(t, int64(7), normalizePGValue(int64(7)))
	assert.Equal(t, float64(1.5), normalizePGValue(float32(1.5)))
	assert.Equal(t, "raw", normalizePGValue([]byte("raw")))
	assert.Equal(t, ts, normalizePGValue(ts))
}

func TestExtractQueryWithoutConnection(t *testing.T) {
	cfg := config.Postgres{Host: "localhost", Port: 5432, Database: "reports", User: "etl"}
	e := NewPostgresExtractor(zaptest.NewLogger(t), cfg, "purchase_orders")
	_, err := e.ExtractQuery(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, etlerr.ErrConnection))
}

func TestIntrospectionWithoutConnection(t *testing.T) {
	cfg := config.Postgres{Host: "localhost", Port: 5432, Database: "reports", User: "etl"}
	e := NewPostgresExtractor(zaptest.NewLogger(t), cfg, "purchase_orders")
	ctx := context.Background()

	_, _, err := e.ColumnTypes(ctx, "purchase_orders")
	require.Error(t, err)
	assert.True(t, errors.Is(err, etlerr.ErrConnection))

	_, err = e.PrimaryKeys(ctx, "purchase_orders")
	require.Error(t, err)
	assert.True(t, errors.Is(err, etlerr.ErrConnection))

	// ExtractTable introspects columns first, so it fails the same way
	_, err = e.ExtractTable(ctx, "purchase_orders")
	require.Error(t, err)
	assert.True(t, errors.Is(err, etlerr.ErrConnection))
}

func TestExportCSVWithoutConnection(t *testing.T) {
	cfg := config.Postgres{Host: "localhost", Port: 5432, Database: "reports", User: "etl"}
	e := NewPostgresExtractor(zaptest.NewLogger(t), cfg, "purchase_orders")
	err := e.ExportCSV(context.Background(), "purchase_orders", "", t.TempDir()+"/out.csv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, etlerr.ErrConnection))
}
