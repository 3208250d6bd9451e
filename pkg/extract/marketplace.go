package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/StevenACoffman/anotherr/errors"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/config"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// MarketplaceExtractor reads the weather-history feed from a dataset shared
// into the warehouse project (an Analytics Hub linked dataset). It is a
// query extractor like the Postgres one, just against BigQuery.
type MarketplaceExtractor struct {
	client *bigquery.Client
	cfg    config.MarketplaceSource
	logger *zap.Logger
}

// NewMarketplaceExtractor wraps an existing warehouse client.
func NewMarketplaceExtractor(logger *zap.Logger, client *bigquery.Client, cfg config.MarketplaceSource) *MarketplaceExtractor {
	return &MarketplaceExtractor{client: client, cfg: cfg, logger: logger}
}

// Extract materializes the configured weather-history slice. The shared
// dataset's table list is checked first so a mistyped table name reads as
// a missing source, not a query failure.
func (e *MarketplaceExtractor) Extract(ctx context.Context) (*dataset.Dataset, error) {
	tables, err := e.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for _, t := range tables {
		if t == e.cfg.Table {
			found = true
			break
		}
	}
	if !found {
		return nil, etlerr.Wrapf(etlerr.ErrSourceNotFound, nil,
			"table %s not in shared dataset %s (tables: %s)",
			e.cfg.Table, e.cfg.Dataset, strings.Join(tables, ", "))
	}
	return e.ExtractQuery(ctx, WeatherHistoryQuery(e.cfg))
}

// WeatherHistoryQuery builds the feed query with the configured optional
// filters and row limit.
func WeatherHistoryQuery(cfg config.MarketplaceSource) string {
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT
  date,
  city,
  state,
  country,
  avg_temperature_f,
  min_temperature_f,
  max_temperature_f,
  precipitation_inches,
  humidity_pct,
  wind_speed_mph
FROM %s.%s
WHERE 1=1`, cfg.Dataset, cfg.Table)
	if cfg.Location != "" {
		fmt.Fprintf(&b, "\nAND city = '%s'", cfg.Location)
	}
	if cfg.StartDate != "" {
		fmt.Fprintf(&b, "\nAND date >= '%s'", cfg.StartDate)
	}
	if cfg.EndDate != "" {
		fmt.Fprintf(&b, "\nAND date <= '%s'", cfg.EndDate)
	}
	b.WriteString("\nORDER BY date DESC")
	if cfg.Limit > 0 {
		fmt.Fprintf(&b, "\nLIMIT %d", cfg.Limit)
	}
	return b.String()
}

// ExtractQuery runs an arbitrary query against the feed and materializes
// all returned rows.
func (e *MarketplaceExtractor) ExtractQuery(ctx context.Context, q string) (*dataset.Dataset, error) {
	if e.client == nil {
		return nil, etlerr.Wrap(etlerr.ErrConnection, nil, "marketplace extractor has no client")
	}
	e.logger.Info("running marketplace query", zap.String("query", truncateSQL(q)))

	iter, err := e.client.Query(q).Read(ctx)
	if err != nil {
		return nil, etlerr.Wrap(etlerr.ErrConnection, err, "reading marketplace query")
	}

	// On job-backed reads iter.Schema stays nil until the first page has
	// been fetched, so drain the rows before looking at it.
	var raw [][]bigquery.Value
	for {
		var row []bigquery.Value
		err = iter.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, etlerr.Wrap(etlerr.ErrConnection, err, "fetching marketplace row")
		}
		raw = append(raw, row)
	}

	ds, err := materializeBQRows(iter.Schema, raw)
	if err != nil {
		return nil, err
	}
	e.logger.Info("marketplace extraction complete", zap.Int("rows", ds.Len()))
	return ds, nil
}

// materializeBQRows builds a dataset with the schema's column order and
// the scalar-normalized row values.
func materializeBQRows(schema bigquery.Schema, rows [][]bigquery.Value) (*dataset.Dataset, error) {
	cols := make([]string, len(schema))
	for i, fs := range schema {
		cols[i] = fs.Name
	}
	ds, err := dataset.New(cols)
	if err != nil {
		return nil, errors.Wrap(err, "building dataset from marketplace schema")
	}
	for _, row := range rows {
		vals := make([]dataset.Value, len(row))
		for i, v := range row {
			vals[i] = normalizeBQValue(v)
		}
		if err := ds.AppendRow(vals); err != nil {
			return nil, errors.Wrap(err, "appending marketplace row")
		}
	}
	return ds, nil
}

// ListTables enumerates the tables visible in the shared dataset.
func (e *MarketplaceExtractor) ListTables(ctx context.Context) ([]string, error) {
	if e.client == nil {
		return nil, etlerr.Wrap(etlerr.ErrConnection, nil, "marketplace extractor has no client")
	}
	it := e.client.Dataset(e.cfg.Dataset).Tables(ctx)
	var names []string
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, etlerr.Wrap(etlerr.ErrConnection, err, "listing marketplace tables")
		}
		names = append(names, t.TableID)
	}
}

// normalizeBQValue squeezes client types into the dataset's scalar set.
func normalizeBQValue(v bigquery.Value) dataset.Value {
	switch t := v.(type) {
	case nil:
		return nil
	case int64, float64, bool, string, time.Time:
		return t
	case civil.Date:
		return t.In(time.UTC)
	case civil.DateTime:
		return t.In(time.UTC)
	default:
		return fmt.Sprint(t)
	}
}
