package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/StevenACoffman/anotherr/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/config"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/transform"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/warehouse"
)

// fakeLoader implements warehouse.Loader in memory with the same
// append/replace/merge semantics as the production loader.
type fakeLoader struct {
	tables map[string]*dataset.Dataset
	loads  []string
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{tables: make(map[string]*dataset.Dataset)}
}

func (f *fakeLoader) Load(_ context.Context, ds *dataset.Dataset, table string, mode warehouse.Mode, keys []string) error {
	f.loads = append(f.loads, table+":"+string(mode))
	existing, ok := f.tables[table]
	if !ok || mode == warehouse.ModeReplace {
		f.tables[table] = ds.Clone()
		return nil
	}
	switch mode {
	case warehouse.ModeAppend:
		out, err := existing.AppendDataset(ds)
		if err != nil {
			return err
		}
		f.tables[table] = out
	case warehouse.ModeMerge:
		return f.merge(existing, ds, table, keys)
	default:
		return etlerr.Wrapf(etlerr.ErrConfiguration, nil, "unknown load mode %q", mode)
	}
	return nil
}

func (f *fakeLoader) merge(existing, ds *dataset.Dataset, table string, keys []string) error {
	rowKey := func(d *dataset.Dataset, row int) (string, error) {
		var b strings.Builder
		for _, k := range keys {
			v, err := d.Value(row, k)
			if err != nil {
				return "", err
			}
			b.WriteString(dataset.AsString(v))
			b.WriteByte(0x1f)
		}
		return b.String(), nil
	}
	byKey := make(map[string]int, existing.Len())
	for i := 0; i < existing.Len(); i++ {
		k, err := rowKey(existing, i)
		if err != nil {
			return err
		}
		byKey[k] = i
	}
	out := existing.Clone()
	for i := 0; i < ds.Len(); i++ {
		k, err := rowKey(ds, i)
		if err != nil {
			return err
		}
		if at, ok := byKey[k]; ok {
			for _, col := range ds.Columns() {
				v, _ := ds.Value(i, col)
				if err := out.SetValue(at, col, v); err != nil {
					return err
				}
			}
			continue
		}
		row := make([]dataset.Value, 0, out.Width())
		for _, col := range out.Columns() {
			v, err := ds.Value(i, col)
			if err != nil {
				return err
			}
			row = append(row, v)
		}
		if err := out.AppendRow(row); err != nil {
			return err
		}
	}
	f.tables[table] = out
	return nil
}

func TestLoaderMergeUpserts(t *testing.T) {
	fake := newFakeLoader()
	ctx := context.Background()

	existing := dataset.MustNew([]string{"KEY", "VAL"})
	require.NoError(t, existing.AppendRow([]dataset.Value{"1", "old"}))
	require.NoError(t, fake.Load(ctx, existing, "t", warehouse.ModeAppend, nil))

	incoming := dataset.MustNew([]string{"KEY", "VAL"})
	require.NoError(t, incoming.AppendRow([]dataset.Value{"1", "new"}))
	require.NoError(t, incoming.AppendRow([]dataset.Value{"2", "x"}))
	require.NoError(t, fake.Load(ctx, incoming, "t", warehouse.ModeMerge, []string{"KEY"}))

	table := fake.tables["t"]
	require.Equal(t, 2, table.Len())
	v, _ := table.Value(0, "VAL")
	assert.Equal(t, "new", v)
	v, _ = table.Value(1, "VAL")
	assert.Equal(t, "x", v)
}

func TestLoaderAppendAccumulatesDuplicates(t *testing.T) {
	fake := newFakeLoader()
	ctx := context.Background()

	rows := dataset.MustNew([]string{"KEY", "VAL"})
	require.NoError(t, rows.AppendRow([]dataset.Value{"1", "a"}))

	require.NoError(t, fake.Load(ctx, rows, "t", warehouse.ModeAppend, nil))
	require.NoError(t, fake.Load(ctx, rows, "t", warehouse.ModeAppend, nil))
	assert.Equal(t, 2, fake.tables["t"].Len())

	// the same duplicate input under merge stays at one row
	require.NoError(t, fake.Load(ctx, rows, "m", warehouse.ModeMerge, []string{"KEY"}))
	require.NoError(t, fake.Load(ctx, rows, "m", warehouse.ModeMerge, []string{"KEY"}))
	assert.Equal(t, 1, fake.tables["m"].Len())
}

func TestLoaderReplaceSubstitutesContent(t *testing.T) {
	fake := newFakeLoader()
	ctx := context.Background()

	first := dataset.MustNew([]string{"KEY"})
	require.NoError(t, first.AppendRow([]dataset.Value{"1"}))
	require.NoError(t, first.AppendRow([]dataset.Value{"2"}))
	require.NoError(t, fake.Load(ctx, first, "t", warehouse.ModeAppend, nil))

	second := dataset.MustNew([]string{"KEY"})
	require.NoError(t, second.AppendRow([]dataset.Value{"9"}))
	require.NoError(t, fake.Load(ctx, second, "t", warehouse.ModeReplace, nil))

	table := fake.tables["t"]
	require.Equal(t, 1, table.Len())
	v, _ := table.Value(0, "KEY")
	assert.Equal(t, "9", v)
}

const ordersCSV = `po_number,order_date,vendor,quantity,unit_price,location
PO-001,2023-08-15,Acme,10,25.50,Seattle
PO-001,2023-08-15,Acme,10,25.50,Seattle
PO-002,2023-08-16,Globex,200,75.00,Portland
PO-003,garbage-date,Initech,1,5.00,Seattle
`

const weatherXML = `<?xml version="1.0"?>
<weather_data>
  <weather_record>
    <date>2023-08-15</date>
    <location>Seattle</location>
    <temperature>75.5</temperature>
    <humidity>60</humidity>
    <precipitation>0.0</precipitation>
    <wind_speed>8.5</wind_speed>
    <conditions>Sunny</conditions>
  </weather_record>
  <weather_record>
    <date>2023-08-16</date>
    <location>Portland</location>
    <temperature>102.1</temperature>
    <humidity>30</humidity>
    <precipitation>1.2</precipitation>
    <wind_speed>12.0</wind_speed>
    <conditions>Heat wave</conditions>
  </weather_record>
</weather_data>
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.csv"), []byte(ordersCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weather.xml"), []byte(weatherXML), 0o644))

	cfg := config.Default()
	cfg.GCP.Project = "test-project"
	cfg.Sources.PurchaseOrdersCSV = &config.FileSource{Path: filepath.Join(dir, "orders.csv")}
	cfg.Sources.WeatherXML = &config.FileSource{Path: filepath.Join(dir, "weather.xml")}
	cfg.Targets.Dataset = "final"
	cfg.Targets.TempDataset = "final_temp"
	cfg.Targets.GCSBucket = "bucket"
	cfg.WorkDir = filepath.Join(dir, "work")
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config) (*Pipeline, *fakeLoader) {
	t.Helper()
	p := New(zaptest.NewLogger(t), cfg)
	fake := newFakeLoader()
	p.NewLoader = func(context.Context) (warehouse.Loader, func(), error) {
		return fake, func() {}, nil
	}
	return p, fake
}

func TestPipelineFullRun(t *testing.T) {
	cfg := testConfig(t)
	p, fake := newTestPipeline(t, cfg)

	require.NoError(t, p.Run(context.Background(), All()))

	require.Equal(t, []string{
		"PURCHASE_ORDERS:append",
		"WEATHER_DATA:append",
		"PURCHASE_WEATHER_ANALYTICS:append",
	}, fake.loads)

	po := fake.tables["PURCHASE_ORDERS"]
	require.NotNil(t, po)
	// duplicate PO-001 collapsed, garbage order date dropped
	require.Equal(t, 2, po.Len())

	for i := 0; i < po.Len(); i++ {
		category, err := po.Value(i, transform.ColOrderCategory)
		require.NoError(t, err)
		assert.NotNil(t, category)
		year, err := po.Value(i, transform.ColFiscalYear)
		require.NoError(t, err)
		assert.NotNil(t, year)
		source, err := po.Value(i, "SOURCE")
		require.NoError(t, err)
		assert.Equal(t, "CSV", source)
	}

	// 10 * 25.50 = 255 -> MEDIUM; 200 * 75 = 15000 -> ENTERPRISE
	category, _ := po.Value(0, transform.ColOrderCategory)
	assert.Equal(t, "MEDIUM", category)
	category, _ = po.Value(1, transform.ColOrderCategory)
	assert.Equal(t, "ENTERPRISE", category)

	weather := fake.tables["WEATHER_DATA"]
	require.NotNil(t, weather)
	require.Equal(t, 2, weather.Len())
	severity, err := weather.Value(1, transform.ColWeatherSeverity)
	require.NoError(t, err)
	// 102.1F is extreme heat and 1.2in is extreme precipitation
	assert.Equal(t, "SEVERE", severity)
	season, err := weather.Value(0, transform.ColSeason)
	require.NoError(t, err)
	assert.Equal(t, "SUMMER", season)

	analytics := fake.tables["PURCHASE_WEATHER_ANALYTICS"]
	require.NotNil(t, analytics)
	require.Equal(t, 2, analytics.Len())
	temp, err := analytics.Value(0, transform.ColTemperatureF)
	require.NoError(t, err)
	assert.Equal(t, float64(75.5), temp)
}

func TestPipelinePhaseOnlyRuns(t *testing.T) {
	cfg := testConfig(t)
	p, fake := newTestPipeline(t, cfg)

	require.NoError(t, p.Run(context.Background(), Phases{Extract: true}))
	assert.Empty(t, fake.loads)

	require.NoError(t, p.Run(context.Background(), Phases{Transform: true}))
	assert.Empty(t, fake.loads)

	require.NoError(t, p.Run(context.Background(), Phases{Load: true}))
	require.Len(t, fake.loads, 3)
	assert.Equal(t, 2, fake.tables["PURCHASE_ORDERS"].Len())
}

func TestPipelineLoadOnlyWithoutTransformOutput(t *testing.T) {
	cfg := testConfig(t)
	p, _ := newTestPipeline(t, cfg)

	err := p.Run(context.Background(), Phases{Load: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, etlerr.ErrSourceNotFound))
	assert.Contains(t, err.Error(), "run the transformed phase first")
}

func TestPipelineMissingFileSourcesFailsRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources.PurchaseOrdersCSV.Path = filepath.Join(t.TempDir(), "nope.csv")
	p, _ := newTestPipeline(t, cfg)

	// the csv source is skipped with a warning, and with no other
	// purchase order source the extract phase has nothing to work with
	err := p.Run(context.Background(), All())
	require.Error(t, err)
	assert.True(t, errors.Is(err, etlerr.ErrSourceNotFound))
	assert.Contains(t, err.Error(), "no purchase order data")
}

func TestPipelineMergeMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Targets.PurchaseOrders.Mode = "merge"
	cfg.Targets.PurchaseOrders.MergeKeys = []string{transform.ColPurchaseOrderID}
	require.NoError(t, cfg.Validate())

	p, fake := newTestPipeline(t, cfg)
	require.NoError(t, p.Run(context.Background(), All()))
	require.Equal(t, 2, fake.tables["PURCHASE_ORDERS"].Len())

	// a second full run upserts instead of appending
	require.NoError(t, p.Run(context.Background(), All()))
	assert.Equal(t, 2, fake.tables["PURCHASE_ORDERS"].Len())

	// append targets grow on reruns
	assert.Equal(t, 4, fake.tables["WEATHER_DATA"].Len())
}

func TestPipelineMergeKeysResolvedFromSource(t *testing.T) {
	cfg := testConfig(t)
	p, fake := newTestPipeline(t, cfg)
	require.NoError(t, p.Run(context.Background(), Phases{Extract: true, Transform: true}))

	// a merge target with no declared keys looks them up from the source
	// table's primary key, upper-cased to the standardized column names
	cfg.Postgres = config.Postgres{Host: "db.internal", Database: "reports", User: "etl"}
	cfg.Sources.PurchaseOrdersTable = "purchase_orders"
	cfg.Targets.PurchaseOrders.Mode = "merge"
	cfg.Targets.PurchaseOrders.MergeKeys = nil
	require.NoError(t, cfg.Validate())

	var asked string
	p.ResolveKeys = func(_ context.Context, table string) ([]string, error) {
		asked = table
		return []string{"purchase_order_id"}, nil
	}

	require.NoError(t, p.Run(context.Background(), Phases{Load: true}))
	assert.Equal(t, "purchase_orders", asked)
	assert.Equal(t, []string{transform.ColPurchaseOrderID}, cfg.Targets.PurchaseOrders.MergeKeys)
	require.Equal(t, 2, fake.tables["PURCHASE_ORDERS"].Len())
}
