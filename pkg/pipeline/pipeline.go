// Package pipeline sequences the extract, transform and load phases over
// the configured sources and targets. Phases run in order; any phase's
// failure halts the run and reports which phase and which named source or
// table failed. Phase-only runs resume from datasets persisted by the
// previous phase.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/StevenACoffman/anotherr/errors"
	"go.uber.org/zap"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/config"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/extract"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/gcpapi"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/stage"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/transform"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/warehouse"
)

// Names of the datasets flowing between phases.
const (
	DatasetPurchaseOrders = "purchase_orders"
	DatasetWeather        = "weather"
	DatasetAnalytics      = "analytics"
)

// Intermediate store phases.
const (
	phaseRaw         = "raw"
	phaseTransformed = "transformed"
)

// Phases selects which phases a run executes.
type Phases struct {
	Extract   bool
	Transform bool
	Load      bool
}

// All runs every phase.
func All() Phases { return Phases{Extract: true, Transform: true, Load: true} }

// LoaderFactory acquires a warehouse loader for the load phase. The
// returned release func runs when the phase is done, success or not.
type LoaderFactory func(ctx context.Context) (warehouse.Loader, func(), error)

// KeyResolver looks up the primary key columns of a relational source
// table, used when a merge target omits merge_keys.
type KeyResolver func(ctx context.Context, table string) ([]string, error)

// Pipeline is the orchestrator. Construct with New, then Run.
type Pipeline struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *stage.Store

	// NewLoader acquires the warehouse loader; tests substitute a fake.
	NewLoader LoaderFactory
	// ResolveKeys looks up source primary keys; tests substitute a fake.
	ResolveKeys KeyResolver
}

// New builds a pipeline over the given configuration, wired to the real
// warehouse.
func New(logger *zap.Logger, cfg *config.Config) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		logger: logger,
		store:  stage.NewStore(cfg.WorkDir),
	}
	p.NewLoader = p.newBigQueryLoader
	p.ResolveKeys = p.postgresPrimaryKeys
	return p
}

// Run executes the selected phases in order.
func (p *Pipeline) Run(ctx context.Context, phases Phases) error {
	start := time.Now()
	p.logger.Info("pipeline starting",
		zap.Bool("extract", phases.Extract),
		zap.Bool("transform", phases.Transform),
		zap.Bool("load", phases.Load))

	var po, weather *dataset.Dataset
	var err error

	if phases.Extract {
		po, weather, err = p.runExtract(ctx)
		if err != nil {
			return errors.Wrap(err, "extract phase failed")
		}
	}

	var transformedPO, transformedWeather, analytics *dataset.Dataset
	if phases.Transform {
		if po == nil {
			if po, err = p.store.Load(phaseRaw, DatasetPurchaseOrders); err != nil {
				return errors.Wrap(err, "transform phase failed")
			}
			if weather, err = p.store.Load(phaseRaw, DatasetWeather); err != nil {
				return errors.Wrap(err, "transform phase failed")
			}
		}
		transformedPO, transformedWeather, analytics, err = p.runTransform(po, weather)
		if err != nil {
			return errors.Wrap(err, "transform phase failed")
		}
	}

	if phases.Load {
		if transformedPO == nil {
			if transformedPO, err = p.store.Load(phaseTransformed, DatasetPurchaseOrders); err != nil {
				return errors.Wrap(err, "load phase failed")
			}
			if transformedWeather, err = p.store.Load(phaseTransformed, DatasetWeather); err != nil {
				return errors.Wrap(err, "load phase failed")
			}
			if analytics, err = p.store.Load(phaseTransformed, DatasetAnalytics); err != nil {
				return errors.Wrap(err, "load phase failed")
			}
		}
		if err := p.runLoad(ctx, transformedPO, transformedWeather, analytics); err != nil {
			return errors.Wrap(err, "load phase failed")
		}
	}

	p.logger.Info("pipeline complete", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// runExtract pulls purchase orders (CSV and/or Postgres) and weather (XML
// and/or marketplace feed), tags each row's SOURCE, combines per logical
// dataset and persists the raw results.
func (p *Pipeline) runExtract(ctx context.Context) (po, weather *dataset.Dataset, err error) {
	p.logger.Info("extraction phase starting")

	var poSets []*dataset.Dataset
	if src := p.cfg.Sources.PurchaseOrdersCSV; src != nil {
		ds, err := p.extractTagged(ctx,
			extract.NewCSVExtractor(p.logger, src.Path, src.Delimiter, src.Encoding, src.ChunkSize), "CSV")
		switch {
		case errors.Is(err, etlerr.ErrSourceNotFound):
			p.logger.Warn("purchase order csv not found, skipping", zap.String("path", src.Path))
		case err != nil:
			return nil, nil, errors.Wrap(err, "purchase orders from csv")
		default:
			poSets = append(poSets, ds)
		}
	}
	if p.cfg.Postgres.Configured() && p.cfg.Sources.PurchaseOrdersTable != "" {
		ds, err := p.extractPostgres(ctx)
		if err != nil {
			return nil, nil, errors.Wrap(err, "purchase orders from postgres")
		}
		poSets = append(poSets, ds)
	}
	if len(poSets) == 0 {
		return nil, nil, etlerr.Wrap(etlerr.ErrSourceNotFound, nil,
			"no purchase order data extracted from any source")
	}

	var weatherSets []*dataset.Dataset
	if src := p.cfg.Sources.WeatherXML; src != nil {
		ds, err := p.extractTagged(ctx,
			extract.NewWeatherXMLExtractor(p.logger, src.Path, src.Encoding), "XML")
		switch {
		case errors.Is(err, etlerr.ErrSourceNotFound):
			p.logger.Warn("weather xml not found, skipping", zap.String("path", src.Path))
		case err != nil:
			return nil, nil, errors.Wrap(err, "weather from xml")
		default:
			weatherSets = append(weatherSets, ds)
		}
	}
	if p.cfg.Sources.Marketplace != nil {
		ds, err := p.extractMarketplace(ctx)
		if err != nil {
			return nil, nil, errors.Wrap(err, "weather from marketplace")
		}
		weatherSets = append(weatherSets, ds)
	}
	if len(weatherSets) == 0 {
		return nil, nil, etlerr.Wrap(etlerr.ErrSourceNotFound, nil,
			"no weather data extracted from any source")
	}

	if po, err = dataset.Concat(poSets...); err != nil {
		return nil, nil, errors.Wrap(err, "combining purchase order sources")
	}
	if weather, err = dataset.Concat(weatherSets...); err != nil {
		return nil, nil, errors.Wrap(err, "combining weather sources")
	}
	p.logger.Info("extraction complete",
		zap.Int("purchaseOrders", po.Len()), zap.Int("weatherRecords", weather.Len()))

	if err := p.store.Save(phaseRaw, DatasetPurchaseOrders, po); err != nil {
		return nil, nil, errors.Wrap(err, "persisting raw purchase orders")
	}
	if err := p.store.Save(phaseRaw, DatasetWeather, weather); err != nil {
		return nil, nil, errors.Wrap(err, "persisting raw weather")
	}
	return po, weather, nil
}

// extractTagged runs an extractor and tags every row with its SOURCE.
func (p *Pipeline) extractTagged(ctx context.Context, e extract.Extractor, source string) (*dataset.Dataset, error) {
	ds, err := e.Extract(ctx)
	if err != nil {
		return nil, err
	}
	return ds.AddColumn("SOURCE", func(int) dataset.Value { return source })
}

// extractPostgres acquires a connection for the duration of the read.
// With purchase_orders_copy set the table is streamed to a local CSV via
// COPY and read back, skipping per-row materialization on the wire.
func (p *Pipeline) extractPostgres(ctx context.Context) (*dataset.Dataset, error) {
	table := p.cfg.Sources.PurchaseOrdersTable
	pg := extract.NewPostgresExtractor(p.logger, p.cfg.Postgres, table)
	if err := pg.Connect(ctx); err != nil {
		return nil, err
	}
	defer pg.Close(ctx)

	if !p.cfg.Sources.PurchaseOrdersCopy {
		return p.extractTagged(ctx, pg, "POSTGRESQL")
	}
	dir := filepath.Join(p.cfg.WorkDir, "export")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating export directory "+dir)
	}
	path := filepath.Join(dir, table+".csv")
	if err := pg.ExportCSV(ctx, table, "", path); err != nil {
		return nil, err
	}
	ds, err := stage.ReadCSVFile(path)
	if err != nil {
		return nil, err
	}
	return ds.AddColumn("SOURCE", func(int) dataset.Value { return "POSTGRESQL" })
}

// postgresPrimaryKeys opens a short-lived connection to read the table's
// primary key from the catalog.
func (p *Pipeline) postgresPrimaryKeys(ctx context.Context, table string) ([]string, error) {
	pg := extract.NewPostgresExtractor(p.logger, p.cfg.Postgres, table)
	if err := pg.Connect(ctx); err != nil {
		return nil, err
	}
	defer pg.Close(ctx)
	return pg.PrimaryKeys(ctx, table)
}

// extractMarketplace acquires a warehouse client for the duration of the
// read.
func (p *Pipeline) extractMarketplace(ctx context.Context) (*dataset.Dataset, error) {
	credentials, err := gcpapi.ReadCredentials(p.cfg.GCP.CredentialsFile)
	if err != nil {
		return nil, err
	}
	client, err := gcpapi.NewBigQueryClient(ctx, p.cfg.GCP.Project, credentials)
	if err != nil {
		return nil, etlerr.Wrap(etlerr.ErrConnection, err, "opening marketplace client")
	}
	defer func() {
		_ = client.Close()
	}()
	mp := extract.NewMarketplaceExtractor(p.logger, client, *p.cfg.Sources.Marketplace)
	return p.extractTagged(ctx, mp, "MARKETPLACE")
}

// runTransform applies the purchase-order and weather chains, correlates
// the two into the analytics dataset and persists all three.
func (p *Pipeline) runTransform(po, weather *dataset.Dataset) (tpo, tweather, analytics *dataset.Dataset, err error) {
	p.logger.Info("transformation phase starting")
	now := time.Now().UTC()
	t := p.cfg.Transform

	tpo, err = transform.Chain(p.logger, po, transform.StandardizePurchaseOrderColumns())
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "standardizing purchase orders")
	}
	tpo, err = transform.Chain(p.logger, tpo,
		transform.ConvertTypes(presentColumns(tpo, map[string]transform.Kind{
			transform.ColOrderDate:   transform.KindDate,
			transform.ColQuantity:    transform.KindNumber,
			transform.ColUnitPrice:   transform.KindNumber,
			transform.ColTotalAmount: transform.KindNumber,
		})),
		transform.DropNulls(t.RequiredColumns),
		transform.Deduplicate(t.DedupKeys),
		transform.CalculateTotals(),
		transform.ValidateOrderDates(time.Time{}, time.Time{}),
		transform.CategorizeOrders(t.CategoryThresholds),
		transform.AddFiscalInfo(t.FiscalYearStartMonth),
		transform.AddConstantColumn("ETL_TIMESTAMP", now),
	)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "transforming purchase orders")
	}

	tweather, err = transform.Chain(p.logger, weather, transform.StandardizeWeatherColumns())
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "standardizing weather")
	}
	tweather, err = transform.Chain(p.logger, tweather,
		transform.ConvertTypes(presentColumns(tweather, map[string]transform.Kind{
			transform.ColObservationDate: transform.KindDate,
			transform.ColTemperatureF:    transform.KindNumber,
			transform.ColHumidityPct:     transform.KindNumber,
			transform.ColPrecipitationIn: transform.KindNumber,
			transform.ColWindSpeedMPH:    transform.KindNumber,
		})),
		transform.DropNulls([]string{transform.ColObservationDate}),
		transform.AddWeatherSeverity(t.Severity),
		transform.AddSeason(t.Hemisphere),
		transform.AddConstantColumn("ETL_TIMESTAMP", now),
	)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "transforming weather")
	}

	analytics, err = transform.CorrelateWithPurchases(p.logger, tweather, tpo, t.Join)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "correlating weather with purchases")
	}

	p.logger.Info("transformation complete",
		zap.Int("purchaseOrders", tpo.Len()),
		zap.Int("weatherRecords", tweather.Len()),
		zap.Int("analyticsRows", analytics.Len()))

	for name, ds := range map[string]*dataset.Dataset{
		DatasetPurchaseOrders: tpo,
		DatasetWeather:        tweather,
		DatasetAnalytics:      analytics,
	} {
		if err := p.store.Save(phaseTransformed, name, ds); err != nil {
			return nil, nil, nil, errors.Wrap(err, "persisting transformed "+name)
		}
	}
	return tpo, tweather, analytics, nil
}

// runLoad writes the three output datasets to their configured targets in
// declared order. The loader is acquired once for the phase and released
// on the way out.
func (p *Pipeline) runLoad(ctx context.Context, po, weather, analytics *dataset.Dataset) error {
	p.logger.Info("loading phase starting")

	// a merge target without declared keys defaults to the source table's
	// primary key
	if tgt := &p.cfg.Targets.PurchaseOrders; tgt.Mode == "merge" && len(tgt.MergeKeys) == 0 {
		keys, err := p.ResolveKeys(ctx, p.cfg.Sources.PurchaseOrdersTable)
		if err != nil {
			return errors.Wrap(err, "resolving merge keys for purchase orders")
		}
		for i, key := range keys {
			keys[i] = strings.ToUpper(key)
		}
		tgt.MergeKeys = keys
		p.logger.Info("merge keys resolved from source primary key",
			zap.Strings("keys", keys))
	}

	loader, release, err := p.NewLoader(ctx)
	if err != nil {
		return err
	}
	defer release()

	steps := []struct {
		name   string
		target config.Target
		ds     *dataset.Dataset
	}{
		{DatasetPurchaseOrders, p.cfg.Targets.PurchaseOrders, po},
		{DatasetWeather, p.cfg.Targets.Weather, weather},
		{DatasetAnalytics, p.cfg.Targets.Analytics, analytics},
	}
	for _, step := range steps {
		mode, err := warehouse.ParseMode(step.target.Mode)
		if err != nil {
			return errors.Wrapf(err, "target %s", step.name)
		}
		if err := loader.Load(ctx, step.ds, step.target.Table, mode, step.target.MergeKeys); err != nil {
			return errors.Wrapf(err, "loading %s into table %s", step.name, step.target.Table)
		}
		p.logger.Info("table loaded",
			zap.String("dataset", step.name),
			zap.String("table", step.target.Table),
			zap.String("mode", step.target.Mode),
			zap.Int("rows", step.ds.Len()))
	}
	return nil
}

// newBigQueryLoader acquires the production warehouse and stage clients.
func (p *Pipeline) newBigQueryLoader(ctx context.Context) (warehouse.Loader, func(), error) {
	credentials, err := gcpapi.ReadCredentials(p.cfg.GCP.CredentialsFile)
	if err != nil {
		return nil, nil, err
	}
	bqClient, err := gcpapi.NewBigQueryClient(ctx, p.cfg.GCP.Project, credentials)
	if err != nil {
		return nil, nil, etlerr.Wrap(etlerr.ErrConnection, err, "opening warehouse client")
	}
	gcsClient, err := gcpapi.NewCloudStorageClient(ctx, credentials)
	if err != nil {
		_ = bqClient.Close()
		return nil, nil, etlerr.Wrap(etlerr.ErrConnection, err, "opening stage client")
	}
	release := func() {
		_ = bqClient.Close()
		_ = gcsClient.Close()
		p.logger.Info("warehouse clients closed")
	}
	loader := warehouse.NewBigQuery(
		p.logger,
		bqClient,
		gcsClient,
		p.cfg.GCP.Project,
		p.cfg.Targets.Dataset,
		p.cfg.Targets.TempDataset,
		p.cfg.Targets.GCSBucket,
		p.cfg.Targets.GCSFolder,
		os.TempDir(),
	)
	return loader, release, nil
}

// presentColumns filters a coercion map down to the columns the dataset
// actually carries; sources differ in which optional columns they provide.
func presentColumns(ds *dataset.Dataset, types map[string]transform.Kind) map[string]transform.Kind {
	out := make(map[string]transform.Kind, len(types))
	for col, kind := range types {
		if ds.HasColumn(col) {
			out[col] = kind
		}
	}
	return out
}
