package warehouse

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/StevenACoffman/anotherr/errors"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/stage"
)

// BigQuery loads datasets through the staged bulk path: local CSV, GCS
// object, then a single load job (and for merges, a single MERGE
// statement). Load jobs and MERGE are atomic on the warehouse side.
type BigQuery struct {
	client      *bigquery.Client
	gcs         *storage.Client
	project     string
	dataset     string
	tempDataset string
	bucket      string
	folder      string
	scratchDir  string
	logger      *zap.Logger
}

// NewBigQuery wires a loader over existing warehouse and storage clients.
func NewBigQuery(
	logger *zap.Logger,
	client *bigquery.Client,
	gcs *storage.Client,
	project, ds, tempDS, bucket, folder, scratchDir string,
) *BigQuery {
	return &BigQuery{
		client:      client,
		gcs:         gcs,
		project:     project,
		dataset:     ds,
		tempDataset: tempDS,
		bucket:      bucket,
		folder:      folder,
		scratchDir:  scratchDir,
		logger:      logger,
	}
}

// Load implements Loader.
func (b *BigQuery) Load(ctx context.Context, ds *dataset.Dataset, table string, mode Mode, keys []string) error {
	if ds.Len() == 0 {
		b.logger.Warn("empty dataset, nothing to load", zap.String("table", table))
		return nil
	}
	if err := b.checkSchema(ctx, b.dataset, table, ds); err != nil {
		return err
	}

	switch mode {
	case ModeAppend:
		return b.loadJob(ctx, ds, b.dataset, table, bigquery.WriteAppend)
	case ModeReplace:
		return b.loadJob(ctx, ds, b.dataset, table, bigquery.WriteTruncate)
	case ModeMerge:
		return b.merge(ctx, ds, table, keys)
	default:
		return etlerr.Wrapf(etlerr.ErrConfiguration, nil, "unknown load mode %q", mode)
	}
}

// loadJob stages ds to GCS and runs one load job into dsName.table.
func (b *BigQuery) loadJob(ctx context.Context, ds *dataset.Dataset, dsName, table string, disposition bigquery.TableWriteDisposition) error {
	fileName, err := stage.MakeStagingFileName(table)
	if err != nil {
		return err
	}
	localPath := filepath.Join(b.scratchDir, fileName)
	if err := stage.WriteCSVFile(ds, localPath); err != nil {
		return err
	}

	objectName := path.Join(b.folder, time.Now().UTC().Format("20060102_1504"), fileName)
	if err := stage.UploadCSV(ctx, b.logger, b.gcs, b.bucket, objectName, localPath); err != nil {
		return err
	}

	gcsRef := bigquery.NewGCSReference(fmt.Sprintf("gs://%s/%s", b.bucket, objectName))
	gcsRef.SourceFormat = bigquery.CSV
	gcsRef.SkipLeadingRows = 1
	gcsRef.Schema = schemaFor(ds)

	loader := b.client.Dataset(dsName).Table(table).LoaderFrom(gcsRef)
	loader.WriteDisposition = disposition
	loader.CreateDisposition = bigquery.CreateIfNeeded

	job, err := loader.Run(ctx)
	if err != nil {
		return etlerr.Wrapf(etlerr.ErrConnection, err, "starting load job for %s", table)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return etlerr.Wrapf(etlerr.ErrConnection, err, "waiting on load job for %s", table)
	}
	if status != nil && status.Err() != nil {
		return etlerr.Wrapf(etlerr.ErrConstraintViolation, status.Err(),
			"load job for %s failed", table)
	}

	b.logger.Info("load job complete",
		zap.String("table", table),
		zap.String("mode", string(disposition)),
		zap.Int("rows", ds.Len()))
	return nil
}

// merge loads ds into a temp table, upserts it into the target on the key
// columns, and drops the temp table.
func (b *BigQuery) merge(ctx context.Context, ds *dataset.Dataset, table string, keys []string) error {
	tempTable := fmt.Sprintf("temp_%s_%s", table, time.Now().UTC().Format("20060102_150405"))
	if err := b.loadJob(ctx, ds, b.tempDataset, tempTable, bigquery.WriteTruncate); err != nil {
		return err
	}
	defer func() {
		if err := b.client.Dataset(b.tempDataset).Table(tempTable).Delete(context.Background()); err != nil {
			b.logger.Warn("failed to drop temp merge table",
				zap.String("table", tempTable), zap.Error(err))
		}
	}()

	query, err := MergeQuery(
		b.tableFQN(b.dataset, table),
		b.tableFQN(b.tempDataset, tempTable),
		ds.Columns(),
		keys,
	)
	if err != nil {
		return err
	}
	b.logger.Info("running merge", zap.String("target", table), zap.Strings("keys", keys))
	if _, err := b.runQuery(ctx, query); err != nil {
		return errors.Wrapf(err, "merging into %s", table)
	}
	return nil
}

// checkSchema compares the dataset's columns against an existing target
// table. A missing table is fine (the load job creates it); a column-set
// mismatch is a SchemaMismatch before any write happens.
func (b *BigQuery) checkSchema(ctx context.Context, dsName, table string, ds *dataset.Dataset) error {
	meta, err := b.client.Dataset(dsName).Table(table).Metadata(ctx)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			return nil
		}
		return etlerr.Wrapf(etlerr.ErrConnection, err, "fetching metadata for %s", table)
	}

	existing := make(map[string]bool, len(meta.Schema))
	for _, fs := range meta.Schema {
		existing[fs.Name] = true
	}
	for _, col := range ds.Columns() {
		if !existing[col] {
			return etlerr.Wrapf(etlerr.ErrSchemaMismatch, nil,
				"dataset column %q does not exist in table %s", col, table)
		}
	}
	return nil
}

func (b *BigQuery) tableFQN(dsName, table string) string {
	return fmt.Sprintf("`%s`.%s.%s", b.project, dsName, table)
}

// runQuery executes a statement and drains its result iterator.
func (b *BigQuery) runQuery(ctx context.Context, q string) ([][]bigquery.Value, error) {
	iter, err := b.client.Query(q).Read(ctx)
	if err != nil {
		return nil, etlerr.Wrap(etlerr.ErrConnection, err, "reading warehouse query")
	}
	var rows [][]bigquery.Value
	for {
		var row []bigquery.Value
		err = iter.Next(&row)
		if errors.Is(err, iterator.Done) {
			return rows, nil
		}
		if err != nil {
			return nil, etlerr.Wrap(etlerr.ErrConnection, err, "fetching warehouse row")
		}
		rows = append(rows, row)
	}
}

// schemaFor infers each column's field type from its first non-null value.
// Columns that never carry a value load as strings.
func schemaFor(ds *dataset.Dataset) bigquery.Schema {
	schema := make(bigquery.Schema, 0, ds.Width())
	for ci, col := range ds.Columns() {
		fieldType := bigquery.StringFieldType
		for i := 0; i < ds.Len(); i++ {
			v := ds.Row(i)[ci]
			if dataset.IsNull(v) {
				continue
			}
			switch v.(type) {
			case float64:
				fieldType = bigquery.FloatFieldType
			case int64:
				fieldType = bigquery.IntegerFieldType
			case bool:
				fieldType = bigquery.BooleanFieldType
			case time.Time:
				fieldType = bigquery.TimestampFieldType
			default:
				fieldType = bigquery.StringFieldType
			}
			break
		}
		schema = append(schema, &bigquery.FieldSchema{Name: col, Type: fieldType})
	}
	return schema
}
