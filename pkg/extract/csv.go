package extract

import (
	"context"
	"encoding/csv"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// CSVExtractor reads one delimited file whose first row names the columns.
// All cells come out as strings (or nil for empty cells); type coercion is
// a transformation concern.
type CSVExtractor struct {
	Path      string
	Delimiter rune
	Encoding  string // IANA charset name; "" means UTF-8
	ChunkSize int    // rows per internal read batch; <=0 reads in one pass
	logger    *zap.Logger
}

// NewCSVExtractor builds an extractor for the file at path. delimiter ""
// means comma, encoding "" means UTF-8.
func NewCSVExtractor(logger *zap.Logger, path, delimiter, encoding string, chunkSize int) *CSVExtractor {
	comma := ','
	if delimiter != "" {
		comma = []rune(delimiter)[0]
	}
	return &CSVExtractor{
		Path:      path,
		Delimiter: comma,
		Encoding:  encoding,
		ChunkSize: chunkSize,
		logger:    logger,
	}
}

// Extract reads the whole file. Chunked reading is internal only: callers
// always receive a single logical dataset.
func (e *CSVExtractor) Extract(ctx context.Context) (*dataset.Dataset, error) {
	f, err := os.Open(e.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, etlerr.Wrapf(etlerr.ErrSourceNotFound, err, "csv file %s", e.Path)
		}
		return nil, etlerr.Wrapf(etlerr.ErrParse, err, "opening csv file %s", e.Path)
	}
	defer func() {
		_ = f.Close()
	}()

	decoded, err := decodingReader(f, e.Encoding)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(decoded)
	reader.Comma = e.Delimiter

	header, err := reader.Read()
	if err != nil {
		return nil, etlerr.Wrapf(etlerr.ErrParse, err, "reading csv header of %s", e.Path)
	}
	ds, err := dataset.New(header)
	if err != nil {
		return nil, etlerr.Wrapf(etlerr.ErrParse, err, "csv header of %s", e.Path)
	}

	chunk := e.ChunkSize
	if chunk <= 0 {
		chunk = 1 << 30
	}
	rowNum := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		read := 0
		for read < chunk {
			record, err := reader.Read()
			if err == io.EOF {
				e.logger.Info("csv extraction complete",
					zap.String("path", e.Path),
					zap.Int("rows", ds.Len()))
				return ds, nil
			}
			if err != nil {
				return nil, etlerr.Wrapf(etlerr.ErrParse, err,
					"csv row %d of %s", rowNum, e.Path)
			}
			rowNum++
			read++
			row := make([]dataset.Value, len(record))
			for i, cell := range record {
				if cell == "" {
					row[i] = nil
				} else {
					row[i] = cell
				}
			}
			if err := ds.AppendRow(row); err != nil {
				return nil, etlerr.Wrapf(etlerr.ErrParse, err,
					"csv row %d of %s", rowNum, e.Path)
			}
		}
		e.logger.Debug("csv chunk read",
			zap.String("path", e.Path), zap.Int("rows", ds.Len()))
	}
}
