package extract

import (
	"context"
	"os"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// XMLExtractor pulls rows out of an XML document: RowXPath selects the row
// elements and FieldMappings maps each output column to an XPath evaluated
// relative to the row. A field with no match becomes null.
type XMLExtractor struct {
	Path          string
	RowXPath      string
	Encoding      string // IANA charset name for documents that do not declare one; "" means UTF-8
	FieldMappings []FieldMapping
	logger        *zap.Logger
}

// FieldMapping pairs an output column with its relative XPath. An ordered
// slice, not a map, so column order in the dataset is deterministic.
type FieldMapping struct {
	Column string
	XPath  string
}

// weatherFieldMappings is the canned mapping for the weather feed file.
var weatherFieldMappings = []FieldMapping{
	{Column: "date", XPath: "date"},
	{Column: "location", XPath: "location"},
	{Column: "temperature", XPath: "temperature"},
	{Column: "humidity", XPath: "humidity"},
	{Column: "precipitation", XPath: "precipitation"},
	{Column: "wind_speed", XPath: "wind_speed"},
	{Column: "conditions", XPath: "conditions"},
}

// NewXMLExtractor builds an extractor with an explicit row path and field
// mappings. encoding "" means UTF-8.
func NewXMLExtractor(logger *zap.Logger, path, rowXPath, encoding string, mappings []FieldMapping) *XMLExtractor {
	return &XMLExtractor{
		Path:          path,
		RowXPath:      rowXPath,
		Encoding:      encoding,
		FieldMappings: mappings,
		logger:        logger,
	}
}

// NewWeatherXMLExtractor builds an extractor preconfigured for the weather
// observation file format (//weather_record rows).
func NewWeatherXMLExtractor(logger *zap.Logger, path, encoding string) *XMLExtractor {
	return NewXMLExtractor(logger, path, "//weather_record", encoding, weatherFieldMappings)
}

// Extract parses the document and materializes one row per RowXPath match.
func (e *XMLExtractor) Extract(ctx context.Context) (*dataset.Dataset, error) {
	f, err := os.Open(e.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, etlerr.Wrapf(etlerr.ErrSourceNotFound, err, "xml file %s", e.Path)
		}
		return nil, etlerr.Wrapf(etlerr.ErrParse, err, "opening xml file %s", e.Path)
	}
	defer func() {
		_ = f.Close()
	}()

	decoded, err := decodingReader(f, e.Encoding)
	if err != nil {
		return nil, err
	}
	doc, err := xmlquery.Parse(decoded)
	if err != nil {
		return nil, etlerr.Wrapf(etlerr.ErrParse, err, "parsing xml file %s", e.Path)
	}

	nodes, err := xmlquery.QueryAll(doc, e.RowXPath)
	if err != nil {
		return nil, etlerr.Wrapf(etlerr.ErrParse, err,
			"row xpath %q on %s", e.RowXPath, e.Path)
	}
	if len(nodes) == 0 {
		return nil, etlerr.Wrapf(etlerr.ErrParse, nil,
			"xml file %s has no elements matching %q", e.Path, e.RowXPath)
	}

	cols := make([]string, len(e.FieldMappings))
	for i, m := range e.FieldMappings {
		cols[i] = m.Column
	}
	ds, err := dataset.New(cols)
	if err != nil {
		return nil, etlerr.Wrapf(etlerr.ErrParse, err, "xml field mappings for %s", e.Path)
	}

	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := make([]dataset.Value, len(e.FieldMappings))
		for i, m := range e.FieldMappings {
			field, err := xmlquery.Query(node, m.XPath)
			if err != nil {
				return nil, etlerr.Wrapf(etlerr.ErrParse, err,
					"field xpath %q on %s", m.XPath, e.Path)
			}
			if field == nil {
				row[i] = nil
				continue
			}
			text := strings.TrimSpace(field.InnerText())
			if text == "" {
				row[i] = nil
			} else {
				row[i] = text
			}
		}
		if err := ds.AppendRow(row); err != nil {
			return nil, etlerr.Wrapf(etlerr.ErrParse, err, "xml row of %s", e.Path)
		}
	}

	e.logger.Info("xml extraction complete",
		zap.String("path", e.Path), zap.Int("rows", ds.Len()))
	return ds, nil
}
