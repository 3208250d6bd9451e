// Package extract produces tabular datasets from the pipeline's external
// sources: local CSV and XML files, a Postgres database and the warehouse
// marketplace weather feed. Every extractor reads its source's full content
// at call time and surfaces distinct failure conditions instead of
// swallowing them.
package extract

import (
	"context"
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// Extractor is the single capability every source kind implements:
// produce one tabular dataset for its configured source descriptor.
type Extractor interface {
	Extract(ctx context.Context) (*dataset.Dataset, error)
}

// decodingReader wraps r so bytes in the named charset come out UTF-8.
// name is an IANA charset name ("ISO-8859-1", "windows-1252", ...); empty
// or a UTF-8 alias returns r unchanged.
func decodingReader(r io.Reader, name string) (io.Reader, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return r, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, etlerr.Wrapf(etlerr.ErrConfiguration, err,
			"unsupported source encoding %q", name)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
