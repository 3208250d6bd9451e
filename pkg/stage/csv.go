// Package stage moves datasets through files: local CSV staging for bulk
// warehouse loads, GCS object upload, and the intermediate store that lets
// phase-only runs resume from a previous phase's output.
package stage

import (
	"crypto/rand"
	"encoding/csv"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/StevenACoffman/anotherr/errors"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// WriteCSV writes the dataset to w as comma-delimited CSV with a header
// row. Nulls become empty cells.
func WriteCSV(ds *dataset.Dataset, w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(ds.Columns()); err != nil {
		return errors.Wrap(err, "writing csv header")
	}
	record := make([]string, ds.Width())
	for i := 0; i < ds.Len(); i++ {
		row := ds.Row(i)
		for j, v := range row {
			record[j] = dataset.AsString(v)
		}
		if err := writer.Write(record); err != nil {
			return errors.Wrapf(err, "writing csv row %d", i+1)
		}
	}
	writer.Flush()
	return errors.Wrap(writer.Error(), "flushing csv")
}

// WriteCSVFile stages the dataset into the file at path.
func WriteCSVFile(ds *dataset.Dataset, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating staging file "+path)
	}
	if err := WriteCSV(ds, f); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "closing staging file "+path)
}

// ReadCSVFile loads a previously staged dataset. All cells come back as
// strings (or nil for empty cells); staging is not expected to preserve
// types, only values.
func ReadCSVFile(path string) (*dataset.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, etlerr.Wrapf(etlerr.ErrSourceNotFound, err, "staged file %s", path)
		}
		return nil, errors.Wrap(err, "opening staged file "+path)
	}
	defer func() {
		_ = f.Close()
	}()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, etlerr.Wrapf(etlerr.ErrParse, err, "reading staged header of %s", path)
	}
	ds, err := dataset.New(header)
	if err != nil {
		return nil, etlerr.Wrapf(etlerr.ErrParse, err, "staged header of %s", path)
	}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return ds, nil
		}
		if err != nil {
			return nil, etlerr.Wrapf(etlerr.ErrParse, err, "reading staged row of %s", path)
		}
		row := make([]dataset.Value, len(record))
		for i, cell := range record {
			if cell == "" {
				row[i] = nil
			} else {
				row[i] = cell
			}
		}
		if err := ds.AppendRow(row); err != nil {
			return nil, etlerr.Wrapf(etlerr.ErrParse, err, "staged row of %s", path)
		}
	}
}

// MakeStagingFileName adds a random suffix so reruns never collide with a
// retained prior object.
func MakeStagingFileName(table string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return "", errors.Wrap(err, "generating staging file suffix")
	}
	return fmt.Sprintf("%s_%d.csv", table, n), nil
}
