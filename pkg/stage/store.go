package stage

import (
	"os"
	"path/filepath"

	"github.com/StevenACoffman/anotherr/errors"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// Store persists named datasets between pipeline phases so a phase-only
// run can pick up where a previous run left off. Datasets live as CSV
// files under <dir>/<phase>/<name>.csv.
type Store struct {
	dir string
}

// NewStore roots an intermediate store at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save persists a dataset under the given phase and name.
func (s *Store) Save(phase, name string, ds *dataset.Dataset) error {
	dir := filepath.Join(s.dir, phase)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating intermediate dir "+dir)
	}
	return WriteCSVFile(ds, filepath.Join(dir, name+".csv"))
}

// Load reads back a dataset persisted by Save. A missing file is a
// SourceNotFound naming the phase whose output was expected.
func (s *Store) Load(phase, name string) (*dataset.Dataset, error) {
	path := filepath.Join(s.dir, phase, name+".csv")
	ds, err := ReadCSVFile(path)
	if err != nil {
		if errors.Is(err, etlerr.ErrSourceNotFound) {
			return nil, etlerr.Wrapf(etlerr.ErrSourceNotFound, nil,
				"no %s output for dataset %q; run the %s phase first", phase, name, phase)
		}
		return nil, err
	}
	return ds, nil
}
