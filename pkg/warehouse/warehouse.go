// Package warehouse writes datasets to warehouse tables. Writes are staged
// (local CSV then a bucket object) and applied in one bulk operation so a
// failed load never leaves a target table partially updated.
package warehouse

import (
	"context"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// Mode selects the write semantics for one load.
type Mode string

const (
	// ModeAppend adds rows without checking existing content.
	ModeAppend Mode = "append"
	// ModeReplace atomically substitutes the table's entire content.
	ModeReplace Mode = "replace"
	// ModeMerge upserts on the business key: matching rows are updated,
	// the rest inserted. Rows absent from the input are never deleted.
	ModeMerge Mode = "merge"
)

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAppend, ModeReplace, ModeMerge:
		return Mode(s), nil
	default:
		return "", etlerr.Wrapf(etlerr.ErrConfiguration, nil, "unknown load mode %q", s)
	}
}

// Loader is the warehouse write surface. The production implementation is
// BigQuery; tests substitute an in-memory fake.
type Loader interface {
	// Load writes ds into table under the given mode. keys is the
	// business key for ModeMerge and ignored otherwise.
	Load(ctx context.Context, ds *dataset.Dataset, table string, mode Mode, keys []string) error
}
