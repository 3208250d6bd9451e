// Package dataset provides the tabular value passed between pipeline phases:
// an ordered list of named columns over rows of scalar values. Column names
// are unique within a dataset and every row carries one value (possibly nil)
// per declared column. Transformations never mutate a dataset they were
// given; they build and return a new one.
package dataset

import (
	"time"

	"github.com/StevenACoffman/anotherr/errors"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// Value is one cell. Permitted dynamic types are string, float64, int64,
// bool, time.Time and nil.
type Value = interface{}

// Dataset is an ordered sequence of rows over named columns.
type Dataset struct {
	cols  []string
	index map[string]int
	rows  [][]Value
}

// New builds an empty dataset with the given column names.
func New(cols []string) (*Dataset, error) {
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		if _, dup := index[c]; dup {
			return nil, errors.Newf("duplicate column name %q", c)
		}
		index[c] = i
	}
	return &Dataset{
		cols:  append([]string(nil), cols...),
		index: index,
	}, nil
}

// MustNew is New for statically known column lists, e.g. in tests.
func MustNew(cols []string) *Dataset {
	ds, err := New(cols)
	if err != nil {
		panic(err)
	}
	return ds
}

// Columns returns the column names in declaration order.
func (d *Dataset) Columns() []string {
	return append([]string(nil), d.cols...)
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.rows) }

// Width returns the number of columns.
func (d *Dataset) Width() int { return len(d.cols) }

// HasColumn reports whether the named column is declared.
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.index[name]
	return ok
}

// ColumnIndex returns the position of the named column.
func (d *Dataset) ColumnIndex(name string) (int, error) {
	i, ok := d.index[name]
	if !ok {
		return 0, etlerr.Wrapf(etlerr.ErrColumnNotFound, nil, "column %q", name)
	}
	return i, nil
}

// AppendRow adds a row. The row must have exactly one value per column.
func (d *Dataset) AppendRow(row []Value) error {
	if len(row) != len(d.cols) {
		return errors.Newf(
			"row has %d values, dataset has %d columns", len(row), len(d.cols))
	}
	d.rows = append(d.rows, append([]Value(nil), row...))
	return nil
}

// Row returns the values of row i, in column order. The returned slice is
// the backing row; callers must not modify it.
func (d *Dataset) Row(i int) []Value { return d.rows[i] }

// Value returns the cell at row i, named column.
func (d *Dataset) Value(i int, col string) (Value, error) {
	ci, err := d.ColumnIndex(col)
	if err != nil {
		return nil, err
	}
	return d.rows[i][ci], nil
}

// SetValue overwrites the cell at row i, named column.
func (d *Dataset) SetValue(i int, col string, v Value) error {
	ci, err := d.ColumnIndex(col)
	if err != nil {
		return err
	}
	d.rows[i][ci] = v
	return nil
}

// Clone returns a deep copy sharing nothing with the receiver.
func (d *Dataset) Clone() *Dataset {
	out, _ := New(d.cols)
	out.rows = make([][]Value, len(d.rows))
	for i, r := range d.rows {
		out.rows[i] = append([]Value(nil), r...)
	}
	return out
}

// AddColumn appends a new column, filling every existing row via fill,
// which receives the row index.
func (d *Dataset) AddColumn(name string, fill func(row int) Value) (*Dataset, error) {
	if d.HasColumn(name) {
		return nil, errors.Newf("column %q already exists", name)
	}
	out, err := New(append(d.Columns(), name))
	if err != nil {
		return nil, err
	}
	out.rows = make([][]Value, len(d.rows))
	for i, r := range d.rows {
		row := make([]Value, 0, len(r)+1)
		row = append(row, r...)
		row = append(row, fill(i))
		out.rows[i] = row
	}
	return out, nil
}

// RenameColumns returns a copy with columns renamed per mapping. Names not
// present in the mapping are kept. A rename that collides with another
// column is an error.
func (d *Dataset) RenameColumns(mapping map[string]string) (*Dataset, error) {
	cols := make([]string, len(d.cols))
	for i, c := range d.cols {
		if to, ok := mapping[c]; ok {
			cols[i] = to
		} else {
			cols[i] = c
		}
	}
	out, err := New(cols)
	if err != nil {
		return nil, err
	}
	out.rows = make([][]Value, len(d.rows))
	for i, r := range d.rows {
		out.rows[i] = append([]Value(nil), r...)
	}
	return out, nil
}

// Select returns a copy restricted to the named columns, in the given order.
func (d *Dataset) Select(cols []string) (*Dataset, error) {
	idx := make([]int, len(cols))
	for i, c := range cols {
		ci, err := d.ColumnIndex(c)
		if err != nil {
			return nil, err
		}
		idx[i] = ci
	}
	out, err := New(cols)
	if err != nil {
		return nil, err
	}
	out.rows = make([][]Value, len(d.rows))
	for i, r := range d.rows {
		row := make([]Value, len(idx))
		for j, ci := range idx {
			row[j] = r[ci]
		}
		out.rows[i] = row
	}
	return out, nil
}

// AppendDataset appends other's rows to a copy of the receiver. Both
// datasets must declare the same columns; order may differ and is taken
// from the receiver.
func (d *Dataset) AppendDataset(other *Dataset) (*Dataset, error) {
	if other.Width() != d.Width() {
		return nil, etlerr.Wrapf(etlerr.ErrSchemaMismatch, nil,
			"cannot append %d-column dataset to %d-column dataset",
			other.Width(), d.Width())
	}
	idx := make([]int, len(d.cols))
	for i, c := range d.cols {
		ci, ok := other.index[c]
		if !ok {
			return nil, etlerr.Wrapf(etlerr.ErrSchemaMismatch, nil,
				"appended dataset is missing column %q", c)
		}
		idx[i] = ci
	}
	out := d.Clone()
	for _, r := range other.rows {
		row := make([]Value, len(idx))
		for i, ci := range idx {
			row[i] = r[ci]
		}
		out.rows = append(out.rows, row)
	}
	return out, nil
}

// Filter returns a copy containing the rows for which keep returns true,
// preserving their relative order.
func (d *Dataset) Filter(keep func(row int) bool) *Dataset {
	out, _ := New(d.cols)
	for i := range d.rows {
		if keep(i) {
			out.rows = append(out.rows, append([]Value(nil), d.rows[i]...))
		}
	}
	return out
}

// IsNull reports whether a cell value counts as null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

// AsString renders a cell for CSV staging and log output. Nulls render as
// the empty string.
func AsString(v Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format("2006-01-02 15:04:05")
	default:
		return stringify(t)
	}
}
