// Package transform implements the cleaning and enrichment operations each
// pipeline dataset goes through. An Op is a pure function from dataset to
// dataset; callers compose them with Chain in whatever order suits their
// data. Ops never modify their input.
package transform

import (
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/dataset"
	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// Op is one transformation step.
type Op func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error)

// Chain applies ops in order, each consuming the previous result.
func Chain(logger *zap.Logger, ds *dataset.Dataset, ops ...Op) (*dataset.Dataset, error) {
	current := ds
	for _, op := range ops {
		next, err := op(logger, current)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// Kind names a coercion target for ConvertTypes.
type Kind string

const (
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindDate    Kind = "date"
	KindBool    Kind = "bool"
)

// StandardizeColumns renames columns to canonical names using a
// case-insensitive synonym map. Columns with no synonym entry pass through
// unchanged.
func StandardizeColumns(synonyms map[string]string) Op {
	lower := make(map[string]string, len(synonyms))
	for from, to := range synonyms {
		lower[strings.ToLower(from)] = to
	}
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		mapping := make(map[string]string)
		for _, col := range ds.Columns() {
			if to, ok := lower[strings.ToLower(strings.TrimSpace(col))]; ok && to != col {
				mapping[col] = to
			}
		}
		if len(mapping) == 0 {
			return ds.Clone(), nil
		}
		out, err := ds.RenameColumns(mapping)
		if err != nil {
			return nil, err
		}
		logger.Info("standardized columns", zap.Int("renamed", len(mapping)))
		return out, nil
	}
}

// StandardizeText trims whitespace and folds case in the named text
// columns. textCase is "upper", "lower" or "title". Absent columns and
// non-string cells pass through untouched.
func StandardizeText(columns []string, textCase string) Op {
	var fold func(string) string
	switch textCase {
	case "upper":
		fold = strings.ToUpper
	case "lower":
		fold = strings.ToLower
	case "title":
		caser := cases.Title(language.Und)
		fold = caser.String
	}
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		if fold == nil {
			return nil, etlerr.Wrapf(etlerr.ErrConfiguration, nil,
				"text case %q must be upper, lower or title", textCase)
		}
		out := ds.Clone()
		for _, col := range columns {
			if !out.HasColumn(col) {
				continue
			}
			for i := 0; i < out.Len(); i++ {
				v, _ := out.Value(i, col)
				s, ok := v.(string)
				if !ok {
					continue
				}
				_ = out.SetValue(i, col, strings.TrimSpace(fold(s)))
			}
		}
		logger.Info("standardized text",
			zap.Strings("columns", columns), zap.String("case", textCase))
		return out, nil
	}
}

// ConvertTypes coerces the given columns to their target kinds.
// Unconvertible values become null; the count per column is logged, never
// silently dropped. Referencing an absent column is an error.
func ConvertTypes(types map[string]Kind) Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		out := ds.Clone()
		for col, kind := range types {
			if _, err := out.ColumnIndex(col); err != nil {
				return nil, err
			}
			nulled := 0
			for i := 0; i < out.Len(); i++ {
				v, _ := out.Value(i, col)
				if dataset.IsNull(v) {
					_ = out.SetValue(i, col, nil)
					continue
				}
				converted, err := coerce(v, kind)
				if err != nil {
					nulled++
					_ = out.SetValue(i, col, nil)
					continue
				}
				_ = out.SetValue(i, col, converted)
			}
			if nulled > 0 {
				logger.Warn("unconvertible values set to null",
					zap.String("column", col),
					zap.String("kind", string(kind)),
					zap.Int("count", nulled))
			}
		}
		return out, nil
	}
}

func coerce(v dataset.Value, kind Kind) (dataset.Value, error) {
	switch kind {
	case KindNumber:
		return dataset.AsFloat(v)
	case KindInteger:
		return dataset.AsInt(v)
	case KindDate:
		return dataset.AsTime(v)
	case KindBool:
		return dataset.AsBool(v)
	default:
		return nil, etlerr.Wrapf(etlerr.ErrConfiguration, nil, "unknown type kind %q", kind)
	}
}

// DropNulls removes rows with a null in any of the required columns,
// preserving the relative order of survivors. The removed count is logged.
func DropNulls(required []string) Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		idx := make([]int, len(required))
		for i, col := range required {
			ci, err := ds.ColumnIndex(col)
			if err != nil {
				return nil, err
			}
			idx[i] = ci
		}
		out := ds.Filter(func(row int) bool {
			for _, ci := range idx {
				if dataset.IsNull(ds.Row(row)[ci]) {
					return false
				}
			}
			return true
		})
		if removed := ds.Len() - out.Len(); removed > 0 {
			logger.Info("dropped rows with null required values",
				zap.Strings("columns", required), zap.Int("removed", removed))
		}
		return out, nil
	}
}

// FillNulls replaces nulls in the given columns with fixed values.
func FillNulls(fills map[string]dataset.Value) Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		out := ds.Clone()
		for col, fill := range fills {
			if _, err := out.ColumnIndex(col); err != nil {
				return nil, err
			}
			for i := 0; i < out.Len(); i++ {
				v, _ := out.Value(i, col)
				if dataset.IsNull(v) {
					_ = out.SetValue(i, col, fill)
				}
			}
		}
		return out, nil
	}
}

// Deduplicate collapses rows identical across the key columns to the first
// occurrence in current row order.
func Deduplicate(keys []string) Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		idx := make([]int, len(keys))
		for i, col := range keys {
			ci, err := ds.ColumnIndex(col)
			if err != nil {
				return nil, err
			}
			idx[i] = ci
		}
		seen := make(map[string]bool, ds.Len())
		out := ds.Filter(func(row int) bool {
			var b strings.Builder
			for _, ci := range idx {
				b.WriteString(dataset.AsString(ds.Row(row)[ci]))
				b.WriteByte(0x1f)
			}
			key := b.String()
			if seen[key] {
				return false
			}
			seen[key] = true
			return true
		})
		if removed := ds.Len() - out.Len(); removed > 0 {
			logger.Info("dropped duplicate rows",
				zap.Strings("keys", keys), zap.Int("removed", removed))
		}
		return out, nil
	}
}

// AddConstantColumn appends a column holding the same value in every row.
func AddConstantColumn(name string, value dataset.Value) Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		return ds.AddColumn(name, func(int) dataset.Value { return value })
	}
}

// SelectColumns restricts the dataset to the named columns.
func SelectColumns(cols []string) Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		return ds.Select(cols)
	}
}

// FilterRows keeps the rows for which keep returns true.
func FilterRows(keep func(ds *dataset.Dataset, row int) bool) Op {
	return func(logger *zap.Logger, ds *dataset.Dataset) (*dataset.Dataset, error) {
		out := ds.Filter(func(row int) bool { return keep(ds, row) })
		if removed := ds.Len() - out.Len(); removed > 0 {
			logger.Info("filtered rows", zap.Int("removed", removed))
		}
		return out, nil
	}
}
