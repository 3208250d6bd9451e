package warehouse

import (
	"fmt"
	"strings"

	"github.com/rsm-dshonuyi/ETL-Project/pkg/etlerr"
)

// MergeQuery builds the MERGE statement that upserts the staged source
// table into the target: rows matching on every key column get their
// remaining columns updated, the rest are inserted. There is no DELETE
// branch, so target rows absent from the source are kept.
func MergeQuery(target, source string, columns, keys []string) (string, error) {
	if len(keys) == 0 {
		return "", etlerr.Wrap(etlerr.ErrConfiguration, nil, "merge requires at least one key column")
	}
	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[k] = true
	}
	var updateCols []string
	for _, col := range columns {
		if !keySet[col] {
			updateCols = append(updateCols, fmt.Sprintf("T.%s = S.%s", col, col))
		}
	}
	if len(updateCols) == 0 {
		return "", etlerr.Wrap(etlerr.ErrConfiguration, nil,
			"merge keys cover every column; nothing to update")
	}
	for _, k := range keys {
		if !contains(columns, k) {
			return "", etlerr.Wrapf(etlerr.ErrColumnNotFound, nil,
				"merge key %q is not a dataset column", k)
		}
	}

	joinConds := make([]string, len(keys))
	for i, k := range keys {
		joinConds[i] = fmt.Sprintf("T.%s = S.%s", k, k)
	}
	sourceCols := make([]string, len(columns))
	for i, col := range columns {
		sourceCols[i] = "S." + col
	}

	return fmt.Sprintf(`MERGE INTO %s T
USING %s S
ON (%s)
WHEN MATCHED THEN
  UPDATE SET %s
WHEN NOT MATCHED THEN
  INSERT (%s) VALUES (%s)`,
		target,
		source,
		strings.Join(joinConds, " AND "),
		strings.Join(updateCols, ", "),
		strings.Join(columns, ", "),
		strings.Join(sourceCols, ", "),
	), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
