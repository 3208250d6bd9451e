package dataset

// Concat combines datasets extracted from heterogeneous sources into one.
// The output declares the union of all column names in first-seen order;
// rows from a dataset lacking a column carry null there. Row order is the
// concatenation of the inputs' row orders.
func Concat(sets ...*Dataset) (*Dataset, error) {
	var cols []string
	seen := make(map[string]bool)
	for _, ds := range sets {
		for _, c := range ds.cols {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	out, err := New(cols)
	if err != nil {
		return nil, err
	}
	for _, ds := range sets {
		aligned, err := New(cols)
		if err != nil {
			return nil, err
		}
		for i := range ds.rows {
			row := make([]Value, len(cols))
			for j, c := range cols {
				if ci, ok := ds.index[c]; ok {
					row[j] = ds.rows[i][ci]
				}
			}
			aligned.rows = append(aligned.rows, row)
		}
		out, err = out.AppendDataset(aligned)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
