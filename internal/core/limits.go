package core

// Resource ceilings applied to every source, file or endpoint, before any
// row is persisted.
const (
	MaxRows    = 100000
	MaxColumns = 100
)

// EnforceLimits rejects inputs over the row or column ceiling. Rows are
// the pipeline's raw batch: record-shaped entries plus whatever junk an
// endpoint returned. The column count is the union of field names across
// the record-shaped entries, matching what the schema inferencer would
// produce.
func EnforceLimits(rows []any) error {
	if len(rows) > MaxRows {
		return &LimitExceededError{Dimension: "rows", Observed: len(rows), Max: MaxRows}
	}
	cols := map[string]struct{}{}
	for _, entry := range rows {
		r, ok := entry.(Record)
		if !ok {
			continue
		}
		for k := range r {
			cols[k] = struct{}{}
		}
	}
	if len(cols) > MaxColumns {
		return &LimitExceededError{Dimension: "columns", Observed: len(cols), Max: MaxColumns}
	}
	return nil
}
