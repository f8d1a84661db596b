package schema

import (
	"sort"

	"github.com/DaniloDalessandro/datadock/internal/core"
)

// Analyze unions the field names across all record-shaped entries and
// computes the safe name and inferred type for each, producing the
// dataset's authoritative column structure. Entries that are not records
// contribute nothing.
//
// Field names are visited in sorted order so that safe-name collisions
// resolve deterministically (the last-processed original name wins).
func Analyze(rows []any) core.ColumnStructure {
	structure := core.ColumnStructure{}

	recs := make([]core.Record, 0, len(rows))
	for _, entry := range rows {
		if r, ok := entry.(core.Record); ok {
			recs = append(recs, r)
		}
	}
	if len(recs) == 0 {
		return structure
	}

	keys := map[string]struct{}{}
	for _, r := range recs {
		for k := range r {
			keys[k] = struct{}{}
		}
	}

	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	for _, key := range ordered {
		values := make([]any, 0, len(recs))
		for _, r := range recs {
			values = append(values, r[key])
		}
		structure[SanitizeFieldName(key)] = core.ColumnSpec{
			OriginalName: key,
			Type:         InferType(values),
		}
	}
	return structure
}
