package importer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/DaniloDalessandro/datadock/internal/core"
	"github.com/DaniloDalessandro/datadock/internal/storage"
)

// defaultBatchSize is how many staged records go to storage per insert.
const defaultBatchSize = 1000

// NormalizeAndInsert projects raw rows through the process's column
// structure, deduplicates them by content hash, and persists them in
// batches. Row-level problems (non-record rows, rows with no mapped
// fields) are counted, not raised; only a storage failure aborts.
//
// Dedup combines the hashes already stored for the process with the hashes
// accumulated during this run, so re-running the same input is a no-op.
func (imp *Importer) NormalizeAndInsert(ctx context.Context, st storage.Store, p *core.ImportProcess, rows []any) (core.ImportStats, error) {
	var stats core.ImportStats
	stats.Total = len(rows)

	mapping := p.ColumnStructure.NameMapping()

	existing, err := st.ListRowHashes(ctx, p.ID)
	if err != nil {
		return stats, &core.PersistenceError{Err: err}
	}
	seen := make(map[string]struct{}, len(existing))
	for h := range existing {
		seen[h] = struct{}{}
	}

	var (
		staged        []core.ImportedRecord
		unmappedRows  int
		malformedRows int
	)

	flush := func() error {
		if len(staged) == 0 {
			return nil
		}
		n, err := st.BulkInsertRecords(ctx, staged)
		if err != nil {
			return &core.PersistenceError{Err: err}
		}
		stats.Inserted += n
		// Rows the store skipped lost a race with a concurrent writer on
		// the same hash; they are duplicates, not errors.
		stats.Duplicates += len(staged) - n
		staged = staged[:0]
		return nil
	}

	for _, row := range rows {
		rec, ok := row.(core.Record)
		if !ok {
			stats.Errors++
			malformedRows++
			continue
		}

		normalized := make(core.Record, len(rec))
		for original, value := range rec {
			if safe, mapped := mapping[original]; mapped {
				normalized[safe] = value
			}
		}
		if len(normalized) == 0 {
			stats.Errors++
			unmappedRows++
			continue
		}

		hash := core.RowHash(normalized)
		if _, dup := seen[hash]; dup {
			stats.Duplicates++
			continue
		}
		seen[hash] = struct{}{}
		staged = append(staged, core.ImportedRecord{
			ProcessID: p.ID,
			RowHash:   hash,
			Data:      normalized,
		})

		if len(staged) >= imp.batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}

	if unmappedRows > 0 {
		// A run where whole rows match nothing in the column structure
		// usually means the source changed shape underneath us.
		imp.log.WithFields(logrus.Fields{
			"process_id": p.ID,
			"table_name": p.TableName,
			"rows":       unmappedRows,
		}).Warn("rows skipped: no field matched the column structure")
	}
	if malformedRows > 0 {
		imp.log.WithFields(logrus.Fields{
			"process_id": p.ID,
			"rows":       malformedRows,
		}).Warn("rows skipped: not record-shaped")
	}

	imp.log.WithFields(logrus.Fields{
		"process_id": p.ID,
		"inserted":   stats.Inserted,
		"duplicates": stats.Duplicates,
		"errors":     stats.Errors,
		"total":      stats.Total,
	}).Info("normalization pass finished")
	return stats, nil
}
