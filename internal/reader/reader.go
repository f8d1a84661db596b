// Package reader decodes uploaded tabular files (CSV, XLSX, XLS) into a
// uniform sequence of records. It handles character-encoding probing and
// delimiter sniffing for CSV, retries Excel opens from a memory buffer,
// normalizes null-like markers to explicit nils, and renders temporal
// values as ISO-8601 strings so the storage layer only ever sees JSON-safe
// scalars.
//
// Callers are expected to have validated size and extension allow-lists
// upstream; this package assumes the stream is plausibly tabular and
// reports typed errors from the core taxonomy when it is not.
package reader

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DaniloDalessandro/datadock/internal/core"
)

// Reader turns file uploads into record batches.
type Reader struct {
	log *logrus.Logger
}

// New constructs a Reader. A nil logger falls back to the logrus standard
// logger.
func New(log *logrus.Logger) *Reader {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reader{log: log}
}

// Read decodes the named file into records, dispatching on the filename
// extension. It returns FormatError for unsupported or unreadable inputs,
// EmptyInputError when the file holds no data rows, and LimitExceededError
// when the row or column ceiling is hit.
func (rd *Reader) Read(ctx context.Context, name string, r io.Reader) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	var rows []any
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv":
		rows, err = rd.readCSV(name, data)
	case ".xlsx", ".xls":
		rows, err = rd.readExcel(name, data)
	default:
		return nil, &core.FormatError{Name: name}
	}
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, &core.EmptyInputError{Source: fmt.Sprintf("file %s", name)}
	}
	if err := core.EnforceLimits(rows); err != nil {
		return nil, err
	}

	rd.log.WithFields(logrus.Fields{
		"file": name,
		"rows": len(rows),
	}).Info("file decoded")
	return rows, nil
}

// nullMarkers are cell values treated as an explicit null.
var nullMarkers = map[string]struct{}{
	"":     {},
	"null": {},
	"NULL": {},
	"NaN":  {},
	"nan":  {},
	"None": {},
}

// coerceCell maps a raw string cell onto the value space the pipeline
// hashes and stores: nil for null markers, int64/float64 for numerics,
// bool for literal true/false, and the original string otherwise. The
// numeric probes run before the boolean one so "1" stays an integer.
func coerceCell(s string) any {
	trimmed := strings.TrimSpace(s)
	if _, isNull := nullMarkers[trimmed]; isNull {
		return nil
	}
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	switch trimmed {
	case "true", "True", "TRUE":
		return true
	case "false", "False", "FALSE":
		return false
	}
	return s
}

// normalizeValue finalizes a decoded value for storage. Temporal values
// become ISO-8601 strings because the persisted payload is a structured
// JSON field, not a native temporal column.
func normalizeValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return v
}

// assembleRecords zips a header row with data rows into records. Cells
// beyond the header width are dropped; missing cells become nil.
func assembleRecords(header []string, rows [][]string) []any {
	out := make([]any, 0, len(rows))
	for _, cells := range rows {
		rec := make(core.Record, len(header))
		for i, h := range header {
			if i < len(cells) {
				rec[h] = normalizeValue(coerceCell(cells[i]))
			} else {
				rec[h] = nil
			}
		}
		out = append(out, rec)
	}
	return out
}
