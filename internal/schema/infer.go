package schema

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/DaniloDalessandro/datadock/internal/core"
)

const (
	// typeSampleSize bounds how many non-nil values feed type detection.
	typeSampleSize = 100

	// dateSampleSize bounds the string subsample tried against the date
	// layouts; dateParseThreshold is the fraction of that subsample that
	// must parse before the column is considered temporal. Both are
	// heuristics, not contracts.
	dateSampleSize     = 20
	dateParseThreshold = 0.8
)

// dateLayouts are common date-only formats, tried after the timestamp
// layouts so values carrying a clock are classified as datetime.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"20060102",
}

// timestampLayouts are common formats with a time component.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05",
	"01/02/2006 15:04:05",
}

// parseTemporal reports whether s parses as a date or timestamp under the
// known layouts, and whether the parsed value carries a non-zero clock.
func parseTemporal(s string) (ok bool, hasTime bool) {
	st := strings.TrimSpace(s)
	if st == "" {
		return false, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, st); err == nil {
			return true, hasClock(t)
		}
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, st); err == nil {
			return true, false
		}
	}
	return false, false
}

func hasClock(t time.Time) bool {
	return t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0
}

// InferType determines the semantic type of a column from its observed
// values. Policy, in order:
//
//  1. Any native time.Time in the sample → datetime when any value has a
//     non-zero time-of-day, date otherwise.
//  2. All sampled values are strings → try the temporal layouts on the
//     first dateSampleSize values; above the parse threshold the column is
//     datetime when more parsed values carry a clock than not, date
//     otherwise.
//  3. Fall back to the most frequent native kind, mapped through a fixed
//     table; ties break by whichever kind reached the maximum first.
//
// An all-nil column is TEXT.
func InferType(values []any) core.ColumnType {
	sample := make([]any, 0, typeSampleSize)
	for _, v := range values {
		if v == nil {
			continue
		}
		sample = append(sample, v)
		if len(sample) == typeSampleSize {
			break
		}
	}
	if len(sample) == 0 {
		return core.TypeText
	}

	// 1) Native temporal values win outright.
	anyTemporal := false
	anyClock := false
	for _, v := range sample {
		if t, ok := v.(time.Time); ok {
			anyTemporal = true
			if hasClock(t) {
				anyClock = true
				break
			}
		}
	}
	if anyTemporal {
		if anyClock {
			return core.TypeDatetime
		}
		return core.TypeDate
	}

	// 2) String columns get a shot at temporal detection.
	allStrings := true
	for _, v := range sample {
		if _, ok := v.(string); !ok {
			allStrings = false
			break
		}
	}
	if allStrings {
		sub := sample
		if len(sub) > dateSampleSize {
			sub = sub[:dateSampleSize]
		}
		dates, datetimes := 0, 0
		for _, v := range sub {
			ok, withTime := parseTemporal(v.(string))
			if !ok {
				continue
			}
			if withTime {
				datetimes++
			} else {
				dates++
			}
		}
		if float64(dates+datetimes) > float64(len(sub))*dateParseThreshold {
			if datetimes > dates {
				return core.TypeDatetime
			}
			return core.TypeDate
		}
	}

	// 3) Fallback: most frequent native kind.
	return mostFrequentKind(sample)
}

// kindOf buckets a value into the fixed mapping table's key space.
func kindOf(v any) core.ColumnType {
	switch n := v.(type) {
	case string:
		return core.TypeText
	case bool:
		return core.TypeBoolean
	case int, int64:
		return core.TypeInteger
	case float64:
		// A float stays REAL even when its value happens to be whole;
		// integral JSON values arrive as json.Number, not float64.
		return core.TypeReal
	case json.Number:
		if _, err := n.Int64(); err == nil {
			return core.TypeInteger
		}
		return core.TypeReal
	default:
		return core.TypeText
	}
}

// mostFrequentKind counts kinds across the sample and returns the winner.
// Ties break by first-encountered maximum: a later kind only displaces the
// current winner with a strictly greater count.
func mostFrequentKind(sample []any) core.ColumnType {
	counts := map[core.ColumnType]int{}
	order := make([]core.ColumnType, 0, 4)
	for _, v := range sample {
		k := kindOf(v)
		if _, seen := counts[k]; !seen {
			order = append(order, k)
		}
		counts[k]++
	}

	winner := core.TypeText
	best := -1
	for _, k := range order {
		if counts[k] > best {
			winner, best = k, counts[k]
		}
	}
	return winner
}
