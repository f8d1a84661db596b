// Package core holds the shared vocabulary of the import pipeline: the
// Record type flowing between readers, the inferred column structure, the
// persisted domain models, the error taxonomy, and the resource limits.
//
// It is deliberately a leaf package: it imports nothing from the rest of
// the module so that readers, fetchers, storage backends, and the importer
// can all depend on it without cycles.
package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

// Record is one raw or normalized row: a field-name → value mapping.
// Values are restricted in practice to what the readers produce: nil,
// string, bool, json.Number, int, int64, float64, and time.Time.
type Record map[string]any

// fieldSep joins hashed fields; 0x1F (unit separator) is unlikely to occur
// in real values and keeps adjacent fields from gluing together.
const fieldSep = '\x1f'

// RowHash computes the content hash used as the per-process deduplication
// key. The serialization is canonical so that two logically identical
// records hash identically regardless of map iteration order:
//
//   - keys are sorted lexicographically
//   - each field is emitted as key '=' canonicalValue
//   - fields are joined with the 0x1F separator
//
// Value canonicalization is type-directed: each value is emitted as a
// one-byte type tag, ':', and the value's textual form (nil has no text,
// json.Number uses its literal text, floats use strconv 'g' formatting,
// time values are RFC 3339). The tag keeps values of different types from
// colliding: a string "1" and an integer 1 hash differently, as do true
// and "true".
func RowHash(rec Record) string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(fieldSep)
		}
		b.WriteString(k)
		b.WriteByte('=')
		writeCanonical(&b, rec[k])
	}

	sum := xxh3.Hash128([]byte(b.String())).Bytes()
	return fmt.Sprintf("%x", sum)
}

func writeCanonical(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteString("n:")
	case string:
		b.WriteString("s:")
		b.WriteString(t)
	case json.Number:
		// json.Number carries its own integer/real distinction in the
		// literal text, so a single tag suffices.
		b.WriteString("d:")
		b.WriteString(t.String())
	case bool:
		b.WriteString("b:")
		b.WriteString(strconv.FormatBool(t))
	case int:
		b.WriteString("i:")
		b.WriteString(strconv.Itoa(t))
	case int64:
		b.WriteString("i:")
		b.WriteString(strconv.FormatInt(t, 10))
	case float64:
		b.WriteString("f:")
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case time.Time:
		b.WriteString("t:")
		b.WriteString(t.Format(time.RFC3339Nano))
	default:
		// Nested values (maps, slices) from permissive JSON endpoints:
		// fall back to their JSON encoding, which is deterministic for
		// the shapes encoding/json produces.
		b.WriteString("j:")
		enc, err := json.Marshal(t)
		if err != nil {
			fmt.Fprintf(b, "%v", t)
			return
		}
		b.Write(enc)
	}
}
