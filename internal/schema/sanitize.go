// Package schema infers a dataset's column structure from a batch of raw
// records: a safe, SQL-friendly name and a semantic type per field.
//
// The functions here are pure and deterministic, which makes them
// straightforward to test and reuse.
package schema

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FallbackName is used when sanitization leaves nothing of the raw name.
const FallbackName = "unnamed_column"

// digitPrefix marks safe names whose sanitized form starts with a digit.
const digitPrefix = "col_"

// deaccent decomposes runes, drops the combining marks, and recomposes,
// turning "Preço" into "Preco".
var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeFieldName converts an arbitrary field name into a safe column
// identifier:
//
//  1. lowercase and strip accents (NFD → remove marks → NFC)
//  2. drop every rune that is not [a-z0-9_] or whitespace
//  3. collapse whitespace runs into single underscores
//  4. prefix with "col_" when the result starts with a digit
//
// An empty result maps to FallbackName. The function is idempotent:
// sanitizing an already-safe name returns it unchanged. Two distinct raw
// names may sanitize to the same safe name; callers treat that as a simple
// overwrite.
func SanitizeFieldName(raw string) string {
	ascii, _, err := transform.String(deaccent, strings.ToLower(raw))
	if err != nil {
		ascii = strings.ToLower(raw)
	}

	var b strings.Builder
	inSpace := false
	for _, r := range ascii {
		switch {
		case unicode.IsSpace(r):
			inSpace = true
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if inSpace && b.Len() > 0 {
				b.WriteByte('_')
			}
			inSpace = false
			b.WriteRune(r)
		default:
			// punctuation, symbols, and unfoldable runes are dropped
		}
	}

	out := b.String()
	if out == "" {
		return FallbackName
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = digitPrefix + out
	}
	return out
}
