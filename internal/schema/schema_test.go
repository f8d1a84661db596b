package schema

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/DaniloDalessandro/datadock/internal/core"
)

func TestSanitizeFieldName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Full Name", "full_name"},
		{"Preço (R$)", "preco_r"},
		{"  spaced   out  ", "spaced_out"},
		{"already_safe", "already_safe"},
		{"2024 revenue", "col_2024_revenue"},
		{"!!!", "unnamed_column"},
		{"", "unnamed_column"},
		{"UPPER-case.meta", "uppercasemeta"},
		{"tab\tand\nnewline", "tab_and_newline"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SanitizeFieldName(c.in), "input %q", c.in)
	}
}

func TestSanitizeFieldNameIdempotent(t *testing.T) {
	inputs := []string{"Full Name", "2024 revenue", "x!y?z", "", "ünïcode col"}
	for _, in := range inputs {
		once := SanitizeFieldName(in)
		assert.Equal(t, once, SanitizeFieldName(once), "not idempotent for %q", in)
	}
}

var identifier = regexp.MustCompile(`^[^\d\W]\w*$`)

func TestSanitizedNamesMatchIdentifierGrammar(t *testing.T) {
	inputs := []string{"a b", "9lives", "--", "métrica média", "X.Y.Z", "_hidden"}
	for _, in := range inputs {
		got := SanitizeFieldName(in)
		assert.Regexp(t, identifier, got, "input %q", in)
	}
}

func TestInferTypeDates(t *testing.T) {
	dates := make([]any, 20)
	for i := range dates {
		dates[i] = "2024-01-15"
	}
	assert.Equal(t, core.TypeDate, InferType(dates))

	stamps := make([]any, 20)
	for i := range stamps {
		stamps[i] = "2024-01-15T10:30:00"
	}
	assert.Equal(t, core.TypeDatetime, InferType(stamps))
}

func TestInferTypeNativeTimes(t *testing.T) {
	midnight := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, core.TypeDate, InferType([]any{midnight, midnight}))

	withClock := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, core.TypeDatetime, InferType([]any{midnight, withClock}))
}

func TestInferTypeMinorityDatesFallBack(t *testing.T) {
	// One date-like string among 19 plain strings is 5%, well under the
	// threshold; the column stays TEXT.
	values := []any{"2024-01-15"}
	for i := 0; i < 19; i++ {
		values = append(values, fmt.Sprintf("free text %d", i))
	}
	assert.Equal(t, core.TypeText, InferType(values))
}

func TestInferTypeScalars(t *testing.T) {
	assert.Equal(t, core.TypeInteger, InferType([]any{1, 2, 3}))
	assert.Equal(t, core.TypeReal, InferType([]any{1.5, 2.25}))
	// Whole-valued floats are still floats, not integers.
	assert.Equal(t, core.TypeReal, InferType([]any{1.0, 2.0, 3.0}))
	assert.Equal(t, core.TypeReal, InferType([]any{1.0, 2.0, 3.5}))
	assert.Equal(t, core.TypeBoolean, InferType([]any{true, false, true}))
	assert.Equal(t, core.TypeText, InferType([]any{"a", "b"}))
	assert.Equal(t, core.TypeText, InferType([]any{nil, nil}))
	assert.Equal(t, core.TypeText, InferType(nil))
}

func TestInferTypeMostFrequentWins(t *testing.T) {
	assert.Equal(t, core.TypeInteger, InferType([]any{1, 2, "x"}))
	// Tie between string and integer: first-encountered maximum wins.
	assert.Equal(t, core.TypeText, InferType([]any{"x", 1}))
	assert.Equal(t, core.TypeInteger, InferType([]any{1, "x"}))
}

func TestInferTypeSkipsNils(t *testing.T) {
	assert.Equal(t, core.TypeInteger, InferType([]any{nil, nil, 4, nil, 5}))
}

func TestAnalyzeEmpty(t *testing.T) {
	assert.Empty(t, Analyze(nil))
	assert.Empty(t, Analyze([]any{}))
	// Non-record junk contributes nothing.
	assert.Empty(t, Analyze([]any{"junk", 42}))
}

func TestAnalyze(t *testing.T) {
	recs := []any{
		core.Record{"Full Name": "ada", "Age": 36},
		core.Record{"Full Name": "alan", "Age": 41, "Joined On": "2024-01-15"},
	}
	got := Analyze(recs)
	want := core.ColumnStructure{
		"full_name": {OriginalName: "Full Name", Type: core.TypeText},
		"age":       {OriginalName: "Age", Type: core.TypeInteger},
		"joined_on": {OriginalName: "Joined On", Type: core.TypeDate},
	}
	assert.Equal(t, want, got)
}

func TestAnalyzeDistinctSafeNames(t *testing.T) {
	recs := []any{core.Record{"a b": 1, "A B": 2, "c": 3}}
	got := Analyze(recs)
	// "a b" and "A B" both sanitize to "a_b"; the mapping overwrites.
	assert.Len(t, got, 2)
	assert.Contains(t, got, "a_b")
	assert.Contains(t, got, "c")
}
