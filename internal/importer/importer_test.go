package importer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaniloDalessandro/datadock/internal/core"
	"github.com/DaniloDalessandro/datadock/internal/storage"
	"github.com/DaniloDalessandro/datadock/internal/storage/memory"
)

func newTestImporter(t *testing.T, extra ...func(*Options)) (*Importer, *memory.Store) {
	t.Helper()
	store := memory.New()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	opts := Options{Store: store, Logger: log}
	for _, fn := range extra {
		fn(&opts)
	}
	return New(opts), store
}

func fileRequest(table, name, body string) Request {
	return Request{
		Kind:      core.KindFile,
		TableName: table,
		FileName:  name,
		File:      strings.NewReader(body),
		Owner:     "tester",
	}
}

const salesCSV = "Name,Amount,Date\nalpha,10,2024-01-15\nbeta,20,2024-01-16\nalpha,10,2024-01-15\n"

func TestImportFromCSV(t *testing.T) {
	imp, store := newTestImporter(t)

	p, stats, err := imp.Import(context.Background(), fileRequest("sales", "sales.csv", salesCSV))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 0, stats.Errors)
	assert.Equal(t, 3, stats.Total)

	assert.Equal(t, core.StatusActive, p.Status)
	assert.Equal(t, 2, p.RecordCount)
	assert.Equal(t, "file:sales.csv", p.Source)
	assert.Equal(t, "tester", p.Owner)

	require.Contains(t, p.ColumnStructure, "name")
	require.Contains(t, p.ColumnStructure, "amount")
	assert.Equal(t, "Amount", p.ColumnStructure["amount"].OriginalName)
	assert.Equal(t, core.TypeInteger, p.ColumnStructure["amount"].Type)
	assert.Equal(t, core.TypeDate, p.ColumnStructure["date"].Type)

	count, err := store.CountRecords(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestImportFromEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"city":"Lisboa","pop":545000},{"city":"Porto","pop":232000}]}`))
	}))
	defer srv.Close()

	imp, _ := newTestImporter(t)
	p, stats, err := imp.Import(context.Background(), Request{
		Kind:        core.KindEndpoint,
		TableName:   "cities",
		EndpointURL: srv.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, srv.URL, p.Source)
	assert.Contains(t, p.ColumnStructure, "city")
}

func TestImportValidation(t *testing.T) {
	imp, _ := newTestImporter(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"empty table name", Request{Kind: core.KindFile, FileName: "x.csv", File: strings.NewReader("a\n1\n")}},
		{"bad table name", fileRequest("Bad Name!", "x.csv", "a\n1\n")},
		{"leading digit", fileRequest("2cool", "x.csv", "a\n1\n")},
		{"unknown kind", Request{Kind: "carrier-pigeon", TableName: "t"}},
		{"endpoint without url", Request{Kind: core.KindEndpoint, TableName: "t"}},
		{"file without handle", Request{Kind: core.KindFile, TableName: "t", FileName: "x.csv"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := imp.Import(ctx, tt.req)
			var valErr *core.ValidationError
			require.ErrorAs(t, err, &valErr)
		})
	}
}

func TestImportDuplicateTableName(t *testing.T) {
	imp, _ := newTestImporter(t)
	ctx := context.Background()

	_, _, err := imp.Import(ctx, fileRequest("taken", "a.csv", "x\n1\n"))
	require.NoError(t, err)

	_, _, err = imp.Import(ctx, fileRequest("taken", "b.csv", "x\n2\n"))
	var valErr *core.ValidationError
	require.ErrorAs(t, err, &valErr)
}

// staleLookupStore reports a table name as free for a bounded number of
// lookups, reproducing a lookup that races a concurrent create.
type staleLookupStore struct {
	storage.Store
	misses int
}

func (s *staleLookupStore) GetProcessByTableName(ctx context.Context, name string) (*core.ImportProcess, error) {
	if s.misses > 0 {
		s.misses--
		return nil, storage.ErrNotFound
	}
	return s.Store.GetProcessByTableName(ctx, name)
}

func TestImportLostNameRaceLeavesWinnerIntact(t *testing.T) {
	imp, store := newTestImporter(t)
	ctx := context.Background()

	winner, _, err := imp.Import(ctx, fileRequest("contested", "a.csv", "x\n1\n"))
	require.NoError(t, err)

	// The second import sees the name as free until its create collides.
	racy := &staleLookupStore{Store: store, misses: 1}
	late := New(Options{Store: racy, Logger: imp.log})
	_, _, err = late.Import(ctx, fileRequest("contested", "b.csv", "x\n2\n"))
	var valErr *core.ValidationError
	require.ErrorAs(t, err, &valErr)

	// The loser's failure must not be written onto the winner's process.
	p, getErr := store.GetProcessByTableName(ctx, "contested")
	require.NoError(t, getErr)
	assert.Equal(t, winner.ID, p.ID)
	assert.Equal(t, core.StatusActive, p.Status)
	assert.Empty(t, p.ErrorMessage)
}

func TestImportFailureLeavesInactiveProcess(t *testing.T) {
	imp, store := newTestImporter(t)
	ctx := context.Background()

	_, _, err := imp.Import(ctx, fileRequest("empty_set", "empty.csv", "a,b\n"))
	var emptyErr *core.EmptyInputError
	require.ErrorAs(t, err, &emptyErr)

	p, getErr := store.GetProcessByTableName(ctx, "empty_set")
	require.NoError(t, getErr)
	assert.Equal(t, core.StatusInactive, p.Status)
	assert.NotEmpty(t, p.ErrorMessage)

	count, err := store.CountRecords(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAppend(t *testing.T) {
	imp, store := newTestImporter(t)
	ctx := context.Background()

	base, _, err := imp.Import(ctx, fileRequest("stock", "q1.csv", "Item,Qty\napples,3\npears,5\n"))
	require.NoError(t, err)
	require.Equal(t, 2, base.RecordCount)

	p, stats, err := imp.Append(ctx, fileRequest("stock", "q2.csv", "Item,Qty\npears,5\nplums,7\n"))
	require.NoError(t, err)

	// One appended row already existed, so only the new one counts.
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 3, p.RecordCount)
	assert.Equal(t, base.ColumnStructure, p.ColumnStructure)

	count, err := store.CountRecords(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestAppendRequiresExistingProcess(t *testing.T) {
	imp, _ := newTestImporter(t)
	_, _, err := imp.Append(context.Background(), fileRequest("ghost", "g.csv", "a\n1\n"))
	var valErr *core.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestNormalizeAndInsertIdempotent(t *testing.T) {
	imp, store := newTestImporter(t)
	ctx := context.Background()

	p := &core.ImportProcess{
		TableName: "t",
		ColumnStructure: core.ColumnStructure{
			"a": {OriginalName: "a", Type: core.TypeInteger},
		},
	}
	require.NoError(t, store.CreateProcess(ctx, p))

	rows := []any{
		core.Record{"a": int64(1)},
		core.Record{"a": int64(2)},
		core.Record{"a": int64(3)},
	}

	first, err := imp.NormalizeAndInsert(ctx, store, p, rows)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Inserted)

	second, err := imp.NormalizeAndInsert(ctx, store, p, rows)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, second.Total, second.Duplicates)
}

func TestNormalizeAndInsertZeroRows(t *testing.T) {
	imp, store := newTestImporter(t)
	ctx := context.Background()

	p := &core.ImportProcess{TableName: "t", ColumnStructure: core.ColumnStructure{}}
	require.NoError(t, store.CreateProcess(ctx, p))

	stats, err := imp.NormalizeAndInsert(ctx, store, p, nil)
	require.NoError(t, err)
	assert.Equal(t, core.ImportStats{}, stats)
}

func TestNormalizeAndInsertCountsUnmappableRows(t *testing.T) {
	imp, store := newTestImporter(t)
	ctx := context.Background()

	p := &core.ImportProcess{
		TableName: "t",
		ColumnStructure: core.ColumnStructure{
			"known": {OriginalName: "known", Type: core.TypeText},
		},
	}
	require.NoError(t, store.CreateProcess(ctx, p))

	rows := []any{
		core.Record{"known": "kept", "stray": "dropped"},
		core.Record{"mystery": "no mapped fields at all"},
		"not a record",
	}
	stats, err := imp.NormalizeAndInsert(ctx, store, p, rows)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 2, stats.Errors)
	assert.Equal(t, 3, stats.Total)

	stored, err := store.ListRecords(ctx, p.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, core.Record{"known": "kept"}, stored[0].Data)
	assert.NotContains(t, stored[0].Data, "stray")
}

func TestNormalizeAndInsertBatches(t *testing.T) {
	imp, store := newTestImporter(t, func(o *Options) { o.BatchSize = 10 })
	ctx := context.Background()

	p := &core.ImportProcess{
		TableName: "t",
		ColumnStructure: core.ColumnStructure{
			"n": {OriginalName: "n", Type: core.TypeInteger},
		},
	}
	require.NoError(t, store.CreateProcess(ctx, p))

	rows := make([]any, 25)
	for i := range rows {
		rows[i] = core.Record{"n": int64(i)}
	}
	stats, err := imp.NormalizeAndInsert(ctx, store, p, rows)
	require.NoError(t, err)
	assert.Equal(t, 25, stats.Inserted)

	count, err := store.CountRecords(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, count)
}

func TestPostSuccessHooks(t *testing.T) {
	var calls []int64
	imp, _ := newTestImporter(t, func(o *Options) {
		o.PostSuccess = []Hook{
			func(ctx context.Context, p *core.ImportProcess) { panic("hook gone wrong") },
			func(ctx context.Context, p *core.ImportProcess) { calls = append(calls, p.ID) },
		}
	})

	p, _, err := imp.Import(context.Background(), fileRequest("hooked", "h.csv", "a\n1\n"))
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, p.ID, calls[0])
}

func TestGetOrCreateProcess(t *testing.T) {
	imp, store := newTestImporter(t)
	ctx := context.Background()

	req := fileRequest("reused", "r.csv", "a\n1\n")
	p1, created, err := imp.GetOrCreateProcess(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, core.StatusProcessing, p1.Status)

	p2, created, err := imp.GetOrCreateProcess(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p1.ID, p2.ID)

	_, err = store.GetProcessByTableName(ctx, "reused")
	require.NoError(t, err)
}
