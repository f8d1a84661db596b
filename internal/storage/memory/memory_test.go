package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaniloDalessandro/datadock/internal/core"
	"github.com/DaniloDalessandro/datadock/internal/storage"
)

func TestProcessLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := &core.ImportProcess{
		TableName: "sales_2024",
		Source:    "file:sales.csv",
		Status:    core.StatusActive,
		ColumnStructure: core.ColumnStructure{
			"amount": {OriginalName: "Amount", Type: core.TypeReal},
		},
	}
	require.NoError(t, s.CreateProcess(ctx, p))
	assert.NotZero(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())

	got, err := s.GetProcessByTableName(ctx, "sales_2024")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, core.TypeReal, got.ColumnStructure["amount"].Type)

	got.Status = core.StatusInactive
	got.ErrorMessage = "boom"
	require.NoError(t, s.UpdateProcess(ctx, got))

	reread, err := s.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInactive, reread.Status)
	assert.Equal(t, "boom", reread.ErrorMessage)
}

func TestCreateProcessDuplicateTableName(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateProcess(ctx, &core.ImportProcess{TableName: "taken"}))
	err := s.CreateProcess(ctx, &core.ImportProcess{TableName: "taken"})
	assert.ErrorIs(t, err, storage.ErrDuplicateTableName)
}

func TestGetProcessNotFound(t *testing.T) {
	s := New()
	_, err := s.GetProcess(context.Background(), 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBulkInsertIgnoresConflicts(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := &core.ImportProcess{TableName: "t"}
	require.NoError(t, s.CreateProcess(ctx, p))

	first := []core.ImportedRecord{
		{ProcessID: p.ID, RowHash: "h1", Data: core.Record{"a": 1}},
		{ProcessID: p.ID, RowHash: "h2", Data: core.Record{"a": 2}},
	}
	n, err := s.BulkInsertRecords(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	second := []core.ImportedRecord{
		{ProcessID: p.ID, RowHash: "h2", Data: core.Record{"a": 2}},
		{ProcessID: p.ID, RowHash: "h3", Data: core.Record{"a": 3}},
	}
	n, err = s.BulkInsertRecords(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := s.CountRecords(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	hashes, err := s.ListRowHashes(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, hashes, 3)
	_, ok := hashes["h3"]
	assert.True(t, ok)
}

func TestDeleteProcessCascades(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := &core.ImportProcess{TableName: "doomed"}
	require.NoError(t, s.CreateProcess(ctx, p))
	_, err := s.BulkInsertRecords(ctx, []core.ImportedRecord{
		{ProcessID: p.ID, RowHash: "h1", Data: core.Record{"a": 1}},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteProcess(ctx, p.ID))

	_, err = s.GetProcess(ctx, p.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	count, err := s.CountRecords(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// The table name is free for reuse after deletion.
	require.NoError(t, s.CreateProcess(ctx, &core.ImportProcess{TableName: "doomed"}))
}

func TestListProcessesFiltersByOwner(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateProcess(ctx, &core.ImportProcess{TableName: "a", Owner: "ana"}))
	require.NoError(t, s.CreateProcess(ctx, &core.ImportProcess{TableName: "b", Owner: "bob"}))
	require.NoError(t, s.CreateProcess(ctx, &core.ImportProcess{TableName: "c", Owner: "ana"}))

	all, err := s.ListProcesses(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := s.ListProcesses(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "a", mine[0].TableName)
	assert.Equal(t, "c", mine[1].TableName)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := &core.ImportProcess{TableName: "txtest"}
	require.NoError(t, s.CreateProcess(ctx, p))

	sentinel := errors.New("midway failure")
	err := s.WithTx(ctx, func(tx storage.Store) error {
		if _, err := tx.BulkInsertRecords(ctx, []core.ImportedRecord{
			{ProcessID: p.ID, RowHash: "h1", Data: core.Record{"a": 1}},
		}); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	count, err := s.CountRecords(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Writes after the rollback stick, which the compensating status
	// update depends on.
	p.Status = core.StatusInactive
	require.NoError(t, s.UpdateProcess(ctx, p))
	got, err := s.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInactive, got.Status)
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	j := &core.AsyncJob{ID: "job-1", Label: "import sales", Status: core.JobStarted}
	require.NoError(t, s.CreateJob(ctx, j))

	j.Status = core.JobSuccess
	j.Progress = 100
	j.Result = &core.ImportStats{Inserted: 5, Total: 5}
	require.NoError(t, s.UpdateJob(ctx, j))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobSuccess, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 5, got.Result.Inserted)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListRecordsPagination(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := &core.ImportProcess{TableName: "paged"}
	require.NoError(t, s.CreateProcess(ctx, p))

	recs := make([]core.ImportedRecord, 5)
	for i := range recs {
		recs[i] = core.ImportedRecord{ProcessID: p.ID, RowHash: string(rune('a' + i)), Data: core.Record{"i": i}}
	}
	_, err := s.BulkInsertRecords(ctx, recs)
	require.NoError(t, err)

	page, err := s.ListRecords(ctx, p.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].RowHash)

	tail, err := s.ListRecords(ctx, p.ID, 10, 4)
	require.NoError(t, err)
	assert.Len(t, tail, 1)

	empty, err := s.ListRecords(ctx, p.ID, 10, 99)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
