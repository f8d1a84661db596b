// Package storage defines the persistence contract for import processes,
// their deduplicated records, and async job bookkeeping.
//
// Backends (postgres, memory) register an opener for a storage kind at init
// time; callers pick one by name through Open without importing the backend
// directly.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/DaniloDalessandro/datadock/internal/core"
)

// ErrNotFound is returned when a process, record, or job does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicateTableName is returned by CreateProcess when the table name is
// already taken.
var ErrDuplicateTableName = errors.New("storage: table name already in use")

// Store is the persistence contract the import pipeline runs against.
//
// Implementations must make BulkInsertRecords ignore rows whose
// (process_id, row_hash) pair already exists and report only the rows
// actually written.
type Store interface {
	CreateProcess(ctx context.Context, p *core.ImportProcess) error
	GetProcess(ctx context.Context, id int64) (*core.ImportProcess, error)
	GetProcessByTableName(ctx context.Context, tableName string) (*core.ImportProcess, error)
	UpdateProcess(ctx context.Context, p *core.ImportProcess) error

	// DeleteProcess removes the process and all records owned by it.
	DeleteProcess(ctx context.Context, id int64) error
	ListProcesses(ctx context.Context, owner string) ([]core.ImportProcess, error)

	// ListRowHashes returns every row hash already stored for the process,
	// as a set for O(1) membership checks during dedup preload.
	ListRowHashes(ctx context.Context, processID int64) (map[string]struct{}, error)

	// BulkInsertRecords writes a batch, skipping hash conflicts, and returns
	// the number of rows actually inserted.
	BulkInsertRecords(ctx context.Context, recs []core.ImportedRecord) (int, error)
	CountRecords(ctx context.Context, processID int64) (int, error)
	ListRecords(ctx context.Context, processID int64, limit, offset int) ([]core.ImportedRecord, error)

	CreateJob(ctx context.Context, j *core.AsyncJob) error
	GetJob(ctx context.Context, id string) (*core.AsyncJob, error)
	UpdateJob(ctx context.Context, j *core.AsyncJob) error

	// WithTx runs fn inside a transaction; fn receives a Store whose writes
	// commit together or not at all. Writes made on the receiver after fn
	// fails are independent of the rolled-back transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Close()
}

// Opener constructs a Store for a DSN.
type Opener func(ctx context.Context, dsn string) (Store, error)

var (
	openerMu sync.RWMutex
	openers  = map[string]Opener{}
)

// Register registers (or replaces) the Opener for a storage kind. Backend
// packages call this from init().
func Register(kind string, fn Opener) {
	openerMu.Lock()
	defer openerMu.Unlock()
	openers[kind] = fn
}

// Open constructs the Store registered for kind.
func Open(ctx context.Context, kind, dsn string) (Store, error) {
	openerMu.RLock()
	fn, ok := openers[kind]
	openerMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no store registered for storage.kind=%q", kind)
	}
	return fn(ctx, dsn)
}
