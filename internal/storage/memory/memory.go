// Package memory implements storage.Store with in-process maps. It backs
// tests and local development; transactional scope is emulated by snapshot
// and restore under a single mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DaniloDalessandro/datadock/internal/core"
	"github.com/DaniloDalessandro/datadock/internal/storage"
)

func init() {
	storage.Register("memory", func(ctx context.Context, dsn string) (storage.Store, error) {
		return New(), nil
	})
}

type recordKey struct {
	processID int64
	rowHash   string
}

// Store is an in-memory storage.Store.
type Store struct {
	mu sync.Mutex

	nextProcessID int64
	nextRecordID  int64
	processes     map[int64]core.ImportProcess
	byTableName   map[string]int64
	records       map[int64][]core.ImportedRecord
	hashIndex     map[recordKey]struct{}
	jobs          map[string]core.AsyncJob

	now func() time.Time
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		processes:   make(map[int64]core.ImportProcess),
		byTableName: make(map[string]int64),
		records:     make(map[int64][]core.ImportedRecord),
		hashIndex:   make(map[recordKey]struct{}),
		jobs:        make(map[string]core.AsyncJob),
		now:         time.Now,
	}
}

func (s *Store) CreateProcess(ctx context.Context, p *core.ImportProcess) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byTableName[p.TableName]; taken {
		return storage.ErrDuplicateTableName
	}
	s.nextProcessID++
	p.ID = s.nextProcessID
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	s.processes[p.ID] = cloneProcess(*p)
	s.byTableName[p.TableName] = p.ID
	return nil
}

func (s *Store) GetProcess(ctx context.Context, id int64) (*core.ImportProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.processes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := cloneProcess(p)
	return &out, nil
}

func (s *Store) GetProcessByTableName(ctx context.Context, tableName string) (*core.ImportProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byTableName[tableName]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := cloneProcess(s.processes[id])
	return &out, nil
}

func (s *Store) UpdateProcess(ctx context.Context, p *core.ImportProcess) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processes[p.ID]; !ok {
		return storage.ErrNotFound
	}
	p.UpdatedAt = s.now()
	s.processes[p.ID] = cloneProcess(*p)
	return nil
}

func (s *Store) DeleteProcess(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.processes[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.processes, id)
	delete(s.byTableName, p.TableName)
	for _, rec := range s.records[id] {
		delete(s.hashIndex, recordKey{id, rec.RowHash})
	}
	delete(s.records, id)
	return nil
}

func (s *Store) ListProcesses(ctx context.Context, owner string) ([]core.ImportProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.ImportProcess, 0, len(s.processes))
	for _, p := range s.processes {
		if owner != "" && p.Owner != owner {
			continue
		}
		out = append(out, cloneProcess(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListRowHashes(ctx context.Context, processID int64) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[string]struct{}, len(s.records[processID]))
	for _, rec := range s.records[processID] {
		set[rec.RowHash] = struct{}{}
	}
	return set, nil
}

func (s *Store) BulkInsertRecords(ctx context.Context, recs []core.ImportedRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, rec := range recs {
		key := recordKey{rec.ProcessID, rec.RowHash}
		if _, dup := s.hashIndex[key]; dup {
			continue
		}
		s.nextRecordID++
		rec.ID = s.nextRecordID
		rec.Data = cloneRecord(rec.Data)
		s.records[rec.ProcessID] = append(s.records[rec.ProcessID], rec)
		s.hashIndex[key] = struct{}{}
		inserted++
	}
	return inserted, nil
}

func (s *Store) CountRecords(ctx context.Context, processID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[processID]), nil
}

func (s *Store) ListRecords(ctx context.Context, processID int64, limit, offset int) ([]core.ImportedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.records[processID]
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	out := make([]core.ImportedRecord, len(all))
	for i, rec := range all {
		rec.Data = cloneRecord(rec.Data)
		out[i] = rec
	}
	return out, nil
}

func (s *Store) CreateJob(ctx context.Context, j *core.AsyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.CreatedAt.IsZero() {
		j.CreatedAt = s.now()
	}
	s.jobs[j.ID] = cloneJob(*j)
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*core.AsyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := cloneJob(j)
	return &out, nil
}

func (s *Store) UpdateJob(ctx context.Context, j *core.AsyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; !ok {
		return storage.ErrNotFound
	}
	s.jobs[j.ID] = cloneJob(*j)
	return nil
}

// WithTx emulates a transaction by snapshotting all state and restoring it
// when fn fails. Writes made on the receiver after WithTx returns are
// unaffected, which is what the compensating status write relies on.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Store) error) error {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.restoreLocked(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Close() {}

type snapshot struct {
	nextProcessID int64
	nextRecordID  int64
	processes     map[int64]core.ImportProcess
	byTableName   map[string]int64
	records       map[int64][]core.ImportedRecord
	hashIndex     map[recordKey]struct{}
	jobs          map[string]core.AsyncJob
}

func (s *Store) snapshotLocked() snapshot {
	snap := snapshot{
		nextProcessID: s.nextProcessID,
		nextRecordID:  s.nextRecordID,
		processes:     make(map[int64]core.ImportProcess, len(s.processes)),
		byTableName:   make(map[string]int64, len(s.byTableName)),
		records:       make(map[int64][]core.ImportedRecord, len(s.records)),
		hashIndex:     make(map[recordKey]struct{}, len(s.hashIndex)),
		jobs:          make(map[string]core.AsyncJob, len(s.jobs)),
	}
	for id, p := range s.processes {
		snap.processes[id] = cloneProcess(p)
	}
	for name, id := range s.byTableName {
		snap.byTableName[name] = id
	}
	for id, recs := range s.records {
		snap.records[id] = append([]core.ImportedRecord(nil), recs...)
	}
	for k := range s.hashIndex {
		snap.hashIndex[k] = struct{}{}
	}
	for id, j := range s.jobs {
		snap.jobs[id] = cloneJob(j)
	}
	return snap
}

func (s *Store) restoreLocked(snap snapshot) {
	s.nextProcessID = snap.nextProcessID
	s.nextRecordID = snap.nextRecordID
	s.processes = snap.processes
	s.byTableName = snap.byTableName
	s.records = snap.records
	s.hashIndex = snap.hashIndex
	s.jobs = snap.jobs
}

func cloneProcess(p core.ImportProcess) core.ImportProcess {
	if p.ColumnStructure != nil {
		cs := make(core.ColumnStructure, len(p.ColumnStructure))
		for k, v := range p.ColumnStructure {
			cs[k] = v
		}
		p.ColumnStructure = cs
	}
	return p
}

func cloneRecord(r core.Record) core.Record {
	out := make(core.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func cloneJob(j core.AsyncJob) core.AsyncJob {
	if j.Result != nil {
		res := *j.Result
		j.Result = &res
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		j.CompletedAt = &t
	}
	return j
}
