// Package postgres implements storage.Store on Postgres using pgx v5.
// Deduplication is pushed to the database through a unique index on
// (process_id, row_hash) and INSERT ... ON CONFLICT DO NOTHING.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DaniloDalessandro/datadock/internal/core"
	"github.com/DaniloDalessandro/datadock/internal/storage"
)

func init() {
	storage.Register("postgres", func(ctx context.Context, dsn string) (storage.Store, error) {
		return Open(ctx, dsn)
	})
}

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same queries run inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a Postgres-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
	q    querier
}

// Open connects to dsn and applies the schema bootstrap.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	s := &Store{pool: pool, q: pool}
	if err := s.bootstrap(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

var bootstrapDDL = []string{
	`CREATE TABLE IF NOT EXISTS import_processes (
		id bigserial PRIMARY KEY,
		table_name text NOT NULL UNIQUE,
		source text NOT NULL DEFAULT '',
		status text NOT NULL DEFAULT 'active',
		record_count integer NOT NULL DEFAULT 0,
		column_structure jsonb NOT NULL DEFAULT '{}'::jsonb,
		error_message text NOT NULL DEFAULT '',
		owner text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS imported_records (
		id bigserial PRIMARY KEY,
		process_id bigint NOT NULL REFERENCES import_processes(id) ON DELETE CASCADE,
		row_hash text NOT NULL,
		data jsonb NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS imported_records_process_hash
		ON imported_records (process_id, row_hash)`,
	`CREATE TABLE IF NOT EXISTS async_jobs (
		id text PRIMARY KEY,
		label text NOT NULL DEFAULT '',
		status text NOT NULL,
		progress integer NOT NULL DEFAULT 0,
		process_id bigint NOT NULL DEFAULT 0,
		result jsonb,
		error_message text NOT NULL DEFAULT '',
		owner text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now(),
		completed_at timestamptz
	)`,
}

func (s *Store) bootstrap(ctx context.Context) error {
	for _, ddl := range bootstrapDDL {
		if _, err := s.q.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	return nil
}

const uniqueViolation = "23505"

func (s *Store) CreateProcess(ctx context.Context, p *core.ImportProcess) error {
	structure, err := json.Marshal(p.ColumnStructure)
	if err != nil {
		return fmt.Errorf("encode column structure: %w", err)
	}
	row := s.q.QueryRow(ctx,
		`INSERT INTO import_processes
			(table_name, source, status, record_count, column_structure, error_message, owner)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		p.TableName, p.Source, p.Status, p.RecordCount, structure, p.ErrorMessage, p.Owner,
	)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return storage.ErrDuplicateTableName
		}
		return fmt.Errorf("create process: %w", err)
	}
	return nil
}

const processColumns = `id, table_name, source, status, record_count,
	column_structure, error_message, owner, created_at, updated_at`

func scanProcess(row pgx.Row) (*core.ImportProcess, error) {
	var p core.ImportProcess
	var structure []byte
	err := row.Scan(&p.ID, &p.TableName, &p.Source, &p.Status, &p.RecordCount,
		&structure, &p.ErrorMessage, &p.Owner, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan process: %w", err)
	}
	if len(structure) > 0 {
		if err := json.Unmarshal(structure, &p.ColumnStructure); err != nil {
			return nil, fmt.Errorf("decode column structure: %w", err)
		}
	}
	return &p, nil
}

func (s *Store) GetProcess(ctx context.Context, id int64) (*core.ImportProcess, error) {
	return scanProcess(s.q.QueryRow(ctx,
		`SELECT `+processColumns+` FROM import_processes WHERE id = $1`, id))
}

func (s *Store) GetProcessByTableName(ctx context.Context, tableName string) (*core.ImportProcess, error) {
	return scanProcess(s.q.QueryRow(ctx,
		`SELECT `+processColumns+` FROM import_processes WHERE table_name = $1`, tableName))
}

func (s *Store) UpdateProcess(ctx context.Context, p *core.ImportProcess) error {
	structure, err := json.Marshal(p.ColumnStructure)
	if err != nil {
		return fmt.Errorf("encode column structure: %w", err)
	}
	tag, err := s.q.Exec(ctx,
		`UPDATE import_processes SET
			source = $2, status = $3, record_count = $4, column_structure = $5,
			error_message = $6, owner = $7, updated_at = now()
		 WHERE id = $1`,
		p.ID, p.Source, p.Status, p.RecordCount, structure, p.ErrorMessage, p.Owner,
	)
	if err != nil {
		return fmt.Errorf("update process: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteProcess relies on ON DELETE CASCADE to remove the records.
func (s *Store) DeleteProcess(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM import_processes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete process: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListProcesses(ctx context.Context, owner string) ([]core.ImportProcess, error) {
	query := `SELECT ` + processColumns + ` FROM import_processes`
	args := []any{}
	if owner != "" {
		query += ` WHERE owner = $1`
		args = append(args, owner)
	}
	query += ` ORDER BY id`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	var out []core.ImportProcess
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) ListRowHashes(ctx context.Context, processID int64) (map[string]struct{}, error) {
	rows, err := s.q.Query(ctx,
		`SELECT row_hash FROM imported_records WHERE process_id = $1`, processID)
	if err != nil {
		return nil, fmt.Errorf("list row hashes: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan row hash: %w", err)
		}
		set[h] = struct{}{}
	}
	return set, rows.Err()
}

func (s *Store) BulkInsertRecords(ctx context.Context, recs []core.ImportedRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	// One multi-row INSERT per call keeps the conflict handling in a single
	// statement, so the returned RowsAffected is exactly the inserted count.
	var sb strings.Builder
	sb.WriteString(`INSERT INTO imported_records (process_id, row_hash, data) VALUES `)
	args := make([]any, 0, len(recs)*3)
	for i, rec := range recs {
		data, err := json.Marshal(rec.Data)
		if err != nil {
			return 0, fmt.Errorf("encode record: %w", err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d)", len(args)+1, len(args)+2, len(args)+3)
		args = append(args, rec.ProcessID, rec.RowHash, data)
	}
	sb.WriteString(` ON CONFLICT (process_id, row_hash) DO NOTHING`)

	tag, err := s.q.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("bulk insert: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) CountRecords(ctx context.Context, processID int64) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT count(*) FROM imported_records WHERE process_id = $1`, processID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *Store) ListRecords(ctx context.Context, processID int64, limit, offset int) ([]core.ImportedRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, process_id, row_hash, data FROM imported_records
		 WHERE process_id = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		processID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []core.ImportedRecord
	for rows.Next() {
		var rec core.ImportedRecord
		var data []byte
		if err := rows.Scan(&rec.ID, &rec.ProcessID, &rec.RowHash, &data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CreateJob(ctx context.Context, j *core.AsyncJob) error {
	result, err := marshalResult(j.Result)
	if err != nil {
		return err
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO async_jobs
			(id, label, status, progress, process_id, result, error_message, owner, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		j.ID, j.Label, j.Status, j.Progress, j.ProcessID, result, j.Error, j.Owner, j.CreatedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*core.AsyncJob, error) {
	var j core.AsyncJob
	var result []byte
	err := s.q.QueryRow(ctx,
		`SELECT id, label, status, progress, process_id, result, error_message, owner, created_at, completed_at
		 FROM async_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.Label, &j.Status, &j.Progress, &j.ProcessID, &result, &j.Error, &j.Owner, &j.CreatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(result) > 0 {
		j.Result = &core.ImportStats{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}
	return &j, nil
}

func (s *Store) UpdateJob(ctx context.Context, j *core.AsyncJob) error {
	result, err := marshalResult(j.Result)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx,
		`UPDATE async_jobs SET
			label = $2, status = $3, progress = $4, process_id = $5,
			result = $6, error_message = $7, owner = $8, completed_at = $9
		 WHERE id = $1`,
		j.ID, j.Label, j.Status, j.Progress, j.ProcessID, result, j.Error, j.Owner, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func marshalResult(stats *core.ImportStats) ([]byte, error) {
	if stats == nil {
		return nil, nil
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("encode job result: %w", err)
	}
	return b, nil
}

// WithTx starts a transaction and runs fn against a Store bound to it.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Store) error) error {
	if s.pool == nil {
		return errors.New("nested transactions are not supported")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	txStore := &Store{q: tx}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
