// Package importer orchestrates one dataset import end to end: create the
// tracking process, load rows from a file or endpoint, infer the column
// structure, normalize and deduplicate, and record the final status.
//
// The synchronous path runs all data writes inside one transaction; the
// failure-status write happens after rollback so the process stays visible
// as inactive with its error message.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/DaniloDalessandro/datadock/internal/core"
	"github.com/DaniloDalessandro/datadock/internal/fetcher"
	"github.com/DaniloDalessandro/datadock/internal/reader"
	"github.com/DaniloDalessandro/datadock/internal/schema"
	"github.com/DaniloDalessandro/datadock/internal/storage"
)

// Hook runs after a successful import. Hooks are best-effort; a hook
// failing never fails the import.
type Hook func(ctx context.Context, p *core.ImportProcess)

// Options configures an Importer. Zero values get defaults: a standard
// logger, a default Reader and Fetcher, and 1000-record batches.
type Options struct {
	Store     storage.Store
	Reader    *reader.Reader
	Fetcher   *fetcher.Fetcher
	Logger    *logrus.Logger
	BatchSize int

	// PostSuccess hooks run after the transaction commits, in order.
	PostSuccess []Hook
}

// Importer owns the import lifecycle.
type Importer struct {
	store     storage.Store
	reader    *reader.Reader
	fetcher   *fetcher.Fetcher
	log       *logrus.Logger
	batchSize int
	hooks     []Hook
}

// New constructs an Importer. Options.Store is required.
func New(opts Options) *Importer {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Reader == nil {
		opts.Reader = reader.New(opts.Logger)
	}
	if opts.Fetcher == nil {
		opts.Fetcher = fetcher.New(fetcher.Config{Logger: opts.Logger})
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Importer{
		store:     opts.Store,
		reader:    opts.Reader,
		fetcher:   opts.Fetcher,
		log:       opts.Logger,
		batchSize: opts.BatchSize,
		hooks:     opts.PostSuccess,
	}
}

// Request describes one import. Exactly one source applies: EndpointURL
// for KindEndpoint, FileName+File for KindFile.
type Request struct {
	Kind        core.ImportKind
	TableName   string
	EndpointURL string
	FileName    string
	File        io.Reader
	Owner       string
}

// Validate checks the request shape before any I/O happens.
func (r Request) Validate() error {
	if r.TableName == "" {
		return &core.ValidationError{Msg: "table name is required"}
	}
	if schema.SanitizeFieldName(r.TableName) != r.TableName {
		return &core.ValidationError{Msg: fmt.Sprintf("table name %q is not a valid identifier", r.TableName)}
	}
	switch r.Kind {
	case core.KindEndpoint:
		if r.EndpointURL == "" {
			return &core.ValidationError{Msg: "endpoint imports require a url"}
		}
	case core.KindFile:
		if r.FileName == "" || r.File == nil {
			return &core.ValidationError{Msg: "file imports require a named file"}
		}
	default:
		return &core.ValidationError{Msg: fmt.Sprintf("unknown import kind %q", r.Kind)}
	}
	return nil
}

// source returns the descriptor stored on the process.
func (r Request) source() string {
	if r.Kind == core.KindEndpoint {
		return r.EndpointURL
	}
	return "file:" + r.FileName
}

// LoadRows dispatches to the Reader or Fetcher for the request's kind.
func (imp *Importer) LoadRows(ctx context.Context, req Request) ([]any, error) {
	switch req.Kind {
	case core.KindFile:
		return imp.reader.Read(ctx, req.FileName, req.File)
	case core.KindEndpoint:
		return imp.fetcher.Fetch(ctx, req.EndpointURL)
	default:
		return nil, &core.ValidationError{Msg: fmt.Sprintf("unknown import kind %q", req.Kind)}
	}
}

// Import runs one synchronous import. On failure every data write rolls
// back and a compensating write leaves the process visible as inactive
// with the error message; the original error comes back wrapped.
func (imp *Importer) Import(ctx context.Context, req Request) (*core.ImportProcess, core.ImportStats, error) {
	var stats core.ImportStats

	if err := req.Validate(); err != nil {
		return nil, stats, err
	}
	if _, err := imp.store.GetProcessByTableName(ctx, req.TableName); err == nil {
		return nil, stats, &core.ValidationError{Msg: fmt.Sprintf("table name %q is already in use", req.TableName)}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, stats, fmt.Errorf("table name lookup: %w", err)
	}

	p := &core.ImportProcess{
		TableName: req.TableName,
		Source:    req.source(),
		Status:    core.StatusActive,
		Owner:     req.Owner,
	}

	err := imp.store.WithTx(ctx, func(tx storage.Store) error {
		if err := tx.CreateProcess(ctx, p); err != nil {
			if errors.Is(err, storage.ErrDuplicateTableName) {
				return &core.ValidationError{Msg: fmt.Sprintf("table name %q is already in use", req.TableName)}
			}
			return err
		}

		rows, err := imp.LoadRows(ctx, req)
		if err != nil {
			return err
		}

		p.ColumnStructure = schema.Analyze(rows)

		s, err := imp.NormalizeAndInsert(ctx, tx, p, rows)
		stats = s
		if err != nil {
			return err
		}

		p.RecordCount = stats.Inserted
		return tx.UpdateProcess(ctx, p)
	})
	if err != nil {
		imp.recordFailure(ctx, p, err)
		return nil, stats, fmt.Errorf("import %q: %w", req.TableName, err)
	}

	imp.log.WithFields(logrus.Fields{
		"process_id": p.ID,
		"table_name": p.TableName,
		"inserted":   stats.Inserted,
	}).Info("import finished")
	imp.runHooks(ctx, p)
	return p, stats, nil
}

// Append adds rows from a new source to an existing process inside one
// transaction. The stored column structure is reused, not re-inferred, and
// record_count grows by this run's inserted count only.
func (imp *Importer) Append(ctx context.Context, req Request) (*core.ImportProcess, core.ImportStats, error) {
	var stats core.ImportStats

	if err := req.Validate(); err != nil {
		return nil, stats, err
	}
	p, err := imp.store.GetProcessByTableName(ctx, req.TableName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, stats, &core.ValidationError{Msg: fmt.Sprintf("no process named %q to append to", req.TableName)}
		}
		return nil, stats, fmt.Errorf("table name lookup: %w", err)
	}

	err = imp.store.WithTx(ctx, func(tx storage.Store) error {
		rows, err := imp.LoadRows(ctx, req)
		if err != nil {
			return err
		}
		if len(p.ColumnStructure) == 0 {
			p.ColumnStructure = schema.Analyze(rows)
		}

		s, err := imp.NormalizeAndInsert(ctx, tx, p, rows)
		stats = s
		if err != nil {
			return err
		}

		p.RecordCount += stats.Inserted
		p.Status = core.StatusActive
		p.ErrorMessage = ""
		return tx.UpdateProcess(ctx, p)
	})
	if err != nil {
		imp.recordFailure(ctx, p, err)
		return nil, stats, fmt.Errorf("append to %q: %w", req.TableName, err)
	}

	imp.log.WithFields(logrus.Fields{
		"process_id": p.ID,
		"table_name": p.TableName,
		"inserted":   stats.Inserted,
	}).Info("append finished")
	imp.runHooks(ctx, p)
	return p, stats, nil
}

// recordFailure writes the inactive status outside the rolled-back
// transaction so the failed process stays inspectable.
func (imp *Importer) recordFailure(ctx context.Context, p *core.ImportProcess, cause error) {
	failed := &core.ImportProcess{
		TableName:    p.TableName,
		Source:       p.Source,
		Status:       core.StatusInactive,
		ErrorMessage: cause.Error(),
		Owner:        p.Owner,
	}
	err := imp.store.CreateProcess(ctx, failed)
	if errors.Is(err, storage.ErrDuplicateTableName) {
		existing, getErr := imp.store.GetProcessByTableName(ctx, p.TableName)
		if getErr != nil {
			imp.log.WithError(getErr).WithField("table_name", p.TableName).
				Error("failed to record import failure")
			return
		}
		if p.ID == 0 || existing.ID != p.ID {
			// The name is held by a concurrent writer's process, not ours.
			// It is healthy and must not inherit this import's error.
			imp.log.WithError(cause).WithField("table_name", p.TableName).
				Warn("table name taken by another process, failure recorded on neither")
			return
		}
		// The rollback did not remove our own row (storage without a fully
		// transactional create); update it in place.
		existing.Status = core.StatusInactive
		existing.ErrorMessage = cause.Error()
		err = imp.store.UpdateProcess(ctx, existing)
		failed = existing
	}
	if err != nil {
		imp.log.WithError(err).WithField("table_name", p.TableName).
			Error("failed to record import failure")
		return
	}
	*p = *failed
}

// runHooks fires the post-success hooks; panics and errors stay contained.
func (imp *Importer) runHooks(ctx context.Context, p *core.ImportProcess) {
	for _, hook := range imp.hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					imp.log.WithField("process_id", p.ID).
						Warnf("post-import hook panicked: %v", r)
				}
			}()
			hook(ctx, p)
		}()
	}
}

// GetOrCreateProcess returns the process registered under tableName,
// creating it when absent. Used by the async path, which is idempotent by
// table name across retries.
func (imp *Importer) GetOrCreateProcess(ctx context.Context, req Request) (*core.ImportProcess, bool, error) {
	if existing, err := imp.store.GetProcessByTableName(ctx, req.TableName); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("table name lookup: %w", err)
	}

	p := &core.ImportProcess{
		TableName: req.TableName,
		Source:    req.source(),
		Status:    core.StatusProcessing,
		Owner:     req.Owner,
	}
	if err := imp.store.CreateProcess(ctx, p); err != nil {
		if errors.Is(err, storage.ErrDuplicateTableName) {
			// Lost the creation race; the winner's row serves.
			existing, getErr := imp.store.GetProcessByTableName(ctx, req.TableName)
			if getErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	return p, true, nil
}

// Store exposes the backing store for collaborators that share it.
func (imp *Importer) Store() storage.Store { return imp.store }
