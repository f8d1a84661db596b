// Command datadock imports tabular datasets (CSV, Excel, JSON endpoints)
// into the record store. It runs either a single synchronous import or a
// worker that executes queued imports in the background.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/DaniloDalessandro/datadock/internal/cache"
	"github.com/DaniloDalessandro/datadock/internal/config"
	"github.com/DaniloDalessandro/datadock/internal/core"
	"github.com/DaniloDalessandro/datadock/internal/fetcher"
	"github.com/DaniloDalessandro/datadock/internal/importer"
	"github.com/DaniloDalessandro/datadock/internal/jobs"
	"github.com/DaniloDalessandro/datadock/internal/storage"

	// register all store backends with the storage factory.
	_ "github.com/DaniloDalessandro/datadock/internal/storage/memory"
	_ "github.com/DaniloDalessandro/datadock/internal/storage/postgres"
)

func main() {
	var (
		cfgPath  string
		mode     string
		table    string
		file     string
		url      string
		owner    string
		appendTo bool
		validate bool
	)

	flag.StringVar(&cfgPath, "config", "", "config JSON path (optional)")
	flag.StringVar(&mode, "mode", "import", "import | worker")
	flag.StringVar(&table, "table", "", "destination table name")
	flag.StringVar(&file, "file", "", "path to a CSV/XLSX/XLS file")
	flag.StringVar(&url, "url", "", "JSON endpoint URL")
	flag.StringVar(&owner, "owner", "", "owner attributed to the import")
	flag.BoolVar(&appendTo, "append", false, "add rows to an existing dataset")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("config: %v", err)
	}
	if validate {
		fmt.Println("configuration is valid")
		return
	}

	log := newLogger(cfg.Logging)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage.Kind, cfg.Storage.DSN)
	if err != nil {
		fatalf("open storage: %v", err)
	}
	defer store.Close()

	c := cache.New()
	imp := importer.New(importer.Options{
		Store:  store,
		Logger: log,
		Fetcher: fetcher.New(fetcher.Config{
			Timeout:  cfg.FetchTimeout(),
			Attempts: cfg.Fetcher.Attempts,
			Pause:    cfg.FetchPause(),
			Logger:   log,
		}),
		PostSuccess: []importer.Hook{
			func(ctx context.Context, p *core.ImportProcess) { c.InvalidateProcess(p.ID) },
		},
	})

	switch mode {
	case "import":
		runImport(ctx, log, imp, table, file, url, owner, appendTo)
	case "worker":
		runWorker(ctx, log, cfg, imp, c, table, file, url, owner, appendTo)
	default:
		fatalf("unknown mode %q", mode)
	}
}

// runImport executes one synchronous import or append and prints its stats.
func runImport(ctx context.Context, log *logrus.Logger, imp *importer.Importer, table, file, url, owner string, appendTo bool) {
	req, err := buildRequest(table, file, url, owner)
	if err != nil {
		fatalf("%v", err)
	}
	defer closeFile(req)

	run := imp.Import
	if appendTo {
		run = imp.Append
	}
	p, stats, err := run(ctx, req)
	if err != nil {
		log.WithError(err).Error("import failed")
		os.Exit(1)
	}
	printJSON(map[string]any{
		"process_id": p.ID,
		"table_name": p.TableName,
		"stats":      stats,
	})
}

// runWorker enqueues the requested import (if any) and serves the queue
// until interrupted.
func runWorker(ctx context.Context, log *logrus.Logger, cfg config.Config, imp *importer.Importer, c *cache.Cache, table, file, url, owner string, appendTo bool) {
	queue := jobs.NewMemoryQueue(cfg.Jobs.QueueSize)
	defer queue.Close()

	runner := jobs.NewRunner(jobs.Options{
		Importer:    imp,
		Queue:       queue,
		Cache:       c,
		Logger:      log,
		MaxAttempts: cfg.Jobs.MaxAttempts,
		RetryBase:   cfg.RetryBase(),
	})
	worker, err := jobs.NewWorker(queue, runner, cfg.Jobs.Workers, log)
	if err != nil {
		fatalf("%v", err)
	}

	if table != "" {
		spec, err := buildSpec(table, file, url, owner, appendTo)
		if err != nil {
			fatalf("%v", err)
		}
		job, err := runner.Submit(ctx, spec)
		if err != nil {
			fatalf("submit: %v", err)
		}
		log.WithField("job_id", job.ID).Info("queued")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(ctx) })
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		fatalf("worker: %v", err)
	}
}

// buildRequest assembles a synchronous import request from the flags.
func buildRequest(table, file, url, owner string) (importer.Request, error) {
	req := importer.Request{TableName: table, Owner: owner}
	switch {
	case file != "" && url != "":
		return req, fmt.Errorf("pass either -file or -url, not both")
	case file != "":
		f, err := os.Open(file)
		if err != nil {
			return req, fmt.Errorf("open input: %w", err)
		}
		req.Kind = core.KindFile
		req.FileName = filepath.Base(file)
		req.File = f
	case url != "":
		req.Kind = core.KindEndpoint
		req.EndpointURL = url
	default:
		return req, fmt.Errorf("pass -file or -url")
	}
	return req, nil
}

// buildSpec assembles a queued import spec; file payloads are read up
// front so retries can replay them.
func buildSpec(table, file, url, owner string, appendTo bool) (jobs.Spec, error) {
	spec := jobs.Spec{TableName: table, Owner: owner, Append: appendTo}
	switch {
	case file != "" && url != "":
		return spec, fmt.Errorf("pass either -file or -url, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return spec, fmt.Errorf("read input: %w", err)
		}
		spec.Kind = core.KindFile
		spec.FileName = filepath.Base(file)
		spec.FileData = data
	case url != "":
		spec.Kind = core.KindEndpoint
		spec.EndpointURL = url
	default:
		return spec, fmt.Errorf("pass -file or -url")
	}
	return spec, nil
}

func closeFile(req importer.Request) {
	if f, ok := req.File.(*os.File); ok && f != nil {
		f.Close()
	}
}

func newLogger(cfg config.Logging) *logrus.Logger {
	log := logrus.New()
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	return log
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
