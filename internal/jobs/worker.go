package jobs

import (
	"context"
	"fmt"
	"runtime"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// Worker pulls tasks off a MemoryQueue and executes them on a bounded
// goroutine pool, so slow imports overlap without unbounded spawn.
type Worker struct {
	queue  *MemoryQueue
	runner *Runner
	pool   *ants.Pool
	log    *logrus.Logger
}

// NewWorker builds a Worker with size concurrent executors. size <= 0
// means half the CPUs, minimum 1.
func NewWorker(queue *MemoryQueue, runner *Runner, size int, log *logrus.Logger) (*Worker, error) {
	if size <= 0 {
		size = runtime.NumCPU() / 2
		if size < 1 {
			size = 1
		}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}
	return &Worker{queue: queue, runner: runner, pool: pool, log: log}, nil
}

// Run dispatches until ctx is canceled. In-flight tasks run to completion
// before their pool goroutines observe the release.
func (w *Worker) Run(ctx context.Context) error {
	defer w.pool.Release()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker shutting down")
			return ctx.Err()
		case task := <-w.queue.Tasks():
			t := task
			if err := w.pool.Submit(func() { w.runner.Execute(ctx, t) }); err != nil {
				w.log.WithError(err).WithField("job_id", t.JobID).
					Error("failed to submit task to pool")
			}
		}
	}
}
