// Package jobs runs imports on a background worker queue with retry and
// progress bookkeeping. Retries are modeled as re-enqueue with a computed
// delay rather than sleeping inside the worker.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/DaniloDalessandro/datadock/internal/core"
)

// Spec describes one queued import. File payloads travel as bytes so a
// retried attempt can re-read the source from scratch.
type Spec struct {
	Kind        core.ImportKind
	TableName   string
	EndpointURL string
	FileName    string
	FileData    []byte
	Owner       string

	// Append adds rows to an existing process, reusing its stored column
	// structure instead of re-inferring it.
	Append bool
}

// Task is one delivery of a Spec to a worker. Attempt counts prior
// executions; Delay postpones delivery.
type Task struct {
	JobID   string
	Spec    Spec
	Attempt int
	Delay   time.Duration
}

// Queue delivers tasks to workers at least once.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
}

// MemoryQueue is an in-process Queue backed by a channel. Delayed tasks
// are re-delivered by timer, so no worker goroutine blocks on a backoff.
type MemoryQueue struct {
	ch chan Task

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

// NewMemoryQueue returns a queue buffering up to size pending tasks.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:     make(chan Task, size),
		timers: make(map[*time.Timer]struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	if task.Delay <= 0 {
		select {
		case q.ch <- task:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	task2 := task
	task2.Delay = 0
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	var timer *time.Timer
	timer = time.AfterFunc(task.Delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		q.ch <- task2
	})
	q.timers[timer] = struct{}{}
	return nil
}

// Tasks exposes the delivery channel for the worker loop.
func (q *MemoryQueue) Tasks() <-chan Task { return q.ch }

// Close stops pending timers. Tasks already in the channel still deliver.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = nil
}
