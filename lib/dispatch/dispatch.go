// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch runs terrain work on two kinds of goroutine: a
// bounded pool of background workers for expensive jobs (grid
// rebuilds, surface builds, page loads and saves) and a single main
// goroutine that owns the scene and everything not protected by a
// lock.
//
// Background jobs are submitted with [Queue.Background]. Work that must
// happen on the main goroutine, typically the completion half of a
// background job, is posted with [Queue.Main] from any goroutine and
// runs when the main goroutine calls [Queue.DrainMain] or
// [Queue.WaitMain]. Nothing runs main-queue callbacks implicitly.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/alitto/pond/v2"
)

// DefaultMainBacklog is the main-queue capacity used when Config
// leaves it zero.
const DefaultMainBacklog = 256

// Config holds the parameters for a Queue.
type Config struct {
	// Workers bounds the number of concurrently running background
	// jobs. Zero means runtime.NumCPU().
	Workers int

	// MainBacklog is the number of main-queue callbacks that can be
	// pending before Main blocks. Zero means DefaultMainBacklog.
	MainBacklog int

	// Logger receives job failures. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Task is a submitted background job.
type Task interface {
	// Done is closed when the job finishes.
	Done() <-chan struct{}
	// Wait blocks until the job finishes and returns its error. A job
	// that panicked returns an error wrapping the panic value.
	Wait() error
}

// Queue dispatches background and main-goroutine work.
type Queue struct {
	pool   pond.Pool
	main   chan func()
	logger *slog.Logger
}

// New starts a queue. Call StopAndWait when done.
func New(config Config) *Queue {
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	backlog := config.MainBacklog
	if backlog <= 0 {
		backlog = DefaultMainBacklog
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		pool:   pond.NewPool(workers),
		main:   make(chan func(), backlog),
		logger: logger,
	}
}

// Background runs fn on a worker. Failures are logged with name and
// also returned from the task's Wait.
func (q *Queue) Background(name string, fn func() error) Task {
	return q.pool.SubmitErr(func() error {
		if err := fn(); err != nil {
			q.logger.Warn("background job failed", "job", name, "error", err)
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// Main posts fn to run on the main goroutine. Blocks while the main
// queue is full.
func (q *Queue) Main(fn func()) {
	q.main <- fn
}

// DrainMain runs every main-queue callback that is already pending and
// returns how many ran. It never blocks waiting for new callbacks.
func (q *Queue) DrainMain() int {
	ran := 0
	for {
		select {
		case fn := <-q.main:
			fn()
			ran++
		default:
			return ran
		}
	}
}

// WaitMain blocks until a main-queue callback is available, runs it
// and any others already pending, and returns how many ran.
func (q *Queue) WaitMain(ctx context.Context) (int, error) {
	select {
	case fn := <-q.main:
		fn()
		return 1 + q.DrainMain(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// StopAndWait stops accepting background jobs and waits for the
// running ones. Main-queue callbacks they posted stay pending.
func (q *Queue) StopAndWait() {
	q.pool.StopAndWait()
}
