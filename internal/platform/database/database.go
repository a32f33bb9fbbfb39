// Package database opens the embedded analytical store and provides a
// bounded worker pool for callers that want to push writes through a fixed
// number of goroutines instead of the database/sql pool's own concurrency.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Open establishes a connection to the embedded sqlite store identified by
// dsn (a file path, or "file::memory:?cache=shared" for tests) and verifies
// connectivity with a ping. The returned *sql.DB must be closed by the
// caller.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("embedded store path is required")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}

	// sqlite3 serializes writers at the file level; a single connection
	// avoids "database is locked" errors under concurrent writers.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite3: %w", err)
	}
	return db, nil
}

// Job is a unit of work submitted to a Pool.
type Job func(ctx context.Context) error

// Pool is a fixed-size goroutine worker pool fronting the embedded store,
// giving callers an async façade over otherwise-synchronous *sql.DB calls
// (metric writes, aggregation passes) without spawning unbounded goroutines.
type Pool struct {
	jobs chan poolJob
	done chan struct{}
}

type poolJob struct {
	ctx    context.Context
	fn     Job
	result chan error
}

// NewPool starts a worker pool sized by runtime.GOMAXPROCS. size <= 0 selects
// the default.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		jobs: make(chan poolJob, size*4),
		done: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			job.result <- job.fn(job.ctx)
		case <-p.done:
			return
		}
	}
}

// Submit enqueues fn and blocks until it runs, returning its error. Submit is
// safe to call from multiple goroutines; the pool enforces the configured
// level of concurrent execution against the store.
func (p *Pool) Submit(ctx context.Context, fn Job) error {
	result := make(chan error, 1)
	select {
	case p.jobs <- poolJob{ctx: ctx, fn: fn, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new work and signals workers to exit. In-flight jobs
// are allowed to finish; callers should stop calling Submit before Close.
func (p *Pool) Close() {
	close(p.done)
}
