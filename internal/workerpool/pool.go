// Package workerpool runs a sweep's Combinations through a fixed pool of
// backtest workers: FIFO dispatch, throttled progress reporting, cooperative
// cancellation, and per-task failure isolation, following the batch-channel
// pattern used across the gather daemons.
package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"jupitor/internal/backtest"
	"jupitor/internal/evalctx"
	"jupitor/internal/pricedb"
	"jupitor/internal/sweep"
	"jupitor/internal/tree"
)

// Task is one unit of dispatch: a concrete tree evaluated under Options,
// tagged with the Branch ID and sweep metadata it was derived from.
type Task struct {
	BranchID string
	Tree     *tree.FlowNode
	Resolver evalctx.Resolver
	Options  backtest.Options
	Meta     sweep.Combination
}

// TaskResult pairs a Task's outcome back to its Branch ID. Err is set both
// for genuine run errors and for recovered worker panics; Result is nil
// whenever Err is set.
type TaskResult struct {
	BranchID string
	Meta     sweep.Combination
	Result   *backtest.Result
	Err      error
}

// Progress is the throttled snapshot delivered to the caller's callback.
type Progress struct {
	Completed int
	Total     int
	Passing   int
	Failed    int
	Elapsed   time.Duration
}

// Pool runs backtests for a fixed Price DB across a bounded number of
// goroutines.
type Pool struct {
	workers int
	db      *pricedb.DB
	log     *slog.Logger
}

// New creates a Pool with the given worker count (clamped to at least 1)
// bound to db, which is shared read-only by every worker.
func New(workers int, db *pricedb.DB, log *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{workers: workers, db: db, log: log}
}

// Run dispatches tasks FIFO across the pool and returns once every task has
// either completed or been skipped by cancellation. onProgress, if non-nil,
// is invoked at most once per progressInterval plus once more at the end, so
// a caller wiring this into a live display never falls behind a fast sweep.
// Cancelling ctx stops new tasks from being dequeued; tasks already in
// flight are allowed to finish so their partial results are not lost.
func (p *Pool) Run(ctx context.Context, tasks []Task, onProgress func(Progress)) []TaskResult {
	results := make([]TaskResult, len(tasks))

	taskCh := make(chan int, len(tasks))
	for i := range tasks {
		taskCh <- i
	}
	close(taskCh)

	var (
		mu           sync.Mutex
		completed    int
		passing      int
		failed       int
		lastReported time.Time
		wg           sync.WaitGroup
	)
	start := time.Now()

	const progressInterval = 200 * time.Millisecond
	report := func(force bool) {
		if onProgress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if !force && time.Since(lastReported) < progressInterval {
			return
		}
		lastReported = time.Now()
		onProgress(Progress{
			Completed: completed,
			Total:     len(tasks),
			Passing:   passing,
			Failed:    failed,
			Elapsed:   time.Since(start),
		})
	}

	workers := p.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	if workers < 1 {
		workers = 1
	}

	driver := backtest.NewDriver(p.db, p.log)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range taskCh {
				if ctx.Err() != nil {
					return
				}
				results[idx] = p.runOne(context.WithoutCancel(ctx), driver, tasks[idx])

				mu.Lock()
				completed++
				if results[idx].Err != nil {
					failed++
				} else {
					passing++
				}
				mu.Unlock()
				report(false)
			}
		}()
	}

	wg.Wait()
	report(true)

	if ctx.Err() != nil {
		p.log.Warn("sweep run cancelled", "completed", completed, "total", len(tasks))
	}

	return results
}

// runOne executes a single task, converting a recovered panic into an
// ordinary TaskResult error so one bad branch never brings down the pool.
func (p *Pool) runOne(ctx context.Context, driver *backtest.Driver, task Task) (result TaskResult) {
	result = TaskResult{BranchID: task.BranchID, Meta: task.Meta}
	defer func() {
		if r := recover(); r != nil {
			result.Result = nil
			result.Err = fmt.Errorf("branch %s: worker panic: %v", task.BranchID, r)
			p.log.Error("worker panic recovered", "branch", task.BranchID, "panic", r)
		}
	}()

	res, err := driver.Run(ctx, task.Tree, task.Resolver, task.Options)
	if err != nil {
		result.Err = fmt.Errorf("branch %s: %w", task.BranchID, err)
		return result
	}
	result.Result = res
	return result
}
