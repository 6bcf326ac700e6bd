package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	core "github.com/tanjeetsarkar/workflowengine/engine/core"
	"github.com/tanjeetsarkar/workflowengine/engine/metrics"
	"github.com/tanjeetsarkar/workflowengine/engine/statestore"
)

// Config carries the engine-wide knobs of spec §6.
type Config struct {
	MaxConcurrentExecutions int
	PerExecutionWorkers     int
	DefaultNodeTimeoutSeconds int
	StateStoreTTLSeconds      int
	CancellationCheckIntervalTicks int
	MaxRunnerRetries          int
	RunnerRetryBackoff        time.Duration
	SubmissionBurst           int // golang.org/x/time/rate burst size for SubmitExecution
	SubmissionRatePerSecond   float64
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentExecutions:        64,
		PerExecutionWorkers:            16,
		DefaultNodeTimeoutSeconds:      300,
		StateStoreTTLSeconds:           86400,
		CancellationCheckIntervalTicks: 1,
		MaxRunnerRetries:               2,
		RunnerRetryBackoff:             200 * time.Millisecond,
		SubmissionBurst:                32,
		SubmissionRatePerSecond:        50,
	}
}

// Engine is the C6 front-door: SubmitExecution/CancelExecution are the
// only entry points external callers use. It bounds total concurrency
// with a semaphore.Weighted (grounded in
// server/router/api/v1/v1.go's thumbnailSemaphore) and absorbs
// submission bursts with a golang.org/x/time/rate.Limiter, rejecting
// overflow of either as ErrBusy per spec §5 "Back-pressure".
type Engine struct {
	repo    core.Repository
	state   *statestore.Store
	runner  core.NodeRunner
	cfg     Config
	metrics *metrics.Exporter

	execSem  *semaphore.Weighted
	limiter  *rate.Limiter
	active   int64
	sweepCtx context.Context
	sweepCancel context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs an Engine. The returned Engine owns a background
// sweeper goroutine for its state store; call Close to stop it.
func New(repo core.Repository, runner core.NodeRunner, cfg Config, exporter *metrics.Exporter) *Engine {
	if cfg.MaxConcurrentExecutions <= 0 {
		cfg = DefaultConfig()
	}
	sweepCtx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		repo:        repo,
		state:       statestore.New(),
		runner:      runner,
		cfg:         cfg,
		metrics:     exporter,
		execSem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentExecutions)),
		limiter:     rate.NewLimiter(rate.Limit(cfg.SubmissionRatePerSecond), cfg.SubmissionBurst),
		sweepCtx:    sweepCtx,
		sweepCancel: cancel,
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.state.RunSweeper(sweepCtx, time.Duration(cfg.StateStoreTTLSeconds)*time.Second/24)
	}()

	return e
}

// SubmitExecution enqueues executionID onto the engine's worker pool
// and returns immediately. It is idempotent: a second call against an
// execution that already left PENDING is a no-op (spec §8 round-trip
// property).
func (e *Engine) SubmitExecution(ctx context.Context, executionID core.ExecutionID) error {
	execution, graph, err := e.repo.LoadExecutionForRun(ctx, executionID)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrNotFound, err)
	}
	if execution.Status != core.StatusPending {
		return nil // idempotent no-op: already dispatched or terminal
	}
	if !graph.IsActive {
		return core.ErrGraphInactive
	}

	if !e.limiter.Allow() {
		if e.metrics != nil {
			e.metrics.RecordSubmitRejection("rate_limited")
		}
		return core.ErrBusy
	}
	if !e.execSem.TryAcquire(1) {
		if e.metrics != nil {
			e.metrics.RecordSubmitRejection("at_capacity")
		}
		return core.ErrBusy
	}

	atomic.AddInt64(&e.active, 1)
	if e.metrics != nil {
		e.metrics.SetActiveExecutions(int(atomic.LoadInt64(&e.active)))
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.execSem.Release(1)
		defer func() {
			atomic.AddInt64(&e.active, -1)
			if e.metrics != nil {
				e.metrics.SetActiveExecutions(int(atomic.LoadInt64(&e.active)))
			}
		}()

		schedulerCfg := SchedulerConfig{
			PerExecutionWorkers:    e.cfg.PerExecutionWorkers,
			DefaultNodeTimeout:     time.Duration(e.cfg.DefaultNodeTimeoutSeconds) * time.Second,
			MaxRunnerRetries:       e.cfg.MaxRunnerRetries,
			RunnerRetryBackoff:     e.cfg.RunnerRetryBackoff,
			CancellationCheckTicks: e.cfg.CancellationCheckIntervalTicks,
		}
		scheduler := NewScheduler(e.repo, e.state, e.runner, schedulerCfg, e.metrics)
		_ = scheduler.Run(context.Background(), executionID)
	}()

	return nil
}

// CancelExecution flips the execution's cancellation flag and returns
// immediately; the running scheduler observes it cooperatively at the
// next checkpoint (spec §4.6).
func (e *Engine) CancelExecution(ctx context.Context, executionID core.ExecutionID) error {
	execution, _, err := e.repo.LoadExecutionForRun(ctx, executionID)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrNotFound, err)
	}
	if execution.Status.IsTerminal() {
		return core.ErrAlreadyTerminal
	}

	if err := e.state.SetStatusFlag(ctx, executionID, core.StatusCancelled); err != nil {
		// State already gone (e.g. scheduler already finished and cleared
		// it) — treat as the idempotent case rather than an error per I6.
		return nil
	}
	return nil
}

// Snapshot reads the current persisted view of an execution for
// observer-facing reporting. It never reads the state store directly
// (see DESIGN.md Open Question #2): C3 is an internal scheduling
// optimization, not a public read surface.
func (e *Engine) Snapshot(ctx context.Context, executionID core.ExecutionID) (*core.Execution, []core.NodeExecution, error) {
	execution, _, err := e.repo.LoadExecutionForRun(ctx, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", core.ErrNotFound, err)
	}
	nodeExecs, err := e.repo.ListTerminalNodeExecutions(ctx, executionID)
	if err != nil {
		return execution, nil, fmt.Errorf("%w: %v", core.ErrRepository, err)
	}
	return execution, nodeExecs, nil
}

// Close stops the engine's background sweeper and blocks until every
// in-flight scheduler has reached a terminal execution status.
func (e *Engine) Close() error {
	e.sweepCancel()
	e.wg.Wait()
	return nil
}
