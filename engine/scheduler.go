package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tanjeetsarkar/workflowengine/engine/analysis"
	core "github.com/tanjeetsarkar/workflowengine/engine/core"
	"github.com/tanjeetsarkar/workflowengine/engine/metrics"
)

// SchedulerConfig carries the per-execution tunables §6 assigns to the
// scheduler: worker pool size, default node timeout, and the transient
// runner-call retry policy of §4.5a.
type SchedulerConfig struct {
	PerExecutionWorkers    int
	DefaultNodeTimeout     time.Duration
	MaxRunnerRetries       int
	RunnerRetryBackoff     time.Duration
	CancellationCheckTicks int // reserved for sub-level cancellation granularity; currently checked once per level and once per dispatch
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PerExecutionWorkers:    16,
		DefaultNodeTimeout:     300 * time.Second,
		MaxRunnerRetries:       2,
		RunnerRetryBackoff:     200 * time.Millisecond,
		CancellationCheckTicks: 1,
	}
}

// nodeResult is a single node's terminal outcome, accumulated across
// levels so later levels' gates and input bundles can be resolved
// without re-reading the repository.
type nodeResult struct {
	status core.Status
	output core.Value
}

// Scheduler owns a single execution from RUNNING to terminal — the
// level-barrier fan-out/fan-in controller described in spec §4.5.
// Grounded in ai/agents/orchestrator/dag_scheduler.go's DAGScheduler
// (in-degree graph + bounded worker dispatch + fan-in) and executor.go
// (transient-retry, panic recovery), upgraded from the donor's raw
// channel semaphore and manual WaitGroup to golang.org/x/sync's
// semaphore.Weighted and errgroup.Group.
type Scheduler struct {
	repo    core.Repository
	state   core.StateStore
	runner  core.NodeRunner
	cfg     SchedulerConfig
	metrics *metrics.Exporter
	tracer  trace.Tracer
}

func NewScheduler(repo core.Repository, state core.StateStore, runner core.NodeRunner, cfg SchedulerConfig, exporter *metrics.Exporter) *Scheduler {
	return &Scheduler{
		repo:    repo,
		state:   state,
		runner:  runner,
		cfg:     cfg,
		metrics: exporter,
		tracer:  otel.Tracer("workflowengine/engine"),
	}
}

// Run drives executionID from PENDING through to a terminal status.
// It is the entirety of the spec §4.5 algorithm.
func (s *Scheduler) Run(ctx context.Context, executionID core.ExecutionID) error {
	start := time.Now()
	ctx, rootSpan := s.tracer.Start(ctx, "execution.run", trace.WithAttributes(
		attribute.String("execution_id", string(executionID)),
	))
	defer rootSpan.End()

	execution, graph, err := s.repo.LoadExecutionForRun(ctx, executionID)
	if err != nil {
		rootSpan.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: load execution: %v", core.ErrRepository, err)
	}
	execContext := execution.Context

	ok, reason := analysis.Validate(graph.Nodes, graph.Edges)
	if !ok {
		s.finish(ctx, executionID, core.StatusFailed, reason, start)
		return fmt.Errorf("%w: %s", core.ErrGraphMalformed, reason)
	}

	az := analysis.New(graph.Nodes, graph.Edges)
	levels, err := az.Levels()
	if err != nil {
		s.finish(ctx, executionID, core.StatusFailed, err.Error(), start)
		return fmt.Errorf("%w: %v", core.ErrGraphMalformed, err)
	}

	nodeByKey := make(map[string]core.Node, len(graph.Nodes))
	nodeOrder := make(map[string]int, len(graph.Nodes))
	nodeIDs := make([]core.NodeID, len(graph.Nodes))
	for i, n := range graph.Nodes {
		nodeByKey[n.NodeKey] = n
		nodeOrder[n.NodeKey] = i
		nodeIDs[i] = n.ID
	}

	nodeExecIDs, err := s.repo.CreateNodeExecutions(ctx, executionID, nodeIDs)
	if err != nil {
		s.finish(ctx, executionID, core.StatusFailed, "repository unavailable", start)
		return fmt.Errorf("%w: create node executions: %v", core.ErrRepository, err)
	}

	if err := s.state.Init(ctx, executionID, 24*time.Hour); err != nil {
		s.finish(ctx, executionID, core.StatusFailed, "state store unavailable", start)
		return fmt.Errorf("%w: init state store: %v", core.ErrRepository, err)
	}

	now := time.Now()
	if err := s.repo.SetExecutionStatus(ctx, executionID, core.StatusRunning, &now, nil, ""); err != nil {
		return fmt.Errorf("%w: set running: %v", core.ErrRepository, err)
	}

	results := make(map[string]nodeResult, len(graph.Nodes))
	var failedNodeKeys []string
	cancelled := false

	for i, level := range levels {
		if flag, err := s.state.GetStatusFlag(ctx, executionID); err == nil && flag == core.StatusCancelled {
			s.cancelRemaining(ctx, levels[i:], nodeExecIDs, results)
			cancelled = true
			break
		}

		runnable, gated := s.evaluateGates(level, az, results)
		for _, k := range gated {
			s.markCancelled(ctx, nodeExecIDs[k], results, k)
		}

		if len(runnable) == 0 {
			continue
		}

		// Checkpoint (ii): re-check cancellation immediately before dispatch.
		if flag, err := s.state.GetStatusFlag(ctx, executionID); err == nil && flag == core.StatusCancelled {
			for _, k := range runnable {
				s.markCancelled(ctx, nodeExecIDs[k], results, k)
			}
			s.cancelRemaining(ctx, levels[i+1:], nodeExecIDs, results)
			cancelled = true
			break
		}

		if err := s.dispatchLevel(ctx, executionID, runnable, nodeByKey, nodeExecIDs, az, results, execContext); err != nil {
			return err
		}
		for _, k := range runnable {
			if st := results[k].status; st == core.StatusFailed || st == core.StatusTimeout {
				failedNodeKeys = append(failedNodeKeys, k)
			}
		}
	}

	finalStatus, message := s.aggregate(cancelled, failedNodeKeys, nodeOrder)
	s.finish(ctx, executionID, finalStatus, message, start)
	return nil
}

// evaluateGates splits a level into nodes admitted to run and nodes
// gated CANCELLED, per spec §4.5 step 3b.
func (s *Scheduler) evaluateGates(level []string, az *analysis.Analyzer, results map[string]nodeResult) (runnable, gated []string) {
	for _, k := range level {
		admitted := true
		for _, p := range az.Predecessors(k) {
			cond, ok := az.EdgeCondition(p, k)
			if !ok {
				continue
			}
			pResult, known := results[p]
			if !known || !cond.Satisfies(pResult.status) {
				admitted = false
				break
			}
		}
		if admitted {
			runnable = append(runnable, k)
		} else {
			gated = append(gated, k)
		}
	}
	return runnable, gated
}

func (s *Scheduler) markCancelled(ctx context.Context, nodeExecID core.NodeExecID, results map[string]nodeResult, nodeKey string) {
	now := time.Now()
	_ = s.repo.CompleteNodeExecution(ctx, nodeExecID, core.StatusCancelled, core.NullValue(), "", now)
	results[nodeKey] = nodeResult{status: core.StatusCancelled, output: core.NullValue()}
	if s.metrics != nil {
		s.metrics.RecordNodeDispatch(string(core.StatusCancelled), 0)
	}
}

func (s *Scheduler) cancelRemaining(ctx context.Context, remainingLevels [][]string, nodeExecIDs map[string]core.NodeExecID, results map[string]nodeResult) {
	for _, level := range remainingLevels {
		for _, k := range level {
			if _, done := results[k]; done {
				continue
			}
			s.markCancelled(ctx, nodeExecIDs[k], results, k)
		}
	}
}

// dispatchLevel fans a runnable batch out to the NodeRunner under a
// bounded worker pool and waits for every worker to reach a terminal
// NodeExecution status (the fan-in barrier).
func (s *Scheduler) dispatchLevel(ctx context.Context, executionID core.ExecutionID, runnable []string, nodeByKey map[string]core.Node, nodeExecIDs map[string]core.NodeExecID, az *analysis.Analyzer, results map[string]nodeResult, execContext core.Value) error {
	workers := s.cfg.PerExecutionWorkers
	if workers <= 0 {
		workers = DefaultSchedulerConfig().PerExecutionWorkers
	}
	sem := semaphore.NewWeighted(int64(workers))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, nodeKey := range runnable {
		nodeKey := nodeKey
		node := nodeByKey[nodeKey]
		nodeExecID := nodeExecIDs[nodeKey]

		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			status, output := s.runNode(gctx, executionID, node, nodeExecID, az, s.snapshotResults(&mu, results), execContext)

			mu.Lock()
			results[nodeKey] = nodeResult{status: status, output: output}
			mu.Unlock()

			if status == core.StatusFailed || status == core.StatusTimeout {
				_ = s.state.AddFailed(ctx, executionID, nodeKey)
			} else {
				_ = s.state.AddCompleted(ctx, executionID, nodeKey)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: level dispatch: %v", core.ErrRepository, err)
	}
	return nil
}

// snapshotResults copies the results accumulated by prior levels under
// lock, so concurrent workers of the current level never race on the
// shared map while building their own input bundles.
func (s *Scheduler) snapshotResults(mu *sync.Mutex, results map[string]nodeResult) map[string]nodeResult {
	mu.Lock()
	defer mu.Unlock()
	snap := make(map[string]nodeResult, len(results))
	for k, v := range results {
		snap[k] = v
	}
	return snap
}

// runNode executes the runner-call retry loop of §4.5a, then writes
// Start/Complete through the repository and returns the node's
// terminal status and output.
func (s *Scheduler) runNode(ctx context.Context, executionID core.ExecutionID, node core.Node, nodeExecID core.NodeExecID, az *analysis.Analyzer, priorResults map[string]nodeResult, execContext core.Value) (core.Status, core.Value) {
	nodeStart := time.Now()
	nodeCtx, span := s.tracer.Start(ctx, node.NodeKey, trace.WithAttributes(
		attribute.String("execution_id", string(executionID)),
		attribute.String("node_key", node.NodeKey),
	))
	defer span.End()

	taskID := node.NodeKey + ":" + string(core.NewNodeExecID())
	span.SetAttributes(attribute.String("runner_task_id", taskID))
	inputBundle := buildInputBundle(node.NodeKey, az, priorResults)

	if err := s.repo.StartNodeExecution(nodeCtx, nodeExecID, taskID, inputBundle, nodeStart); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return s.completeNode(nodeCtx, nodeExecID, core.StatusFailed, core.NullValue(), "repository unavailable: "+err.Error(), nodeStart, span)
	}

	timeout := s.cfg.DefaultNodeTimeout
	if node.TimeoutSeconds > 0 {
		timeout = time.Duration(node.TimeoutSeconds) * time.Second
	}
	deadline := nodeStart.Add(timeout)

	ok, output, errMessage := s.callRunnerWithRetry(nodeCtx, node, inputBundle, execContext, deadline)

	status := core.StatusSuccess
	if !ok {
		status = core.StatusFailed
		lower := strings.ToLower(errMessage)
		if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline") {
			status = core.StatusTimeout
		}
	}
	return s.completeNode(nodeCtx, nodeExecID, status, output, errMessage, nodeStart, span)
}

// callRunnerWithRetry retries a transient-shaped runner failure up to
// MaxRunnerRetries times before the node's terminal status is recorded
// (SPEC_FULL.md §4.5a). It recovers a runner panic as ErrRunnerPanic,
// matching the donor's panic-recovery wrapper in dag_scheduler.go.
func (s *Scheduler) callRunnerWithRetry(ctx context.Context, node core.Node, inputBundle core.Value, execContext core.Value, deadline time.Time) (ok bool, output core.Value, errMessage string) {
	backoff := s.cfg.RunnerRetryBackoff
	maxRetries := s.cfg.MaxRunnerRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ok, output, errMessage = s.invokeRunnerSafely(ctx, node, inputBundle, execContext, deadline)
		if ok {
			return ok, output, ""
		}
		if isContextTerminal(ctx) || !isTransientRunnerError(errMessage, deadline) {
			return ok, output, errMessage
		}
		if attempt < maxRetries {
			if s.metrics != nil {
				s.metrics.RecordRunnerRetry(node.NodeKey)
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return false, core.NullValue(), ctx.Err().Error()
			}
			backoff *= 2
		}
	}
	return ok, output, errMessage
}

// invokeRunnerSafely calls the NodeRunner, recovering a panic into an
// ErrRunnerPanic-shaped failure so a misbehaving runner never takes
// down the scheduler's goroutine.
func (s *Scheduler) invokeRunnerSafely(ctx context.Context, node core.Node, inputBundle core.Value, execContext core.Value, deadline time.Time) (ok bool, output core.Value, errMessage string) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			output = core.NullValue()
			errMessage = fmt.Sprintf("%v: %v", core.ErrRunnerPanic, r)
		}
	}()
	return s.runner.Run(ctx, node.Payload, node.Payload, inputBundle, execContext, deadline)
}

func (s *Scheduler) completeNode(ctx context.Context, nodeExecID core.NodeExecID, status core.Status, output core.Value, errMessage string, startedAt time.Time, span trace.Span) (core.Status, core.Value) {
	now := time.Now()
	if err := s.repo.CompleteNodeExecution(ctx, nodeExecID, status, output, errMessage, now); err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	if errMessage != "" {
		span.SetStatus(codes.Error, errMessage)
	}
	span.SetAttributes(attribute.String("status", string(status)))
	if s.metrics != nil {
		s.metrics.RecordNodeDispatch(string(status), now.Sub(startedAt))
	}
	return status, output
}

// buildInputBundle constructs the mapping predecessor_node_key ->
// predecessor.output_data restricted to predecessors whose
// NodeExecution ended SUCCESS (spec §4.5 "Input bundle construction").
// A predecessor that ended FAILED/TIMEOUT/CANCELLED contributes no
// entry; its absence is the only signal downstream code gets.
func buildInputBundle(nodeKey string, az *analysis.Analyzer, priorResults map[string]nodeResult) core.Value {
	preds := az.Predecessors(nodeKey)
	sort.Strings(preds)
	mapping := make(map[string]core.Value, len(preds))
	for _, p := range preds {
		if r, ok := priorResults[p]; ok && r.status == core.StatusSuccess {
			mapping[p] = r.output
		}
	}
	return core.MappingValue(mapping)
}

// aggregate computes the Execution's terminal status per spec §4.5
// step 4 / I4: SUCCESS iff zero FAILED/TIMEOUT (CANCELLED-by-gate nodes
// do not themselves block SUCCESS); FAILED iff >=1 FAILED/TIMEOUT;
// CANCELLED iff a cancel was observed before the last level's fan-in.
// Tie-break (§4.5 "Tie-breaks"): failing node names are concatenated in
// the nodes' declared order, stable across reruns.
func (s *Scheduler) aggregate(cancelled bool, failedNodeKeys []string, nodeOrder map[string]int) (core.Status, string) {
	if cancelled {
		return core.StatusCancelled, ""
	}
	if len(failedNodeKeys) > 0 {
		sort.Slice(failedNodeKeys, func(i, j int) bool {
			return nodeOrder[failedNodeKeys[i]] < nodeOrder[failedNodeKeys[j]]
		})
		return core.StatusFailed, fmt.Sprintf("node(s) failed: %s", strings.Join(failedNodeKeys, ", "))
	}
	return core.StatusSuccess, ""
}

func (s *Scheduler) finish(ctx context.Context, executionID core.ExecutionID, status core.Status, errorMessage string, start time.Time) {
	now := time.Now()
	_ = s.repo.SetExecutionStatus(ctx, executionID, status, nil, &now, errorMessage)
	_ = s.state.Delete(ctx, executionID)
	if s.metrics != nil {
		s.metrics.RecordExecutionTerminal(string(status), now.Sub(start))
	}
}
