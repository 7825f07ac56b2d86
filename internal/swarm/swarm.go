// Package swarm implements the Swarm Coordinator (C11): execution of a
// goal's SubTasks under one of three strategies chosen from their
// dependency shape (parallel, sequential, or dag), with wave-by-wave
// concurrency bounded by a semaphore, per-subtask retry, and detection of
// cyclic dependencies that would otherwise stall execution forever.
package swarm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcbridge/agentcore/internal/telemetry"
	"github.com/arcbridge/agentcore/models"
)

// Executor runs a single SubTask and returns its result payload. Callers
// supply their own agent dispatch; this package only schedules.
type Executor interface {
	Execute(ctx context.Context, task *models.SubTask) (map[string]any, error)
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(ctx context.Context, task *models.SubTask) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, task *models.SubTask) (map[string]any, error) {
	return f(ctx, task)
}

// CyclicDependencyError is returned when a wave of execution has pending
// subtasks but none of them are ready to run, which only happens when the
// dependency graph has a cycle or references a missing subtask id.
type CyclicDependencyError struct {
	ExecutionID string
	Remaining   []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("swarm execution %s: %d subtasks never became ready (cyclic or missing dependency)", e.ExecutionID, len(e.Remaining))
}

const defaultMaxAttempts = 3

// Coordinator schedules SubTask execution for a goal.
type Coordinator struct {
	executor          Executor
	maxParallelAgents int
	nowFunc           func() time.Time
	telemetry         *telemetry.Bus
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTelemetry attaches the Telemetry Bus that Execute reports its span
// and active-execution gauge through.
func WithTelemetry(t *telemetry.Bus) Option {
	return func(c *Coordinator) { c.telemetry = t }
}

// WithMaxParallelAgents bounds how many subtasks may run concurrently
// within a single wave. The default is 4.
func WithMaxParallelAgents(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxParallelAgents = n
		}
	}
}

// WithNow overrides the clock; intended for tests.
func WithNow(fn func() time.Time) Option {
	return func(c *Coordinator) { c.nowFunc = fn }
}

// New creates a Coordinator dispatching subtask execution to executor.
func New(executor Executor, opts ...Option) *Coordinator {
	c := &Coordinator{
		executor:          executor,
		maxParallelAgents: 4,
		nowFunc:           time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// DetermineStrategy inspects each subtask's dependency count to pick a
// scheduling strategy: no dependencies anywhere means every subtask can
// run at once (parallel); a dependency chain of at most one predecessor
// each means a straight line (sequential); anything with branching or
// merging dependencies needs wave-by-wave DAG scheduling.
func DetermineStrategy(subtasks []*models.SubTask) models.SwarmStrategy {
	noneHaveDeps := true
	allAtMostOne := true
	for _, st := range subtasks {
		if len(st.Dependencies) > 0 {
			noneHaveDeps = false
		}
		if len(st.Dependencies) > 1 {
			allAtMostOne = false
		}
	}
	switch {
	case noneHaveDeps:
		return models.StrategyParallel
	case allAtMostOne:
		return models.StrategySequential
	default:
		return models.StrategyDAG
	}
}

// Execute runs every subtask to completion (or exhaustion of its retries)
// under the strategy DetermineStrategy selects, and returns the populated
// SwarmExecution. It returns an error only for a cyclic/unsatisfiable
// dependency graph; individual subtask failures are recorded on the
// execution, not returned as an error.
func (c *Coordinator) Execute(ctx context.Context, goal string, subtasks []*models.SubTask) (*models.SwarmExecution, error) {
	if c.telemetry == nil {
		return c.execute(ctx, goal, subtasks)
	}
	var op *telemetry.Operation
	ctx, op = c.telemetry.StartOperation(ctx, "swarm", "Execute")
	c.telemetry.RecordSwarmActive(1)
	exec, err := c.execute(ctx, goal, subtasks)
	c.telemetry.RecordSwarmActive(0)
	op.Finish(telemetry.Attrs{CostUSD: exec.TotalCostUSD}, err)
	return exec, err
}

func (c *Coordinator) execute(ctx context.Context, goal string, subtasks []*models.SubTask) (*models.SwarmExecution, error) {
	exec := &models.SwarmExecution{
		ID:        uuid.NewString(),
		Goal:      goal,
		Subtasks:  subtasks,
		StartedAt: c.nowFunc(),
	}
	exec.Strategy = DetermineStrategy(subtasks)

	concurrency := c.maxParallelAgents
	if exec.Strategy == models.StrategySequential {
		concurrency = 1
	}

	if err := c.runWaves(ctx, exec, concurrency); err != nil {
		completedAt := c.nowFunc()
		exec.CompletedAt = &completedAt
		return exec, err
	}

	completedAt := c.nowFunc()
	exec.CompletedAt = &completedAt
	return exec, nil
}

// runWaves repeatedly finds subtasks whose dependencies have all
// completed, runs that wave with up to concurrency workers, and repeats
// until nothing remains. A wave with pending subtasks but none ready is a
// cyclic dependency.
func (c *Coordinator) runWaves(ctx context.Context, exec *models.SwarmExecution, concurrency int) error {
	remaining := make(map[string]*models.SubTask, len(exec.Subtasks))
	for _, st := range exec.Subtasks {
		remaining[st.ID] = st
	}
	completed := make(map[string]bool, len(exec.Subtasks))

	for len(remaining) > 0 {
		ready := readySubtasks(remaining, completed)
		if len(ready) == 0 {
			ids := make([]string, 0, len(remaining))
			for id := range remaining {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			return &CyclicDependencyError{ExecutionID: exec.ID, Remaining: ids}
		}

		sem := make(chan struct{}, concurrency)
		var wg sync.WaitGroup
		var mu sync.Mutex

		for _, st := range ready {
			wg.Add(1)
			sem <- struct{}{}
			go func(st *models.SubTask) {
				defer wg.Done()
				defer func() { <-sem }()

				c.runSubtaskWithRetry(ctx, st)

				mu.Lock()
				defer mu.Unlock()
				delete(remaining, st.ID)
				if st.Status == models.SubTaskCompleted {
					completed[st.ID] = true
					exec.CompletedSubtasks++
				} else {
					exec.FailedSubtasks++
				}
				if cost, ok := st.Result["cost_usd"].(float64); ok {
					exec.TotalCostUSD += cost
				}
			}(st)
		}
		wg.Wait()
	}
	return nil
}

// readySubtasks returns, in id order for deterministic wave composition,
// every remaining subtask whose dependencies have all completed.
func readySubtasks(remaining map[string]*models.SubTask, completed map[string]bool) []*models.SubTask {
	ids := make([]string, 0, len(remaining))
	for id := range remaining {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var ready []*models.SubTask
	for _, id := range ids {
		st := remaining[id]
		satisfied := true
		for _, dep := range st.Dependencies {
			if !completed[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, st)
		}
	}
	return ready
}

// runSubtaskWithRetry executes st up to its MaxAttempts (default 3),
// leaving it Completed on the first success or Failed once attempts are
// exhausted.
func (c *Coordinator) runSubtaskWithRetry(ctx context.Context, st *models.SubTask) {
	maxAttempts := st.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	started := c.nowFunc()
	st.StartedAt = &started
	st.Status = models.SubTaskRunning

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		st.Attempts = attempt

		result, err := c.executor.Execute(ctx, st)
		if err == nil {
			st.Status = models.SubTaskCompleted
			st.Result = result
			st.Error = ""
			completed := c.nowFunc()
			st.CompletedAt = &completed
			return
		}

		st.Error = err.Error()
		if ctx.Err() != nil {
			break
		}
	}

	st.Status = models.SubTaskFailed
	completed := c.nowFunc()
	st.CompletedAt = &completed
}
