package temporal

import (
	"fmt"
	"sort"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/arcbridge/agentcore/models"
)

const (
	defaultMaxAttempts = 3
	activityTimeout    = 60 * time.Second
)

// SwarmWorkflow durably executes a SwarmExecution: it runs the same
// wave-by-wave scheduling the in-process Coordinator does, but each
// subtask is an independently retried, independently recorded Temporal
// activity, so a worker crash mid-execution resumes from the last
// completed subtask instead of restarting the whole goal.
func SwarmWorkflow(ctx workflow.Context, input SwarmWorkflowInput) (SwarmWorkflowOutput, error) {
	subtasks := make(map[string]*models.SubTask, len(input.Subtasks))
	order := make([]string, 0, len(input.Subtasks))
	for i := range input.Subtasks {
		st := input.Subtasks[i]
		subtasks[st.ID] = &st
		order = append(order, st.ID)
	}
	sort.Strings(order)

	exec := models.SwarmExecution{
		ID:       input.ExecutionID,
		Goal:     input.Goal,
		Strategy: determineStrategy(input.Subtasks),
	}

	remaining := make(map[string]bool, len(order))
	for _, id := range order {
		remaining[id] = true
	}
	completed := make(map[string]bool, len(order))

	for len(remaining) > 0 {
		ready := readyIDs(order, remaining, completed, subtasks)
		if len(ready) == 0 {
			return SwarmWorkflowOutput{}, fmt.Errorf("swarm execution %s: %d subtasks never became ready (cyclic or missing dependency)", input.ExecutionID, len(remaining))
		}

		futures := make(map[string]workflow.Future, len(ready))
		for _, id := range ready {
			st := *subtasks[id]
			maxAttempts := st.MaxAttempts
			if maxAttempts <= 0 {
				maxAttempts = defaultMaxAttempts
			}
			ao := workflow.ActivityOptions{
				StartToCloseTimeout: activityTimeout,
				HeartbeatTimeout:    15 * time.Second,
				RetryPolicy: &temporal.RetryPolicy{
					MaximumAttempts: int32(maxAttempts),
				},
			}
			actCtx := workflow.WithActivityOptions(ctx, ao)
			futures[id] = workflow.ExecuteActivity(actCtx, (*Activities).ExecuteSubtask, SubtaskInput{
				ExecutionID: input.ExecutionID,
				Subtask:     st,
			})
		}

		for _, id := range ready {
			var out SubtaskOutput
			err := futures[id].Get(ctx, &out)
			st := subtasks[id]
			if err != nil {
				// An activity that returns an error has its SubtaskOutput
				// discarded, so the failure is recorded here from the error
				// Get returns once the activity's retries are exhausted.
				st.Status = models.SubTaskFailed
				if st.Error == "" {
					st.Error = err.Error()
				}
			} else {
				*st = out.Subtask
			}

			delete(remaining, id)
			if st.Status == models.SubTaskCompleted {
				completed[id] = true
				exec.CompletedSubtasks++
			} else {
				exec.FailedSubtasks++
			}
			if cost, ok := st.Result["cost_usd"].(float64); ok {
				exec.TotalCostUSD += cost
			}
		}
	}

	exec.Subtasks = make([]*models.SubTask, 0, len(order))
	for _, id := range order {
		exec.Subtasks = append(exec.Subtasks, subtasks[id])
	}
	now := workflow.Now(ctx)
	exec.StartedAt = now
	exec.CompletedAt = &now

	return SwarmWorkflowOutput{Execution: exec}, nil
}

// determineStrategy mirrors swarm.DetermineStrategy; duplicated here
// rather than imported because workflow code must stay deterministic and
// self-contained, but the rule is identical.
func determineStrategy(subtasks []models.SubTask) models.SwarmStrategy {
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

func readyIDs(order []string, remaining, completed map[string]bool, subtasks map[string]*models.SubTask) []string {
	var ready []string
	for _, id := range order {
		if !remaining[id] {
			continue
		}
		satisfied := true
		for _, dep := range subtasks[id].Dependencies {
			if !completed[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}
