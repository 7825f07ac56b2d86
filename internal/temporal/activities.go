package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/arcbridge/agentcore/internal/swarm"
	"github.com/arcbridge/agentcore/models"
)

// Activities holds the dependency SwarmWorkflow needs to actually run a
// subtask: the same Executor the in-process Coordinator uses, so a caller
// can swap between the two backends without writing two implementations
// of "what a subtask does".
type Activities struct {
	Executor swarm.Executor
}

// ExecuteSubtask runs one subtask to completion. Retry on failure is left
// to the workflow's ActivityOptions.RetryPolicy (driven by the subtask's
// MaxAttempts) rather than looped here, so Temporal's own attempt
// bookkeeping and backoff apply.
func (a *Activities) ExecuteSubtask(ctx context.Context, input SubtaskInput) (SubtaskOutput, error) {
	st := input.Subtask
	started := time.Now().UTC()
	st.StartedAt = &started
	st.Status = models.SubTaskRunning
	st.Attempts = int(activity.GetInfo(ctx).Attempt)

	activity.RecordHeartbeat(ctx, "executing")

	result, err := a.Executor.Execute(ctx, &st)
	completed := time.Now().UTC()
	st.CompletedAt = &completed

	if err != nil {
		st.Status = models.SubTaskFailed
		st.Error = err.Error()
		return SubtaskOutput{Subtask: st}, fmt.Errorf("execute subtask %s: %w", st.ID, err)
	}

	st.Status = models.SubTaskCompleted
	st.Result = result
	st.Error = ""
	return SubtaskOutput{Subtask: st}, nil
}
