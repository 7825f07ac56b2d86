package temporal

import "github.com/arcbridge/agentcore/models"

// SubtaskInput is what SwarmWorkflow hands to the ExecuteSubtask activity
// for one subtask.
type SubtaskInput struct {
	ExecutionID string         `json:"execution_id"`
	Subtask     models.SubTask `json:"subtask"`
}

// SubtaskOutput is the activity's report back to the workflow. The subtask
// is returned in full (not just mutated) because activity results cross a
// serialization boundary; the workflow reconciles it onto its own copy of
// the running SwarmExecution.
type SubtaskOutput struct {
	Subtask models.SubTask `json:"subtask"`
}

// SwarmWorkflowInput starts a durable SwarmExecution over a fixed set of
// subtasks known up front.
type SwarmWorkflowInput struct {
	ExecutionID string           `json:"execution_id"`
	Goal        string           `json:"goal"`
	Subtasks    []models.SubTask `json:"subtasks"`
}

// SwarmWorkflowOutput is the completed execution, including every
// subtask's final status, result, and error.
type SwarmWorkflowOutput struct {
	Execution models.SwarmExecution `json:"execution"`
}
