// Package models holds the shared domain types passed between the
// orchestration core's components: model definitions, routing requests and
// decisions, performance and feedback records, and the swarm execution
// state. Nothing in this package performs I/O; it is the vocabulary the
// rest of the module is built from.
package models

import "time"

// TaskType classifies the kind of work a RoutingRequest represents. The
// Cost Predictor and Performance Tracker key their statistics by TaskType
// in addition to model id.
type TaskType string

const (
	TaskReasoning      TaskType = "reasoning"
	TaskCodeGeneration TaskType = "code_generation"
	TaskCodeReview     TaskType = "code_review"
	TaskPlanning       TaskType = "planning"
	TaskAnalysis       TaskType = "analysis"
	TaskDocumentation  TaskType = "documentation"
	TaskTesting        TaskType = "testing"
	TaskRefactoring    TaskType = "refactoring"
	TaskSecurityAudit  TaskType = "security_audit"
	TaskToolUse        TaskType = "tool_use"
	TaskMultimodal     TaskType = "multimodal"
	TaskLongContext    TaskType = "long_context"
)

// Capability is a discrete feature a model either has or does not have.
// Filtering on capability is a hard requirement, not a scoring factor.
type Capability string

const (
	CapabilityStreaming      Capability = "streaming"
	CapabilityFunctionCall   Capability = "function_calling"
	CapabilityVision         Capability = "vision"
	CapabilityJSONMode       Capability = "json_mode"
	CapabilityLongContext    Capability = "long_context"
)

// ModelDefinition is an immutable description of a routable model. Once
// published into a Model Registry snapshot, a ModelDefinition's fields
// never change; a new version replaces the whole entry.
type ModelDefinition struct {
	ID               string
	ProviderID       string
	DisplayName      string
	QualityScore     float64 // 0-1, static editorial/benchmark score
	CostPer1KInput   float64
	CostPer1KOutput  float64
	ContextWindow    int
	LatencyP50Ms     int
	LatencyP95Ms     int
	Capabilities     map[Capability]bool
	Tags             []string
	FallbackModels   []string
	Enabled          bool
}

// HasCapability reports whether the model declares the given capability.
func (m ModelDefinition) HasCapability(c Capability) bool {
	return m.Capabilities[c]
}

// TaskPreferences names, per task type, the models preferred for it and
// whether a vendor/provider is preferred for that task.
type TaskPreferences struct {
	Preferred        map[string]bool
	PreferredVendor  string
}

// RoutingRequest is the input to the Hybrid Router and MoE Router.
type RoutingRequest struct {
	RequestID            string
	TaskType              TaskType
	TaskDescription       string
	EstimatedInputTokens  int
	EstimatedOutputTokens int
	CostBudget            *float64 // nil = unconstrained
	QualityRequirement    float64  // minimum acceptable QualityScore
	ContextSize           int      // tokens the request needs available
	LatencyRequirementMs  int      // 0 = no ceiling
	RequiresStreaming     bool
	RequiresTools         bool
	RequiresVision        bool
	RequiresJSONMode      bool
	Mode                  string // "cheap", "normal", "high_confidence", "planning", "adversarial"
	EnableParallel        bool   // explicit caller request for multi-model fan-out
	VendorDiversity       bool   // gates the vendor-diversity scoring bonus
	VendorPreference      string // provider id the caller prefers, if any
	Metadata              map[string]any
}

// Evidence is one explainability entry attached to a RoutingDecision: a
// named factor, its weight in the final score, and a human-readable note.
type Evidence struct {
	Factor string
	Weight float64
	Note   string
}

// RoutingDecision is the output of model selection. SelectedModel and
// FallbackModels reference only model ids present in the registry snapshot
// that produced the decision.
type RoutingDecision struct {
	RequestID        string
	SelectedModel    string
	FallbackModels   []string
	RoutingStrategy  string // "standard", "parallel", "error"
	Confidence       float64
	EstimatedCostUSD float64
	Rationale        string
	Evidence         []Evidence
	ParallelModels   []string
	Metadata         map[string]any
	DecidedAt        time.Time
}

// CostPrediction is the Cost Predictor's output for one model/request pair.
type CostPrediction struct {
	ModelID              string
	EstimatedInputTokens  int
	EstimatedOutputTokens int
	MinCost               float64
	MaxCost               float64
	ExpectedCost          float64
	WithinBudget          bool
	CostEfficiencyScore   float64
}

// PerformanceMetrics is the running, EMA-smoothed performance record for
// one (model, task type) pair.
type PerformanceMetrics struct {
	ModelID           string
	TaskType          TaskType
	TotalRequests     int64
	SuccessfulRequests int64
	FailedRequests    int64
	AvgLatencyMs      *float64
	AvgCost           *float64
	AvgQuality        *float64
	LastUpdated       time.Time
}

// SuccessRate is SuccessfulRequests/TotalRequests, or 0 with no samples.
func (p PerformanceMetrics) SuccessRate() float64 {
	if p.TotalRequests == 0 {
		return 0
	}
	return float64(p.SuccessfulRequests) / float64(p.TotalRequests)
}

// CircuitState is the circuit breaker's state machine position.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreakerState is the persisted state for one breaker identifier
// (typically a provider id).
type CircuitBreakerState struct {
	Identifier          string
	State               CircuitState
	FailureCount        int
	FailureThreshold    int
	RetryTimeoutSeconds int
	LastFailure         *time.Time
	LastSuccess         *time.Time
	NextRetryAt         *time.Time
}

// QuotaScope names the dimension a QuotaConfig applies to.
type QuotaScope string

const (
	ScopeUser     QuotaScope = "user"
	ScopeTeam     QuotaScope = "team"
	ScopeProject  QuotaScope = "project"
	ScopeTool     QuotaScope = "tool"
	ScopeProvider QuotaScope = "provider"
)

// QuotaConfig bounds spend and request rate for one scoped identity.
type QuotaConfig struct {
	Scope              QuotaScope
	Identifier         string
	DailyCostLimitUSD   float64
	MonthlyCostLimitUSD float64
	PerRequestCapUSD    float64
	RateLimitPerMinute  int
	AdminOverride       bool
	Disabled            bool
}

// SubTaskStatus is the monotone lifecycle of a SubTask: pending can only
// move forward to running, then to completed or failed; no status is ever
// revisited.
type SubTaskStatus string

const (
	SubTaskPending   SubTaskStatus = "pending"
	SubTaskRunning   SubTaskStatus = "running"
	SubTaskCompleted SubTaskStatus = "completed"
	SubTaskFailed    SubTaskStatus = "failed"
)

// SubTask is one unit of work inside a SwarmExecution.
type SubTask struct {
	ID             string
	Description    string
	TaskType       TaskType
	Dependencies   []string
	Status         SubTaskStatus
	Attempts       int
	MaxAttempts    int
	AssignedAgent  string
	Result         map[string]any
	Error          string
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// SwarmStrategy is how a SwarmExecution's subtasks are scheduled.
type SwarmStrategy string

const (
	StrategyParallel   SwarmStrategy = "parallel"
	StrategySequential SwarmStrategy = "sequential"
	StrategyDAG        SwarmStrategy = "dag"
)

// SwarmExecution is the arena owning a set of SubTasks by id, plus
// aggregate bookkeeping filled in as subtasks complete.
type SwarmExecution struct {
	ID                string
	Goal              string
	Strategy          SwarmStrategy
	Subtasks          []*SubTask
	CompletedSubtasks int
	FailedSubtasks    int
	TotalCostUSD      float64
	StartedAt         time.Time
	CompletedAt       *time.Time
}

// SubtaskByID returns the subtask with the given id, or nil.
func (s *SwarmExecution) SubtaskByID(id string) *SubTask {
	for _, st := range s.Subtasks {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// FeedbackOutcome is the coarse result a FeedbackData record reports.
type FeedbackOutcome string

const (
	OutcomeSuccess FeedbackOutcome = "success"
	OutcomePartial FeedbackOutcome = "partial"
	OutcomeFailure FeedbackOutcome = "failure"
)

// FeedbackData is one piece of downstream signal fed back into the
// Learning Loop after a routing decision was acted on.
type FeedbackData struct {
	RequestID        string
	ModelID          string
	TaskType         TaskType
	Outcome          FeedbackOutcome
	QualityScore     *float64 // 0-1
	ActualLatencyMs  *int
	ActualCost       *float64
	UserRating       *float64 // 0-5
	PRMerged         bool
	PRReverted       bool
	RecordedAt       time.Time
}

// AuditMetadata carries the numeric and diagnostic context attached to an
// AuditRecord: cost/duration/provider when the audited event was a model
// invocation, and the redaction/suspicion annotations the Audit Logger
// attaches at write time.
type AuditMetadata struct {
	CostUSD            *float64
	DurationMs         *int64
	Provider           string
	PIIDetected        bool
	PIIRedacted        bool
	SuspiciousPatterns []string
}

// AuditRecord is one immutable entry in the audit log: a single tool or
// model-invocation event, with its inputs/outputs already PII-redacted by
// the time it is persisted.
type AuditRecord struct {
	LogID           string
	Timestamp       time.Time
	EventType       string
	EventAction     string
	ResourceType    string
	ResourceID      string
	ResourceName    string
	ActorID         string
	InputsRedacted  map[string]any
	OutputsRedacted any
	Status          string // "success" or "failure"
	ErrorMessage    string
	RequestID       string
	SessionID       string
	TraceID         string
	SpanID          string
	Metadata        AuditMetadata
}
