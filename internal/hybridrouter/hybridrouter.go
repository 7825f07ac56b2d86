// Package hybridrouter implements the Hybrid Router (C9): the decision
// of whether a request should fan out to multiple models in parallel,
// selection of the parallel candidate set and an independent judge
// model, and consensus aggregation across the results callers collect
// from those candidates. Actual provider calls are made by the caller;
// this package only decides routing and judges outcomes.
package hybridrouter

import (
	"context"
	"errors"
	"sort"

	"github.com/arcbridge/agentcore/internal/moerouter"
	"github.com/arcbridge/agentcore/internal/registry"
	"github.com/arcbridge/agentcore/internal/telemetry"
	"github.com/arcbridge/agentcore/models"
)

// parallelTaskTriggers are task types that always warrant a parallel
// multi-model fan-out, independent of quality requirement or cost budget.
var parallelTaskTriggers = map[models.TaskType]bool{
	models.TaskSecurityAudit: true,
	models.TaskCodeReview:    true,
	models.TaskPlanning:      true,
	models.TaskReasoning:     true,
}

// highConfidenceQualityThreshold is the QualityRequirement above which a
// single model is no longer considered sufficiently safe on its own, when
// paired with a cost budget that can actually afford a parallel fan-out.
const highConfidenceQualityThreshold = 0.9

// highConfidenceCostBudgetFloor is the minimum CostBudget that must
// accompany highConfidenceQualityThreshold for the quality trigger to fire.
const highConfidenceCostBudgetFloor = 0.05

// ConsensusStrategy names how Consensus picks a winner among multiple
// candidate results for the same request.
type ConsensusStrategy string

const (
	ConsensusJudge           ConsensusStrategy = "judge"
	ConsensusQualityWeighted ConsensusStrategy = "quality_weighted"
	ConsensusVoting          ConsensusStrategy = "voting"
	ConsensusFirstSuccess    ConsensusStrategy = "first_success"
)

// CandidateResult is one model's outcome for a parallel-routed request,
// collected by the caller after invoking its own provider adapters.
type CandidateResult struct {
	ModelID      string
	ProviderID   string
	Content      string
	Success      bool
	QualityScore *float64
	LatencyMs    int
	CostUSD      float64
}

// ConsensusResult is the outcome of reconciling multiple CandidateResults.
type ConsensusResult struct {
	WinnerModelID string
	Strategy      ConsensusStrategy
	Rationale     string
	TotalCostUSD  float64
}

// JudgeFunc scores a candidate's content for a request, standing in for
// an external judge-model call. Returns nil if the judge could not score it.
type JudgeFunc func(ctx context.Context, modelID, content string) *float64

// Router decides fan-out and reconciles parallel results.
type Router struct {
	moe       *moerouter.Router
	registry  *registry.Registry
	telemetry *telemetry.Bus
}

// New creates a Router delegating model scoring to moe.
func New(moe *moerouter.Router, reg *registry.Registry) *Router {
	return &Router{moe: moe, registry: reg}
}

// WithTelemetry attaches the Telemetry Bus that SelectParallelModels
// reports its span through; it may also be set directly on the struct
// by callers that construct Router with New then mutate.
func (r *Router) WithTelemetry(t *telemetry.Bus) *Router {
	r.telemetry = t
	return r
}

// ShouldUseParallel reports whether req warrants fanning out to multiple
// models rather than a single routed call: an explicit request
// (EnableParallel), a task type that always wants independent
// cross-checking, a high quality bar paired with a budget that can afford
// it, or a caller-flagged critical request.
func ShouldUseParallel(req models.RoutingRequest) bool {
	if req.EnableParallel {
		return true
	}
	if parallelTaskTriggers[req.TaskType] {
		return true
	}
	if req.QualityRequirement >= highConfidenceQualityThreshold &&
		req.CostBudget != nil && *req.CostBudget >= highConfidenceCostBudgetFloor {
		return true
	}
	if critical, ok := req.Metadata["critical"].(bool); ok && critical {
		return true
	}
	return false
}

// SelectParallelModels routes req, forcing parallel mode if ShouldUseParallel
// judges it warranted, and returns the resulting RoutingDecision.
func (r *Router) SelectParallelModels(ctx context.Context, req models.RoutingRequest, prefs *models.TaskPreferences) (models.RoutingDecision, error) {
	if r.telemetry == nil {
		return r.selectParallelModels(ctx, req, prefs)
	}
	var op *telemetry.Operation
	ctx, op = r.telemetry.StartOperation(ctx, "hybridrouter", "SelectParallelModels")
	decision, err := r.selectParallelModels(ctx, req, prefs)
	op.Finish(telemetry.Attrs{Model: decision.SelectedModel, TaskType: string(req.TaskType), CostUSD: decision.EstimatedCostUSD}, err)
	return decision, err
}

func (r *Router) selectParallelModels(ctx context.Context, req models.RoutingRequest, prefs *models.TaskPreferences) (models.RoutingDecision, error) {
	if ShouldUseParallel(req) {
		req.Mode = "parallel"
	}
	return r.moe.SelectModel(ctx, req, prefs)
}

// SelectJudgeModel picks the highest-quality enabled model not already
// present in excludeModelIDs, for use as an independent judge over a set
// of parallel candidate results. If every enabled model is excluded, it
// falls back to the highest-quality model overall.
func (r *Router) SelectJudgeModel(excludeModelIDs []string) (models.ModelDefinition, error) {
	return moerouter.SelectJudgeModel(r.registry, excludeModelIDs)
}

// Consensus reconciles results according to strategy. judge is only
// consulted for ConsensusJudge, and only for candidates judge can score;
// if judge is nil, ConsensusJudge falls back to ConsensusQualityWeighted.
func Consensus(ctx context.Context, results []CandidateResult, strategy ConsensusStrategy, judge JudgeFunc) (ConsensusResult, error) {
	successful := make([]CandidateResult, 0, len(results))
	var totalCost float64
	for _, r := range results {
		totalCost += r.CostUSD
		if r.Success {
			successful = append(successful, r)
		}
	}
	if len(successful) == 0 {
		return ConsensusResult{}, errors.New("no successful candidate results to reconcile")
	}

	switch strategy {
	case ConsensusFirstSuccess:
		return ConsensusResult{
			WinnerModelID: successful[0].ModelID,
			Strategy:      ConsensusFirstSuccess,
			Rationale:     "first candidate to succeed",
			TotalCostUSD:  totalCost,
		}, nil

	case ConsensusVoting:
		counts := make(map[string]int)
		order := make([]string, 0, len(successful))
		modelFor := make(map[string]string)
		for _, r := range successful {
			if counts[r.Content] == 0 {
				order = append(order, r.Content)
			}
			counts[r.Content]++
			if _, ok := modelFor[r.Content]; !ok {
				modelFor[r.Content] = r.ModelID
			}
		}
		bestContent := order[0]
		for _, c := range order {
			if counts[c] > counts[bestContent] {
				bestContent = c
			}
		}
		return ConsensusResult{
			WinnerModelID: modelFor[bestContent],
			Strategy:      ConsensusVoting,
			Rationale:     "most common response content among candidates",
			TotalCostUSD:  totalCost,
		}, nil

	case ConsensusJudge:
		if judge == nil {
			return Consensus(ctx, results, ConsensusQualityWeighted, nil)
		}
		type judged struct {
			modelID string
			score   float64
		}
		scored := make([]judged, 0, len(successful))
		for _, r := range successful {
			if s := judge(ctx, r.ModelID, r.Content); s != nil {
				scored = append(scored, judged{modelID: r.ModelID, score: *s})
			}
		}
		if len(scored) == 0 {
			return Consensus(ctx, results, ConsensusQualityWeighted, nil)
		}
		sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
		return ConsensusResult{
			WinnerModelID: scored[0].modelID,
			Strategy:      ConsensusJudge,
			Rationale:     "highest judge-assigned score",
			TotalCostUSD:  totalCost,
		}, nil

	case ConsensusQualityWeighted:
		fallthrough
	default:
		best := successful[0]
		bestQuality := qualityOf(best)
		for _, r := range successful[1:] {
			if q := qualityOf(r); q > bestQuality {
				best, bestQuality = r, q
			}
		}
		return ConsensusResult{
			WinnerModelID: best.ModelID,
			Strategy:      ConsensusQualityWeighted,
			Rationale:     "highest self-reported quality score among candidates",
			TotalCostUSD:  totalCost,
		}, nil
	}
}

func qualityOf(r CandidateResult) float64 {
	if r.QualityScore == nil {
		return 0
	}
	return *r.QualityScore
}
