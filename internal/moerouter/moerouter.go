// Package moerouter implements the MoE Router (C10): multi-factor model
// selection across a quality, cost-efficiency, recent-performance,
// learned-weight, task-preference, and vendor-diversity blend, producing
// an explainable RoutingDecision with fallback models and a confidence
// score.
package moerouter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arcbridge/agentcore/internal/circuitbreaker"
	"github.com/arcbridge/agentcore/internal/costpredictor"
	"github.com/arcbridge/agentcore/internal/health"
	"github.com/arcbridge/agentcore/internal/learningloop"
	"github.com/arcbridge/agentcore/internal/perftracker"
	"github.com/arcbridge/agentcore/internal/registry"
	"github.com/arcbridge/agentcore/internal/telemetry"
	"github.com/arcbridge/agentcore/models"
)

// Score weights. Sum of the base four is 0.95; the remaining 0.05+0.03+0.02
// are situational bonuses applied on top, per factor, not normalized away.
// Weights are scaled so the blended score lands in [0, ~1], which is what
// lets confidence derive directly from final_score.
const (
	qualityWeight         = 0.50
	costEfficiencyWeight  = 0.20
	perfWeight            = 0.15
	learnedWeight         = 0.10
	taskPreferenceBonus   = 0.05
	vendorDiversityBonus  = 0.03
	vendorPreferenceBonus = 0.02

	maxFallbacks = 3

	// parallelConfidence is the fixed confidence assigned to a parallel
	// routing decision, independent of the candidate score spread.
	parallelConfidence = 0.95

	// vendorHistorySize bounds the recent-selection ring the vendor
	// diversity bonus is computed against.
	vendorHistorySize = 5
)

// Router selects models for single-shot and parallel routing requests.
type Router struct {
	registry  *registry.Registry
	predictor *costpredictor.Predictor
	perf      *perftracker.Tracker
	learning  *learningloop.Loop
	breakers  *circuitbreaker.Manager
	health    *health.Tracker
	nowFunc   func() time.Time
	telemetry *telemetry.Bus

	historyMu sync.Mutex
	history   []string // provider ids of the last vendorHistorySize selections
}

// Option configures a Router.
type Option func(*Router)

// WithCircuitBreakers attaches provider-level circuit breakers; open
// breakers remove all of a provider's models from consideration.
func WithCircuitBreakers(m *circuitbreaker.Manager) Option {
	return func(r *Router) { r.breakers = m }
}

// WithHealthTracker attaches a health Tracker; a provider currently in its
// post-failure cooldown window is removed from consideration alongside any
// open circuit breaker.
func WithHealthTracker(t *health.Tracker) Option {
	return func(r *Router) { r.health = t }
}

// WithTelemetry attaches the Telemetry Bus that SelectModel reports its
// span and per-model cost/token metrics through.
func WithTelemetry(t *telemetry.Bus) Option {
	return func(r *Router) { r.telemetry = t }
}

// WithNow overrides the clock; intended for tests.
func WithNow(fn func() time.Time) Option {
	return func(r *Router) { r.nowFunc = fn }
}

// New creates a Router over reg, using predictor and perf for scoring and
// learning for the learned-weight factor.
func New(reg *registry.Registry, predictor *costpredictor.Predictor, perf *perftracker.Tracker, learning *learningloop.Loop, opts ...Option) *Router {
	r := &Router{
		registry:  reg,
		predictor: predictor,
		perf:      perf,
		learning:  learning,
		nowFunc:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type candidateScore struct {
	model      models.ModelDefinition
	prediction models.CostPrediction
	score      float64
	evidence   []models.Evidence
}

// SelectModel runs the filter -> parallel-check -> score -> select ->
// rationale -> confidence pipeline against req, optionally weighted by
// prefs (may be nil).
func (r *Router) SelectModel(ctx context.Context, req models.RoutingRequest, prefs *models.TaskPreferences) (models.RoutingDecision, error) {
	if r.telemetry == nil {
		return r.selectModel(ctx, req, prefs)
	}
	var op *telemetry.Operation
	ctx, op = r.telemetry.StartOperation(ctx, "moerouter", "SelectModel")
	decision, err := r.selectModel(ctx, req, prefs)
	op.Finish(telemetry.Attrs{Model: decision.SelectedModel, TaskType: string(req.TaskType), CostUSD: decision.EstimatedCostUSD}, err)
	return decision, err
}

func (r *Router) selectModel(ctx context.Context, req models.RoutingRequest, prefs *models.TaskPreferences) (models.RoutingDecision, error) {
	_ = ctx

	candidates, excluded := r.filter(req)
	if len(candidates) == 0 {
		reason := "no model satisfies capability, context, or availability constraints"
		if len(excluded) > 0 {
			last := excluded[len(excluded)-1]
			reason += "; last candidate removed by " + last.Factor + ": " + last.Note
		}
		return errorDecision(req, reason, excluded, r.nowFunc()), nil
	}

	useParallel := req.Mode == "parallel"

	scored := r.score(req, prefs, candidates)
	if len(scored) == 0 {
		return errorDecision(req, "no model's predicted cost is within budget", excluded, r.nowFunc()), nil
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	winner := scored[0]
	fallbackIDs := make([]string, 0, maxFallbacks)
	for i := 1; i < len(scored) && len(fallbackIDs) < maxFallbacks; i++ {
		fallbackIDs = append(fallbackIDs, scored[i].model.ID)
	}

	decision := models.RoutingDecision{
		RequestID:        req.RequestID,
		SelectedModel:    winner.model.ID,
		FallbackModels:   fallbackIDs,
		RoutingStrategy:  "standard",
		EstimatedCostUSD: winner.prediction.ExpectedCost,
		Evidence:         append(append([]models.Evidence{}, winner.evidence...), excluded...),
		DecidedAt:        r.nowFunc(),
	}

	if useParallel {
		n := maxFallbacks
		if n > len(scored) {
			n = len(scored)
		}
		parallelModels := make([]string, 0, n)
		for i := 0; i < n; i++ {
			parallelModels = append(parallelModels, scored[i].model.ID)
		}
		decision.RoutingStrategy = "parallel"
		decision.ParallelModels = parallelModels
		// Resolves an ambiguity in the source material: in parallel mode the
		// primary selected model is simply the first parallel candidate.
		decision.SelectedModel = parallelModels[0]
		decision.FallbackModels = parallelModels[1:]

		judge, err := SelectJudgeModel(r.registry, parallelModels)
		if err == nil {
			decision.Metadata = map[string]any{"judge_model": judge.ID}
		}
	}

	decision.Rationale = rationale(winner, decision.RoutingStrategy)
	if useParallel {
		decision.Confidence = parallelConfidence
	} else {
		decision.Confidence = confidence(winner.score)
	}

	r.recordSelection(winner.model.ProviderID)

	return decision, nil
}

// errorDecision builds the error-strategy RoutingDecision a caller gets back
// when no candidate survives filtering or budget scoring, naming the last
// filter that emptied the candidate set instead of returning a Go error.
func errorDecision(req models.RoutingRequest, reason string, excluded []models.Evidence, now time.Time) models.RoutingDecision {
	return models.RoutingDecision{
		RequestID:       req.RequestID,
		SelectedModel:   "none",
		RoutingStrategy: "error",
		Confidence:      0,
		Rationale:       reason,
		Evidence:        excluded,
		DecidedAt:       now,
	}
}

// recordSelection pushes providerID onto the bounded recent-selection ring
// the vendor-diversity bonus is scored against.
func (r *Router) recordSelection(providerID string) {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	r.history = append(r.history, providerID)
	if len(r.history) > vendorHistorySize {
		r.history = r.history[len(r.history)-vendorHistorySize:]
	}
}

func (r *Router) recentlySelectedVendors() map[string]bool {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	seen := make(map[string]bool, len(r.history))
	for _, p := range r.history {
		seen[p] = true
	}
	return seen
}

// filter returns the models satisfying req's capability, context, latency,
// and availability constraints, plus an Evidence entry for every model it
// excludes naming the reason, so a caller can see why a candidate was
// dropped even when a different model ultimately wins.
func (r *Router) filter(req models.RoutingRequest) ([]models.ModelDefinition, []models.Evidence) {
	var out []models.ModelDefinition
	var excluded []models.Evidence
	for _, m := range r.registry.List() {
		if !m.Enabled {
			excluded = append(excluded, models.Evidence{Factor: "availability_filter", Note: fmt.Sprintf("%s excluded: model disabled", m.ID)})
			continue
		}
		if req.RequiresStreaming && !m.HasCapability(models.CapabilityStreaming) {
			excluded = append(excluded, models.Evidence{Factor: "capability_filter", Note: fmt.Sprintf("%s excluded: missing streaming capability", m.ID)})
			continue
		}
		if req.RequiresTools && !m.HasCapability(models.CapabilityFunctionCall) {
			excluded = append(excluded, models.Evidence{Factor: "capability_filter", Note: fmt.Sprintf("%s excluded: missing tool-use capability", m.ID)})
			continue
		}
		if req.RequiresVision && !m.HasCapability(models.CapabilityVision) {
			excluded = append(excluded, models.Evidence{Factor: "capability_filter", Note: fmt.Sprintf("%s excluded: missing vision capability", m.ID)})
			continue
		}
		if req.RequiresJSONMode && !m.HasCapability(models.CapabilityJSONMode) {
			excluded = append(excluded, models.Evidence{Factor: "capability_filter", Note: fmt.Sprintf("%s excluded: missing json-mode capability", m.ID)})
			continue
		}
		if req.ContextSize > 0 && m.ContextWindow > 0 && req.ContextSize > m.ContextWindow {
			excluded = append(excluded, models.Evidence{Factor: "context_filter", Note: fmt.Sprintf("%s excluded: context_window=%d below required %d", m.ID, m.ContextWindow, req.ContextSize)})
			continue
		}
		if req.LatencyRequirementMs > 0 && m.LatencyP95Ms > 0 && m.LatencyP95Ms > req.LatencyRequirementMs {
			excluded = append(excluded, models.Evidence{Factor: "latency_filter", Note: fmt.Sprintf("%s excluded: latency_p95_ms=%d exceeds requirement %d", m.ID, m.LatencyP95Ms, req.LatencyRequirementMs)})
			continue
		}
		if req.QualityRequirement > 0 && m.QualityScore < req.QualityRequirement {
			excluded = append(excluded, models.Evidence{Factor: "quality_filter", Note: fmt.Sprintf("%s excluded: quality_score=%.3f below required %.3f", m.ID, m.QualityScore, req.QualityRequirement)})
			continue
		}
		if r.breakers != nil && r.breakers.IsOpen(m.ProviderID) {
			excluded = append(excluded, models.Evidence{Factor: "circuit_breaker", Note: fmt.Sprintf("%s excluded: circuit breaker open for provider %s", m.ID, m.ProviderID)})
			continue
		}
		if r.health != nil && !r.health.IsAvailable(m.ProviderID) {
			excluded = append(excluded, models.Evidence{Factor: "health", Note: fmt.Sprintf("%s excluded: provider %s unavailable", m.ID, m.ProviderID)})
			continue
		}
		out = append(out, m)
	}
	return out, excluded
}

func (r *Router) score(req models.RoutingRequest, prefs *models.TaskPreferences, candidates []models.ModelDefinition) []candidateScore {
	var recentVendors map[string]bool
	if req.VendorDiversity {
		recentVendors = r.recentlySelectedVendors()
	}
	out := make([]candidateScore, 0, len(candidates))

	for _, m := range candidates {
		prediction := r.predictor.PredictCost(m, req)
		if req.CostBudget != nil && !prediction.WithinBudget {
			continue
		}

		qualityComponent := m.QualityScore * qualityWeight
		costComponent := prediction.CostEfficiencyScore * costEfficiencyWeight
		perfComponent := r.perf.GetRecommendationWeight(m.ID, req.TaskType) * perfWeight
		learnedComponent := 0.5 * learnedWeight
		if r.learning != nil {
			learnedComponent = r.learning.GetWeight(m.ID, req.TaskType) * learnedWeight
		}

		score := qualityComponent + costComponent + perfComponent + learnedComponent
		evidence := []models.Evidence{
			{Factor: "quality", Weight: qualityWeight, Note: fmt.Sprintf("quality_score=%.3f", m.QualityScore)},
			{Factor: "cost_efficiency", Weight: costEfficiencyWeight, Note: fmt.Sprintf("cost_efficiency=%.3f expected_cost=$%.6f", prediction.CostEfficiencyScore, prediction.ExpectedCost)},
			{Factor: "recent_performance", Weight: perfWeight, Note: fmt.Sprintf("recommendation_weight=%.3f", r.perf.GetRecommendationWeight(m.ID, req.TaskType))},
			{Factor: "learned_weight", Weight: learnedWeight, Note: "learning loop feedback weight"},
		}

		if prefs != nil && prefs.Preferred[m.ID] {
			score += taskPreferenceBonus
			evidence = append(evidence, models.Evidence{Factor: "task_preference", Weight: taskPreferenceBonus, Note: "model is preferred for this task type"})
		}

		if req.VendorPreference != "" && req.VendorPreference == m.ProviderID {
			score += vendorPreferenceBonus
			evidence = append(evidence, models.Evidence{Factor: "vendor_preference", Weight: vendorPreferenceBonus, Note: fmt.Sprintf("provider %s is preferred", m.ProviderID)})
		}

		if req.VendorDiversity && !recentVendors[m.ProviderID] {
			score += vendorDiversityBonus
			evidence = append(evidence, models.Evidence{Factor: "vendor_diversity", Weight: vendorDiversityBonus, Note: fmt.Sprintf("provider %s not among the last %d selections", m.ProviderID, vendorHistorySize)})
		}

		out = append(out, candidateScore{model: m, prediction: prediction, score: score, evidence: evidence})
	}
	return out
}

func rationale(winner candidateScore, strategy string) string {
	return fmt.Sprintf("selected %s (score=%.4f, strategy=%s) on quality/cost/performance/learned-weight blend", winner.model.ID, winner.score, strategy)
}

// confidence derives a 0-1 confidence directly from the winning candidate's
// blended score: the weights already sum to roughly [0, 1], so the score
// itself is the confidence signal (min(1, final_score)).
func confidence(finalScore float64) float64 {
	if finalScore > 1 {
		return 1
	}
	if finalScore < 0 {
		return 0
	}
	return finalScore
}

// SelectJudgeModel returns the highest-quality enabled model not present in
// excludeIDs, for use as an independent judge over a set of parallel
// candidates. If every enabled model is excluded, it falls back to the
// single highest-quality model overall rather than failing the decision.
func SelectJudgeModel(reg *registry.Registry, excludeIDs []string) (models.ModelDefinition, error) {
	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	var bestOverall, bestEligible *models.ModelDefinition
	for _, m := range reg.List() {
		if !m.Enabled {
			continue
		}
		mCopy := m
		if bestOverall == nil || mCopy.QualityScore > bestOverall.QualityScore {
			bestOverall = &mCopy
		}
		if !excluded[m.ID] {
			if bestEligible == nil || mCopy.QualityScore > bestEligible.QualityScore {
				bestEligible = &mCopy
			}
		}
	}
	if bestEligible != nil {
		return *bestEligible, nil
	}
	if bestOverall != nil {
		return *bestOverall, nil
	}
	return models.ModelDefinition{}, fmt.Errorf("no enabled models in registry")
}

// RecordOutcome updates both the circuit breaker (keyed by providerID) and
// the performance tracker (keyed by modelID+taskType) for a completed
// request. Earlier designs updated only the breaker, silently starving
// the performance tracker of task-scoped data; this keeps both in sync.
func (r *Router) RecordOutcome(providerID, modelID string, taskType models.TaskType, success bool, latencyMs *int, cost *float64, quality *float64) {
	if r.breakers != nil {
		b := r.breakers.Get(providerID)
		if success {
			b.RecordSuccess()
		} else {
			b.RecordFailure()
		}
		if r.telemetry != nil {
			r.telemetry.RecordCircuitState(providerID, string(b.Snapshot().State))
		}
	}
	if r.health != nil {
		if success {
			lat := 0.0
			if latencyMs != nil {
				lat = float64(*latencyMs)
			}
			r.health.RecordSuccess(providerID, lat)
		} else {
			r.health.RecordError(providerID, "routing outcome reported failure")
		}
	}
	r.perf.RecordRequest(modelID, taskType, success, latencyMs, cost, quality)
}
