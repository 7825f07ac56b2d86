// Package costpredictor implements the Cost Predictor (C2): token
// estimation from a task description, and min/max/expected cost
// prediction with a ±30% variance band against a model's per-1K pricing.
package costpredictor

import (
	"sort"
	"strings"

	"github.com/arcbridge/agentcore/models"
)

// tokenMultiplier scales the base token estimate by task type.
type tokenMultiplier struct {
	Input  float64
	Output float64
}

// taskTokenMultipliers is the complete per-task-type scaling table.
var taskTokenMultipliers = map[models.TaskType]tokenMultiplier{
	models.TaskReasoning:      {Input: 1.2, Output: 2.5},
	models.TaskCodeGeneration: {Input: 1.0, Output: 3.0},
	models.TaskCodeReview:     {Input: 2.0, Output: 1.5},
	models.TaskPlanning:       {Input: 1.0, Output: 2.0},
	models.TaskAnalysis:       {Input: 1.5, Output: 1.8},
	models.TaskDocumentation:  {Input: 0.8, Output: 2.5},
	models.TaskTesting:        {Input: 1.0, Output: 2.0},
	models.TaskRefactoring:    {Input: 1.5, Output: 2.0},
	models.TaskSecurityAudit:  {Input: 2.0, Output: 2.5},
	models.TaskToolUse:        {Input: 1.0, Output: 1.5},
	models.TaskMultimodal:     {Input: 1.5, Output: 1.2},
	models.TaskLongContext:    {Input: 5.0, Output: 1.5},
}

var defaultMultiplier = tokenMultiplier{Input: 1.0, Output: 1.5}

const (
	avgTokensPerWord = 1.3
	minInputTokens   = 100
	minOutputTokens  = 50

	costVariance = 0.3 // ±30%
)

// Predictor predicts and validates costs for model routing decisions.
type Predictor struct{}

// New creates a Predictor. It holds no state.
func New() *Predictor {
	return &Predictor{}
}

// EstimateTokensFromDescription estimates input and output token counts
// from free-text task description and task type, using a word-count
// baseline scaled by the task's token multiplier, and a keyword-driven
// output-length heuristic.
func (p *Predictor) EstimateTokensFromDescription(description string, taskType models.TaskType) (inputTokens, outputTokens int) {
	wordCount := len(strings.Fields(description))
	baseInput := int(float64(wordCount) * avgTokensPerWord)

	mult, ok := taskTokenMultipliers[taskType]
	if !ok {
		mult = defaultMultiplier
	}

	estimatedInput := int(float64(baseInput) * mult.Input)

	lower := strings.ToLower(description)
	baseOutput := 500
	switch {
	case containsAny(lower, "detailed", "comprehensive", "thorough"):
		baseOutput = 1500
	case containsAny(lower, "simple", "brief", "quick"):
		baseOutput = 300
	}
	estimatedOutput := int(float64(baseOutput) * mult.Output)

	if estimatedInput < minInputTokens {
		estimatedInput = minInputTokens
	}
	if estimatedOutput < minOutputTokens {
		estimatedOutput = minOutputTokens
	}
	return estimatedInput, estimatedOutput
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// PredictCost predicts the cost of running req against model, using the
// request's explicit token estimates if provided, else deriving them from
// the task description.
func (p *Predictor) PredictCost(model models.ModelDefinition, req models.RoutingRequest) models.CostPrediction {
	inputTokens := req.EstimatedInputTokens
	outputTokens := req.EstimatedOutputTokens
	if inputTokens == 0 || outputTokens == 0 {
		estIn, estOut := p.EstimateTokensFromDescription(req.TaskDescription, req.TaskType)
		if inputTokens == 0 {
			inputTokens = estIn
		}
		if outputTokens == 0 {
			outputTokens = estOut
		}
	}

	inputCost := (float64(inputTokens) / 1000) * model.CostPer1KInput
	outputCost := (float64(outputTokens) / 1000) * model.CostPer1KOutput
	expectedCost := inputCost + outputCost

	minCost := expectedCost * (1 - costVariance)
	maxCost := expectedCost * (1 + costVariance)

	withinBudget := true
	if req.CostBudget != nil {
		withinBudget = maxCost <= *req.CostBudget
	}

	costEfficiency := 1.0 / (1.0 + expectedCost*100)

	return models.CostPrediction{
		ModelID:               model.ID,
		EstimatedInputTokens:  inputTokens,
		EstimatedOutputTokens: outputTokens,
		MinCost:               round6(minCost),
		MaxCost:               round6(maxCost),
		ExpectedCost:          round6(expectedCost),
		WithinBudget:          withinBudget,
		CostEfficiencyScore:   round4(costEfficiency),
	}
}

// PredictCostsForModels predicts cost for every model against req, sorted
// ascending by expected cost.
func (p *Predictor) PredictCostsForModels(modelList []models.ModelDefinition, req models.RoutingRequest) []models.CostPrediction {
	out := make([]models.CostPrediction, 0, len(modelList))
	for _, m := range modelList {
		out = append(out, p.PredictCost(m, req))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpectedCost < out[j].ExpectedCost })
	return out
}

// FilterByBudget returns only the predictions within budget. A nil budget
// passes every prediction through unfiltered.
func (p *Predictor) FilterByBudget(predictions []models.CostPrediction, budget *float64) []models.CostPrediction {
	if budget == nil {
		return predictions
	}
	out := make([]models.CostPrediction, 0, len(predictions))
	for _, pr := range predictions {
		if pr.WithinBudget {
			out = append(out, pr)
		}
	}
	return out
}

// CostProjection summarizes the projected spend of running a model
// numRequests times at the given average token sizes.
type CostProjection struct {
	ModelID         string
	NumRequests     int
	CostPerRequest  float64
	TotalCost       float64
	AvgInputTokens  int
	AvgOutputTokens int
}

// GetCostProjection projects total spend for numRequests future calls to
// model at the given average token sizes (defaults: 1000 in / 500 out).
func (p *Predictor) GetCostProjection(model models.ModelDefinition, numRequests, avgInputTokens, avgOutputTokens int) CostProjection {
	if avgInputTokens == 0 {
		avgInputTokens = 1000
	}
	if avgOutputTokens == 0 {
		avgOutputTokens = 500
	}
	costPerRequest := (float64(avgInputTokens)/1000)*model.CostPer1KInput + (float64(avgOutputTokens)/1000)*model.CostPer1KOutput
	return CostProjection{
		ModelID:         model.ID,
		NumRequests:     numRequests,
		CostPerRequest:  round6(costPerRequest),
		TotalCost:       round2(costPerRequest * float64(numRequests)),
		AvgInputTokens:  avgInputTokens,
		AvgOutputTokens: avgOutputTokens,
	}
}

// CostComparison summarizes a cross-model cost comparison.
type CostComparison struct {
	NumModels         int
	CheapestModel     string
	CheapestCost      float64
	MostExpensiveModel string
	MostExpensiveCost float64
	AvgCost           float64
	MedianCost        float64
	CostRange         float64
	Predictions       []models.CostPrediction
}

// CompareModelCosts predicts cost for every model against req and
// summarizes the spread. ok is false if modelList is empty.
func (p *Predictor) CompareModelCosts(modelList []models.ModelDefinition, req models.RoutingRequest) (CostComparison, bool) {
	predictions := p.PredictCostsForModels(modelList, req)
	if len(predictions) == 0 {
		return CostComparison{}, false
	}

	costs := make([]float64, len(predictions))
	sum := 0.0
	for i, pr := range predictions {
		costs[i] = pr.ExpectedCost
		sum += pr.ExpectedCost
	}
	sorted := append([]float64(nil), costs...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}

	first, last := predictions[0], predictions[len(predictions)-1]
	return CostComparison{
		NumModels:          len(predictions),
		CheapestModel:      first.ModelID,
		CheapestCost:       first.ExpectedCost,
		MostExpensiveModel: last.ModelID,
		MostExpensiveCost:  last.ExpectedCost,
		AvgCost:            round6(sum / float64(len(predictions))),
		MedianCost:         round6(median),
		CostRange:          round6(last.ExpectedCost - first.ExpectedCost),
		Predictions:        predictions,
	}, true
}

// CalculateROIScore balances quality-per-dollar against latency, clamped
// to [0, 1].
func (p *Predictor) CalculateROIScore(cost, qualityScore float64, latencyMs int) float64 {
	qualityPerDollar := qualityScore / (cost + 0.00001)
	roi := qualityPerDollar
	if latencyMs > 0 {
		latencyPenalty := 1.0 / (1.0 + float64(latencyMs)/10000)
		roi = qualityPerDollar * latencyPenalty
	}
	roi = roi / 1000
	if roi > 1.0 {
		roi = 1.0
	}
	return roi
}

func round6(v float64) float64 { return roundTo(v, 1e6) }
func round4(v float64) float64 { return roundTo(v, 1e4) }
func round2(v float64) float64 { return roundTo(v, 1e2) }

func roundTo(v, scale float64) float64 {
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
