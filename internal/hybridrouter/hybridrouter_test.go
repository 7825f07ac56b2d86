package hybridrouter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbridge/agentcore/internal/costpredictor"
	"github.com/arcbridge/agentcore/internal/learningloop"
	"github.com/arcbridge/agentcore/internal/moerouter"
	"github.com/arcbridge/agentcore/internal/perftracker"
	"github.com/arcbridge/agentcore/internal/registry"
	"github.com/arcbridge/agentcore/models"
)

func testRegistry() *registry.Registry {
	return registry.New([]models.ModelDefinition{
		{ID: "m1", ProviderID: "vendorA", QualityScore: 0.7, CostPer1KInput: 0.001, CostPer1KOutput: 0.002, ContextWindow: 8000, Enabled: true},
		{ID: "m2", ProviderID: "vendorB", QualityScore: 0.95, CostPer1KInput: 0.01, CostPer1KOutput: 0.02, ContextWindow: 32000, Enabled: true},
		{ID: "m3", ProviderID: "vendorC", QualityScore: 0.8, CostPer1KInput: 0.002, CostPer1KOutput: 0.003, ContextWindow: 8000, Enabled: true},
	})
}

func newTestRouter() *Router {
	reg := testRegistry()
	moe := moerouter.New(reg, costpredictor.New(), perftracker.New(), learningloop.New())
	return New(moe, reg)
}

func TestShouldUseParallel_EnableParallel(t *testing.T) {
	assert.True(t, ShouldUseParallel(models.RoutingRequest{EnableParallel: true}))
	assert.False(t, ShouldUseParallel(models.RoutingRequest{}))
}

func TestShouldUseParallel_TaskTypeTriggers(t *testing.T) {
	assert.True(t, ShouldUseParallel(models.RoutingRequest{TaskType: models.TaskSecurityAudit}))
	assert.True(t, ShouldUseParallel(models.RoutingRequest{TaskType: models.TaskCodeReview}))
	assert.True(t, ShouldUseParallel(models.RoutingRequest{TaskType: models.TaskPlanning}))
	assert.True(t, ShouldUseParallel(models.RoutingRequest{TaskType: models.TaskReasoning}))
	assert.False(t, ShouldUseParallel(models.RoutingRequest{TaskType: models.TaskDocumentation}))
}

func TestShouldUseParallel_HighQualityRequirementNeedsBudget(t *testing.T) {
	bigBudget := 0.10
	smallBudget := 0.01
	assert.True(t, ShouldUseParallel(models.RoutingRequest{QualityRequirement: 0.95, CostBudget: &bigBudget}))
	assert.False(t, ShouldUseParallel(models.RoutingRequest{QualityRequirement: 0.95, CostBudget: &smallBudget}))
	assert.False(t, ShouldUseParallel(models.RoutingRequest{QualityRequirement: 0.95}))
	assert.False(t, ShouldUseParallel(models.RoutingRequest{QualityRequirement: 0.5, CostBudget: &bigBudget}))
}

func TestShouldUseParallel_MetadataCritical(t *testing.T) {
	assert.True(t, ShouldUseParallel(models.RoutingRequest{Metadata: map[string]any{"critical": true}}))
	assert.False(t, ShouldUseParallel(models.RoutingRequest{Metadata: map[string]any{"critical": false}}))
	assert.False(t, ShouldUseParallel(models.RoutingRequest{Metadata: map[string]any{"other": true}}))
}

func TestSelectParallelModels_ForcesParallelStrategy(t *testing.T) {
	r := newTestRouter()
	decision, err := r.SelectParallelModels(context.Background(), models.RoutingRequest{RequestID: "r1", EnableParallel: true, EstimatedInputTokens: 100, EstimatedOutputTokens: 100}, nil)
	require.NoError(t, err)
	assert.Equal(t, "parallel", decision.RoutingStrategy)
	assert.NotEmpty(t, decision.ParallelModels)
	assert.Equal(t, decision.ParallelModels[1:], decision.FallbackModels)
	assert.NotEmpty(t, decision.Metadata["judge_model"])
	// All three enabled models are in the parallel set, so the judge falls
	// back to the highest-quality model overall.
	assert.Equal(t, "m2", decision.Metadata["judge_model"])
}

func TestSelectJudgeModel_ExcludesGivenModelsAndPicksHighestQuality(t *testing.T) {
	r := newTestRouter()
	judge, err := r.SelectJudgeModel([]string{"m2"})
	require.NoError(t, err)
	assert.Equal(t, "m3", judge.ID)
}

func TestSelectJudgeModel_NoneLeftFallsBackToHighestQualityOverall(t *testing.T) {
	r := newTestRouter()
	judge, err := r.SelectJudgeModel([]string{"m1", "m2", "m3"})
	require.NoError(t, err)
	assert.Equal(t, "m2", judge.ID)
}

func TestConsensus_FirstSuccess(t *testing.T) {
	results := []CandidateResult{
		{ModelID: "m1", Success: false},
		{ModelID: "m2", Success: true, Content: "a"},
		{ModelID: "m3", Success: true, Content: "b"},
	}
	res, err := Consensus(context.Background(), results, ConsensusFirstSuccess, nil)
	require.NoError(t, err)
	assert.Equal(t, "m2", res.WinnerModelID)
}

func TestConsensus_Voting_PicksMostCommonContent(t *testing.T) {
	results := []CandidateResult{
		{ModelID: "m1", Success: true, Content: "same answer"},
		{ModelID: "m2", Success: true, Content: "same answer"},
		{ModelID: "m3", Success: true, Content: "different"},
	}
	res, err := Consensus(context.Background(), results, ConsensusVoting, nil)
	require.NoError(t, err)
	assert.Equal(t, "m1", res.WinnerModelID)
}

func TestConsensus_QualityWeighted_PicksHighestQuality(t *testing.T) {
	q1, q2 := 0.4, 0.9
	results := []CandidateResult{
		{ModelID: "m1", Success: true, QualityScore: &q1},
		{ModelID: "m2", Success: true, QualityScore: &q2},
	}
	res, err := Consensus(context.Background(), results, ConsensusQualityWeighted, nil)
	require.NoError(t, err)
	assert.Equal(t, "m2", res.WinnerModelID)
}

func TestConsensus_Judge_UsesJudgeFunc(t *testing.T) {
	results := []CandidateResult{
		{ModelID: "m1", Success: true, Content: "weak"},
		{ModelID: "m2", Success: true, Content: "strong"},
	}
	judge := func(_ context.Context, modelID, content string) *float64 {
		score := 0.1
		if content == "strong" {
			score = 0.9
		}
		return &score
	}
	res, err := Consensus(context.Background(), results, ConsensusJudge, judge)
	require.NoError(t, err)
	assert.Equal(t, "m2", res.WinnerModelID)
}

func TestConsensus_Judge_FallsBackWithoutJudgeFunc(t *testing.T) {
	q1 := 0.9
	results := []CandidateResult{
		{ModelID: "m1", Success: true, QualityScore: &q1},
	}
	res, err := Consensus(context.Background(), results, ConsensusJudge, nil)
	require.NoError(t, err)
	assert.Equal(t, ConsensusQualityWeighted, res.Strategy)
}

func TestConsensus_NoSuccessfulResultsIsError(t *testing.T) {
	results := []CandidateResult{{ModelID: "m1", Success: false}}
	_, err := Consensus(context.Background(), results, ConsensusFirstSuccess, nil)
	assert.Error(t, err)
}
