package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbridge/agentcore/models"
)

func sampleDefs() []models.ModelDefinition {
	return []models.ModelDefinition{
		{ID: "m1", ProviderID: "p1", QualityScore: 0.8, Enabled: true},
		{ID: "m2", ProviderID: "p1", QualityScore: 0.6, Enabled: false},
		{ID: "m3", ProviderID: "p2", QualityScore: 0.9, Enabled: true},
	}
}

func TestNew_GetAndList(t *testing.T) {
	r := New(sampleDefs())
	assert.Equal(t, 3, r.Len())

	m, ok := r.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "p1", m.ProviderID)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "m1", list[0].ID)
}

func TestNew_DuplicateIDKeepsLastValueSinglePosition(t *testing.T) {
	defs := []models.ModelDefinition{
		{ID: "m1", QualityScore: 0.1},
		{ID: "m1", QualityScore: 0.9},
	}
	r := New(defs)
	assert.Equal(t, 1, r.Len())
	m, ok := r.Get("m1")
	require.True(t, ok)
	assert.Equal(t, 0.9, m.QualityScore)
}

func TestListByProvider(t *testing.T) {
	r := New(sampleDefs())
	p1 := r.ListByProvider("p1")
	require.Len(t, p1, 2)
	assert.Equal(t, "m1", p1[0].ID)
	assert.Equal(t, "m2", p1[1].ID)

	assert.Empty(t, r.ListByProvider("does-not-exist"))
}

const catalogYAML = `
models:
  - id: gpt-4
    provider_id: openai
    display_name: GPT-4
    quality_score: 0.95
    cost_per_1k_input: 0.03
    cost_per_1k_output: 0.06
    context_window: 8192
    latency_p50_ms: 800
    latency_p95_ms: 2000
    capabilities: [vision, streaming]
    tags: [flagship]
    fallback_models: [gpt-3.5]
  - id: gpt-3.5
    provider_id: openai
    quality_score: 0.8
    cost_per_1k_input: 0.001
    cost_per_1k_output: 0.002
    enabled: false
`

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o644))

	r, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	gpt4, ok := r.Get("gpt-4")
	require.True(t, ok)
	assert.Equal(t, "GPT-4", gpt4.DisplayName)
	assert.True(t, gpt4.Enabled)
	assert.True(t, gpt4.Capabilities[models.CapabilityVision])
	assert.True(t, gpt4.Capabilities[models.CapabilityStreaming])
	assert.Equal(t, []string{"gpt-3.5"}, gpt4.FallbackModels)

	gpt35, ok := r.Get("gpt-3.5")
	require.True(t, ok)
	assert.False(t, gpt35.Enabled)
}

func TestLoadFromFile_MissingFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoadFromFile_InvalidYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}
