// Package registry implements the Model Registry (C1): an immutable
// snapshot of ModelDefinitions that every other component reads through.
// A Registry is built once (directly, or from a YAML file) and never
// mutated in place; republishing a model means building a new Registry and
// swapping the pointer an owner holds.
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arcbridge/agentcore/models"
)

// Registry is a read-only snapshot of model definitions keyed by id.
type Registry struct {
	models map[string]models.ModelDefinition
	order  []string
}

// New builds a Registry from a fixed set of definitions. The returned
// Registry never changes; callers needing a different model set build a
// new Registry and swap their reference to it.
func New(defs []models.ModelDefinition) *Registry {
	r := &Registry{models: make(map[string]models.ModelDefinition, len(defs))}
	for _, d := range defs {
		if _, exists := r.models[d.ID]; !exists {
			r.order = append(r.order, d.ID)
		}
		r.models[d.ID] = d
	}
	return r
}

// fileModel mirrors the on-disk YAML shape for one model entry.
type fileModel struct {
	ID              string   `yaml:"id"`
	ProviderID      string   `yaml:"provider_id"`
	DisplayName     string   `yaml:"display_name"`
	QualityScore    float64  `yaml:"quality_score"`
	CostPer1KInput  float64  `yaml:"cost_per_1k_input"`
	CostPer1KOutput float64  `yaml:"cost_per_1k_output"`
	ContextWindow   int      `yaml:"context_window"`
	LatencyP50Ms    int      `yaml:"latency_p50_ms"`
	LatencyP95Ms    int      `yaml:"latency_p95_ms"`
	Capabilities    []string `yaml:"capabilities"`
	Tags            []string `yaml:"tags"`
	FallbackModels  []string `yaml:"fallback_models"`
	Enabled         *bool    `yaml:"enabled"`
}

type fileFormat struct {
	Models []fileModel `yaml:"models"`
}

// LoadFromFile builds a Registry from a YAML model-definition file, in the
// shape original_source's config-driven router used to bootstrap its model
// list. A missing "enabled" key defaults to true.
func LoadFromFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: reading %s: %w", path, err)
	}
	var ff fileFormat
	if err := yaml.Unmarshal(raw, &ff); err != nil {
		return nil, fmt.Errorf("registry: parsing %s: %w", path, err)
	}
	defs := make([]models.ModelDefinition, 0, len(ff.Models))
	for _, fm := range ff.Models {
		caps := make(map[models.Capability]bool, len(fm.Capabilities))
		for _, c := range fm.Capabilities {
			caps[models.Capability(c)] = true
		}
		enabled := true
		if fm.Enabled != nil {
			enabled = *fm.Enabled
		}
		defs = append(defs, models.ModelDefinition{
			ID:              fm.ID,
			ProviderID:      fm.ProviderID,
			DisplayName:     fm.DisplayName,
			QualityScore:    fm.QualityScore,
			CostPer1KInput:  fm.CostPer1KInput,
			CostPer1KOutput: fm.CostPer1KOutput,
			ContextWindow:   fm.ContextWindow,
			LatencyP50Ms:    fm.LatencyP50Ms,
			LatencyP95Ms:    fm.LatencyP95Ms,
			Capabilities:    caps,
			Tags:            fm.Tags,
			FallbackModels:  fm.FallbackModels,
			Enabled:         enabled,
		})
	}
	return New(defs), nil
}

// Get returns the model definition for id, and whether it was found.
func (r *Registry) Get(id string) (models.ModelDefinition, bool) {
	m, ok := r.models[id]
	return m, ok
}

// List returns all model definitions in registration order.
func (r *Registry) List() []models.ModelDefinition {
	out := make([]models.ModelDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// ListByProvider returns all enabled-or-not model definitions for a
// provider, in registration order.
func (r *Registry) ListByProvider(providerID string) []models.ModelDefinition {
	var out []models.ModelDefinition
	for _, id := range r.order {
		m := r.models[id]
		if m.ProviderID == providerID {
			out = append(out, m)
		}
	}
	return out
}

// Len reports the number of models in the snapshot.
func (r *Registry) Len() int {
	return len(r.order)
}
