// Package perftracker implements the Performance Tracker (C3): running,
// EMA-smoothed success/latency/cost/quality statistics per (model, task
// type), and the recommendation weight the MoE Router blends into its
// scoring. Storage is pluggable; the default is an in-memory map, and a
// durable Seeder (internal/store's PerfSeederAdapter) may back it for
// restart-resilience.
package perftracker

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/arcbridge/agentcore/models"
)

const (
	ema                     = 0.1
	decayHalfLifeHours      = 168.0 // 1 week
	minRequestsForConfidence = 10
	confidenceWeightScale   = 100.0
)

// Seeder persists PerformanceMetrics for restart-resilience. The in-process
// Tracker is always authoritative; a Seeder is an optional durable mirror.
type Seeder interface {
	Load() ([]models.PerformanceMetrics, error)
	Save(models.PerformanceMetrics) error
}

// Tracker tracks and analyzes model performance metrics.
type Tracker struct {
	mu      sync.RWMutex
	metrics map[string]*models.PerformanceMetrics // key: modelID + "|" + taskType
	seeder  Seeder
	nowFunc func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSeeder attaches a durable mirror that metrics are written through to.
func WithSeeder(s Seeder) Option {
	return func(t *Tracker) { t.seeder = s }
}

// WithNow overrides the clock; intended for tests.
func WithNow(fn func() time.Time) Option {
	return func(t *Tracker) { t.nowFunc = fn }
}

// New creates a Tracker, optionally seeding its in-memory state from a
// durable Seeder.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		metrics: make(map[string]*models.PerformanceMetrics),
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	if t.seeder != nil {
		if seeded, err := t.seeder.Load(); err == nil {
			for _, m := range seeded {
				m := m
				t.metrics[key(m.ModelID, m.TaskType)] = &m
			}
		}
	}
	return t
}

func key(modelID string, taskType models.TaskType) string {
	return fmt.Sprintf("%s|%s", modelID, taskType)
}

// RecordRequest records the outcome of one request against modelID for
// taskType, updating running EMA averages for any of latency/cost/quality
// that were observed.
func (t *Tracker) RecordRequest(modelID string, taskType models.TaskType, success bool, latencyMs *int, cost *float64, quality *float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(modelID, taskType)
	m, ok := t.metrics[k]
	if !ok {
		m = &models.PerformanceMetrics{ModelID: modelID, TaskType: taskType}
		t.metrics[k] = m
	}

	m.TotalRequests++
	if success {
		m.SuccessfulRequests++
	} else {
		m.FailedRequests++
	}

	if latencyMs != nil {
		v := float64(*latencyMs)
		m.AvgLatencyMs = emaUpdate(m.AvgLatencyMs, v)
	}
	if cost != nil {
		m.AvgCost = emaUpdate(m.AvgCost, *cost)
	}
	if quality != nil {
		m.AvgQuality = emaUpdate(m.AvgQuality, *quality)
	}
	m.LastUpdated = t.nowFunc()

	if t.seeder != nil {
		_ = t.seeder.Save(*m)
	}
}

func emaUpdate(current *float64, observed float64) *float64 {
	if current == nil {
		v := observed
		return &v
	}
	v := ema*observed + (1-ema)*(*current)
	return &v
}

// GetMetrics returns the performance metrics for modelID+taskType, and
// whether any data exists.
func (t *Tracker) GetMetrics(modelID string, taskType models.TaskType) (models.PerformanceMetrics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.metrics[key(modelID, taskType)]
	if !ok {
		return models.PerformanceMetrics{}, false
	}
	return *m, true
}

// CalculateConfidenceScore combines sample-size confidence with an
// exponential time-decay factor: confidence = min(1, total/100) ×
// 0.5^(age_hours/168).
func (t *Tracker) CalculateConfidenceScore(m models.PerformanceMetrics) float64 {
	sampleConfidence := float64(m.TotalRequests) / confidenceWeightScale
	if sampleConfidence > 1.0 {
		sampleConfidence = 1.0
	}
	ageHours := t.nowFunc().Sub(m.LastUpdated).Seconds() / 3600
	decay := math.Pow(0.5, ageHours/decayHalfLifeHours)
	return round4(sampleConfidence * decay)
}

// GetRecommendationWeight returns the weight the MoE Router should assign
// to this model for this task type: 0.7·success_rate + 0.3·confidence,
// or a neutral 0.5 when fewer than 10 requests have been observed.
func (t *Tracker) GetRecommendationWeight(modelID string, taskType models.TaskType) float64 {
	m, ok := t.GetMetrics(modelID, taskType)
	if !ok || m.TotalRequests < minRequestsForConfidence {
		return 0.5
	}
	confidence := t.CalculateConfidenceScore(m)
	weight := m.SuccessRate()*0.7 + confidence*0.3
	return round4(weight)
}

// ModelWeight pairs a model id with its recommendation weight.
type ModelWeight struct {
	ModelID string
	Weight  float64
}

// GetTopModels ranks modelIDs by recommendation weight for taskType,
// descending, returning at most topN.
func (t *Tracker) GetTopModels(taskType models.TaskType, modelIDs []string, topN int) []ModelWeight {
	weights := make([]ModelWeight, 0, len(modelIDs))
	for _, id := range modelIDs {
		weights = append(weights, ModelWeight{ModelID: id, Weight: t.GetRecommendationWeight(id, taskType)})
	}
	sort.Slice(weights, func(i, j int) bool { return weights[i].Weight > weights[j].Weight })
	if topN > 0 && len(weights) > topN {
		weights = weights[:topN]
	}
	return weights
}

// RecordFeedback folds a FeedbackData record into the tracker as a
// request outcome, keyed by the feedback's model and task type.
func (t *Tracker) RecordFeedback(f models.FeedbackData) {
	success := f.Outcome == models.OutcomeSuccess
	t.RecordRequest(f.ModelID, f.TaskType, success, f.ActualLatencyMs, f.ActualCost, f.QualityScore)
}

func round4(v float64) float64 {
	return float64(int64(v*1e4+0.5)) / 1e4
}
