// Package learningloop implements the Learning Loop (C8): feedback
// scoring that folds outcome, quality, PR signal, and user rating into a
// single normalized score, an EMA-smoothed learned weight per
// (model, task type) that the MoE Router blends into its scoring, and a
// Thompson-sampling bandit usable for exploration/A-B arm selection
// between candidate models.
package learningloop

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/arcbridge/agentcore/internal/telemetry"
	"github.com/arcbridge/agentcore/models"
)

const (
	learnedWeightEMA  = 0.1
	prMergedBonus     = 0.2
	prRevertedPenalty = 0.5
	neutralWeight     = 0.5
)

// ScoreFeedback computes a 0-1 normalized score for a FeedbackData record:
// an outcome base (success=1.0, partial=0.5, failure=0.0) averaged with
// QualityScore when present, adjusted by the PR merge/revert signal, then
// blended with UserRating/5 when present, clamped to [0, 1].
func ScoreFeedback(f models.FeedbackData) float64 {
	score := outcomeBase(f.Outcome)
	if f.QualityScore != nil {
		score = (score + *f.QualityScore) / 2
	}

	if f.PRMerged {
		score += prMergedBonus
	}
	if f.PRReverted {
		score -= prRevertedPenalty
	}

	if f.UserRating != nil {
		score = (score + *f.UserRating/5) / 2
	}

	return clamp01(score)
}

func outcomeBase(o models.FeedbackOutcome) float64 {
	switch o {
	case models.OutcomeSuccess:
		return 1.0
	case models.OutcomePartial:
		return 0.5
	default:
		return 0.0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Loop tracks a learned weight per (model, task type), updated by an EMA
// over ScoreFeedback outcomes, and an optional Thompson-sampling bandit
// for exploration between candidates.
type Loop struct {
	mu      sync.RWMutex
	weights map[string]float64

	bandit    *Bandit
	telemetry *telemetry.Bus
}

// Option configures a Loop.
type Option func(*Loop)

// WithBandit attaches a Bandit for exploration-mode arm selection.
func WithBandit(b *Bandit) Option {
	return func(l *Loop) { l.bandit = b }
}

// WithTelemetry attaches the Telemetry Bus that RecordFeedback reports
// its span through.
func WithTelemetry(t *telemetry.Bus) Option {
	return func(l *Loop) { l.telemetry = t }
}

// New creates a Loop with no prior learned weights.
func New(opts ...Option) *Loop {
	l := &Loop{weights: make(map[string]float64)}
	for _, o := range opts {
		o(l)
	}
	return l
}

func key(modelID string, taskType models.TaskType) string {
	return fmt.Sprintf("%s|%s", modelID, taskType)
}

// GetWeight returns the current learned weight for modelID+taskType, or a
// neutral 0.5 if no feedback has been recorded yet.
func (l *Loop) GetWeight(modelID string, taskType models.TaskType) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if w, ok := l.weights[key(modelID, taskType)]; ok {
		return w
	}
	return neutralWeight
}

// RecordFeedback scores f and folds it into the learned weight for its
// model+task type via EMA, and (if a Bandit is attached) updates the
// corresponding arm. Returns the new weight.
func (l *Loop) RecordFeedback(f models.FeedbackData) float64 {
	if l.telemetry != nil {
		_, op := l.telemetry.StartOperation(context.Background(), "learningloop", "RecordFeedback")
		next := l.recordFeedback(f)
		op.Finish(telemetry.Attrs{Model: f.ModelID, TaskType: string(f.TaskType)}, nil)
		return next
	}
	return l.recordFeedback(f)
}

func (l *Loop) recordFeedback(f models.FeedbackData) float64 {
	score := ScoreFeedback(f)

	l.mu.Lock()
	k := key(f.ModelID, f.TaskType)
	prev, ok := l.weights[k]
	if !ok {
		prev = neutralWeight
	}
	next := learnedWeightEMA*score + (1-learnedWeightEMA)*prev
	l.weights[k] = next
	l.mu.Unlock()

	if l.bandit != nil {
		l.bandit.Update(f.ModelID, TokenBucketLabel(0), score)
	}
	return next
}

// TokenBucketLabel categorizes an estimated token count into a bucket
// label used as bandit context.
func TokenBucketLabel(tokens int) string {
	switch {
	case tokens < 1000:
		return "small"
	case tokens <= 10000:
		return "medium"
	default:
		return "large"
	}
}

// armKey identifies a (model, token bucket) arm.
type armKey struct {
	ModelID     string
	TokenBucket string
}

type armParams struct {
	Alpha float64
	Beta  float64
}

// Bandit implements contextual Thompson Sampling over (model, token
// bucket) arms, usable by the Learning Loop and Hybrid Router to explore
// among otherwise-similarly-scored candidates.
type Bandit struct {
	mu   sync.RWMutex
	arms map[armKey]armParams
}

// NewBandit creates a Bandit with uniform Beta(1,1) priors.
func NewBandit() *Bandit {
	return &Bandit{arms: make(map[armKey]armParams)}
}

// Seed folds a durable reward summary for one (model, token bucket) arm
// into its Beta parameters, so a restarted process resumes exploration
// from where it left off instead of uniform priors. count is the number
// of samples observed and sumReward their total (each in [0,1]).
func (b *Bandit) Seed(modelID, tokenBucket string, count int, sumReward float64) {
	if count <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.arms[armKey{modelID, tokenBucket}] = armParams{
		Alpha: 1 + sumReward,
		Beta:  1 + float64(count) - sumReward,
	}
}

// Update folds a 0-1 reward into the (modelID, tokenBucket) arm: reward
// adds to alpha (successes), (1-reward) adds to beta (failures).
func (b *Bandit) Update(modelID, tokenBucket string, reward float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := armKey{modelID, tokenBucket}
	p, ok := b.arms[k]
	if !ok {
		p = armParams{Alpha: 1, Beta: 1}
	}
	p.Alpha += reward
	p.Beta += 1 - reward
	b.arms[k] = p
}

// Sample draws from each model's Beta distribution for tokenBucket and
// returns model IDs ordered by descending sampled value (best first).
func (b *Bandit) Sample(modelIDs []string, tokenBucket string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	type scored struct {
		modelID string
		value   float64
	}
	samples := make([]scored, len(modelIDs))
	for i, id := range modelIDs {
		p, ok := b.arms[armKey{id, tokenBucket}]
		if !ok {
			p = armParams{Alpha: 1, Beta: 1}
		}
		samples[i] = scored{modelID: id, value: betaSample(p.Alpha, p.Beta)}
	}

	for i := 1; i < len(samples); i++ {
		for j := i; j > 0 && samples[j].value > samples[j-1].value; j-- {
			samples[j], samples[j-1] = samples[j-1], samples[j]
		}
	}

	result := make([]string, len(samples))
	for i, s := range samples {
		result[i] = s.modelID
	}
	return result
}

func betaSample(alpha, beta float64) float64 {
	if alpha <= 0 {
		alpha = 1
	}
	if beta <= 0 {
		beta = 1
	}
	x := gammaSample(alpha)
	y := gammaSample(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// gammaSample draws from Gamma(shape, 1) using Marsaglia and Tsang's method.
func gammaSample(shape float64) float64 {
	if shape < 1 {
		return gammaSample(shape+1) * math.Pow(rand.Float64(), 1.0/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = rand.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rand.Float64()
		if u < 1.0-0.0331*(x*x)*(x*x) {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}
