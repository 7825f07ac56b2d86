// Package telemetry implements the Telemetry Bus (C13): the single point
// where C7-C11 report a public operation's outcome. One Operation call
// opens a trace span named "<component>.<operation>", and its Finish
// records a request-duration histogram observation, a cost/token counter
// update when applicable, and a best-effort event-bus publication — all
// non-blocking so a slow consumer never holds up the caller.
package telemetry

import (
	"context"
	"time"

	"github.com/arcbridge/agentcore/internal/events"
	"github.com/arcbridge/agentcore/internal/metrics"
	"github.com/arcbridge/agentcore/internal/tracing"
)

// Bus wires span creation, metric recording, and event publication
// together behind one API. A nil *metrics.Registry or *events.Bus is
// tolerated: Bus degrades to tracing-only (Setup/StartSpan already
// no-op when tracing is disabled).
type Bus struct {
	metrics *metrics.Registry
	events  *events.Bus
	nowFunc func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithNow overrides the clock; intended for tests.
func WithNow(fn func() time.Time) Option {
	return func(b *Bus) { b.nowFunc = fn }
}

// New creates a Bus. Either dependency may be nil.
func New(m *metrics.Registry, eb *events.Bus, opts ...Option) *Bus {
	b := &Bus{metrics: m, events: eb, nowFunc: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Attrs is the attribute set Finish records against the metrics registry
// and the published event; none of it is set on the span. All fields are
// optional. The cost and token counters are updated only when Model and
// the value are non-zero; Provider and TaskType are used as metric labels
// as given, empty or not.
type Attrs struct {
	Provider     string
	Model        string
	TaskType     string
	CostUSD      float64
	InputTokens  int
	OutputTokens int
}

// Operation is an in-flight instrumented call, created by StartOperation
// and closed exactly once by Finish.
type Operation struct {
	bus       *Bus
	ctx       context.Context
	component string
	operation string
	start     time.Time
	endSpan   func()
}

// StartOperation opens a span named "<component>.<operation>" and starts
// a wall-clock timer for the eventual duration observation. The returned
// context carries the span and must be threaded into any downstream work
// the operation performs.
func (b *Bus) StartOperation(ctx context.Context, component, operation string) (context.Context, *Operation) {
	ctx, end := tracing.StartSpan(ctx, component, operation)
	return ctx, &Operation{
		bus:       b,
		ctx:       ctx,
		component: component,
		operation: operation,
		start:     b.nowFunc(),
		endSpan:   end,
	}
}

// Finish records the operation's outcome. err nil means success; a
// non-nil err records the span exception and a "failure" status label.
// Finish must be called exactly once, typically via defer.
func (o *Operation) Finish(attrs Attrs, err error) {
	defer o.endSpan()

	status := "success"
	if err != nil {
		status = "failure"
		tracing.RecordError(o.ctx, err)
	}

	latencyMs := float64(o.bus.nowFunc().Sub(o.start)) / float64(time.Millisecond)

	if o.bus.metrics != nil {
		o.bus.metrics.OperationDuration.WithLabelValues(o.component, o.operation, status).Observe(latencyMs)
		if attrs.Model != "" && attrs.CostUSD > 0 {
			o.bus.metrics.CostUSDTotal.WithLabelValues(attrs.Model, attrs.Provider).Add(attrs.CostUSD)
		}
		if attrs.Model != "" && attrs.InputTokens > 0 {
			o.bus.metrics.TokensTotal.WithLabelValues(attrs.Model, attrs.TaskType, "input").Add(float64(attrs.InputTokens))
		}
		if attrs.Model != "" && attrs.OutputTokens > 0 {
			o.bus.metrics.TokensTotal.WithLabelValues(attrs.Model, attrs.TaskType, "output").Add(float64(attrs.OutputTokens))
		}
	}

	if o.bus.events != nil {
		evtType := events.EventRouteSuccess
		errClass := ""
		if err != nil {
			evtType = events.EventRouteError
			errClass = status
		}
		o.bus.events.Publish(events.Event{
			Type:       evtType,
			ModelID:    attrs.Model,
			ProviderID: attrs.Provider,
			LatencyMs:  latencyMs,
			CostUSD:    attrs.CostUSD,
			ErrorClass: errClass,
			Activity:   o.component + "." + o.operation,
		})
	}
}

// RecordCacheHit increments the cache-hit counter for component.
func (b *Bus) RecordCacheHit(component string) {
	if b.metrics != nil {
		b.metrics.CacheHitsTotal.WithLabelValues(component).Inc()
	}
}

// RecordCacheMiss increments the cache-miss counter for component.
func (b *Bus) RecordCacheMiss(component string) {
	if b.metrics != nil {
		b.metrics.CacheMissesTotal.WithLabelValues(component).Inc()
	}
}

// RecordRateLimited increments the rate-limiter rejection counter.
func (b *Bus) RecordRateLimited() {
	if b.metrics != nil {
		b.metrics.RateLimitedTotal.Inc()
	}
}

// circuitStateValue maps a breaker's textual state onto the gauge value
// the spec's dashboards expect (0=closed, 1=open, 2=half-open).
func circuitStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return 0
	}
}

// RecordCircuitState sets the circuit-breaker gauge for identifier.
func (b *Bus) RecordCircuitState(identifier, state string) {
	if b.metrics != nil {
		b.metrics.CircuitState.WithLabelValues(identifier).Set(circuitStateValue(state))
	}
}

// RecordSwarmActive sets the number of currently in-flight swarm executions.
func (b *Bus) RecordSwarmActive(n int) {
	if b.metrics != nil {
		b.metrics.SwarmActive.Set(float64(n))
	}
}

// PublishWorkflowEvent publishes a swarm workflow lifecycle event
// (started/completed/failed) directly, for callers that don't go
// through StartOperation/Finish (e.g. the Temporal workflow, which runs
// outside a regular request context).
func (b *Bus) PublishWorkflowEvent(evtType events.EventType, workflowID, workflowType string, totalCostUSD float64) {
	if b.events == nil {
		return
	}
	b.events.Publish(events.Event{
		Type:         evtType,
		WorkflowID:   workflowID,
		WorkflowType: workflowType,
		TotalCostUSD: totalCostUSD,
	})
}
