package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbridge/agentcore/internal/events"
	"github.com/arcbridge/agentcore/internal/metrics"
)

func TestFinish_RecordsSuccessDuration(t *testing.T) {
	m := metrics.New()
	bus := New(m, nil)

	ctx, op := bus.StartOperation(context.Background(), "hybridrouter", "Route")
	op.Finish(Attrs{Model: "gpt-4", Provider: "openai", CostUSD: 0.02}, nil)
	_ = ctx

	hist, err := m.OperationDuration.GetMetricWithLabelValues("hybridrouter", "Route", "success")
	require.NoError(t, err)
	assert.NotNil(t, hist)
}

func TestFinish_RecordsFailureStatus(t *testing.T) {
	m := metrics.New()
	bus := New(m, nil)

	_, op := bus.StartOperation(context.Background(), "moerouter", "SelectModel")
	op.Finish(Attrs{}, errors.New("boom"))

	hist, err := m.OperationDuration.GetMetricWithLabelValues("moerouter", "SelectModel", "failure")
	require.NoError(t, err)
	assert.NotNil(t, hist)
}

func TestFinish_RecordsCostAndTokens(t *testing.T) {
	m := metrics.New()
	bus := New(m, nil)

	_, op := bus.StartOperation(context.Background(), "hybridrouter", "Route")
	op.Finish(Attrs{Model: "gpt-4", Provider: "openai", TaskType: "code_generation", CostUSD: 0.5, InputTokens: 100, OutputTokens: 200}, nil)

	costCounter, err := m.CostUSDTotal.GetMetricWithLabelValues("gpt-4", "openai")
	require.NoError(t, err)
	assert.NotNil(t, costCounter)

	tokenCounter, err := m.TokensTotal.GetMetricWithLabelValues("gpt-4", "code_generation", "output")
	require.NoError(t, err)
	assert.NotNil(t, tokenCounter)
}

func TestFinish_PublishesEventOnBus(t *testing.T) {
	eb := events.NewBus()
	sub := eb.Subscribe(10)
	defer eb.Unsubscribe(sub)

	bus := New(nil, eb)
	_, op := bus.StartOperation(context.Background(), "quota", "CheckAndReserve")
	op.Finish(Attrs{Model: "gpt-4"}, nil)

	select {
	case e := <-sub.C:
		assert.Equal(t, events.EventRouteSuccess, e.Type)
		assert.Equal(t, "quota.CheckAndReserve", e.Activity)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestFinish_PublishesErrorEventOnFailure(t *testing.T) {
	eb := events.NewBus()
	sub := eb.Subscribe(10)
	defer eb.Unsubscribe(sub)

	bus := New(nil, eb)
	_, op := bus.StartOperation(context.Background(), "circuitbreaker", "RecordFailure")
	op.Finish(Attrs{}, errors.New("boom"))

	select {
	case e := <-sub.C:
		assert.Equal(t, events.EventRouteError, e.Type)
		assert.Equal(t, "failure", e.ErrorClass)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestOperation_NoMetricsOrEventsDoesNotPanic(t *testing.T) {
	bus := New(nil, nil)
	_, op := bus.StartOperation(context.Background(), "learningloop", "RecordFeedback")
	assert.NotPanics(t, func() { op.Finish(Attrs{}, nil) })
}

func TestRecordCacheHitAndMiss(t *testing.T) {
	m := metrics.New()
	bus := New(m, nil)
	assert.NotPanics(t, func() {
		bus.RecordCacheHit("costpredictor")
		bus.RecordCacheMiss("costpredictor")
	})
}

func TestRecordCircuitState(t *testing.T) {
	m := metrics.New()
	bus := New(m, nil)
	bus.RecordCircuitState("openai", "open")
	g, err := m.CircuitState.GetMetricWithLabelValues("openai")
	require.NoError(t, err)
	assert.NotNil(t, g)
}

func TestPublishWorkflowEvent(t *testing.T) {
	eb := events.NewBus()
	sub := eb.Subscribe(10)
	defer eb.Unsubscribe(sub)

	bus := New(nil, eb)
	bus.PublishWorkflowEvent(events.EventWorkflowCompleted, "wf-1", "SwarmWorkflow", 1.25)

	select {
	case e := <-sub.C:
		assert.Equal(t, events.EventWorkflowCompleted, e.Type)
		assert.Equal(t, "wf-1", e.WorkflowID)
		assert.Equal(t, 1.25, e.TotalCostUSD)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}
