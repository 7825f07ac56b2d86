package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
	if r.reg == nil {
		t.Fatal("expected non-nil prometheus registry")
	}
	if r.OperationDuration == nil {
		t.Fatal("expected non-nil OperationDuration histogram")
	}
	if r.TokensTotal == nil {
		t.Fatal("expected non-nil TokensTotal counter")
	}
	if r.CostUSDTotal == nil {
		t.Fatal("expected non-nil CostUSDTotal counter")
	}
}

func TestHandlerNonNil(t *testing.T) {
	r := New()
	h := r.Handler()
	if h == nil {
		t.Fatal("expected non-nil http.Handler from Handler()")
	}
}

func TestMetricsCanBeCollected(t *testing.T) {
	r := New()

	r.OperationDuration.WithLabelValues("hybridrouter", "Route", "success").Observe(150.0)
	r.CostUSDTotal.WithLabelValues("gpt-4", "openai").Add(0.01)
	r.TokensTotal.WithLabelValues("gpt-4", "code_generation", "output").Add(42)
	r.CacheHitsTotal.WithLabelValues("costpredictor").Inc()
	r.CacheMissesTotal.WithLabelValues("costpredictor").Inc()

	mfs, err := r.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected at least one metric family after recording values")
	}

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	want := []string{
		"agentcore_operation_duration_ms",
		"agentcore_cost_usd_total",
		"agentcore_tokens_total",
		"agentcore_cache_hits_total",
		"agentcore_cache_misses_total",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("expected metric %q in gathered metrics", name)
		}
	}
}

func TestMultipleRegistriesAreIndependent(t *testing.T) {
	r1 := New()
	r2 := New()

	r1.CostUSDTotal.WithLabelValues("gpt-4", "openai").Add(1.0)

	mfs, err := r2.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil && m.GetCounter().GetValue() > 0 {
				t.Error("r2 should not have any non-zero counters")
			}
		}
	}
	_ = r1
}

func TestRegisteredMetricDescriptions(t *testing.T) {
	r := New()

	ch := make(chan *prometheus.Desc, 10)
	go func() {
		r.OperationDuration.Describe(ch)
		r.TokensTotal.Describe(ch)
		r.CostUSDTotal.Describe(ch)
		close(ch)
	}()

	count := 0
	for range ch {
		count++
	}
	if count != 3 {
		t.Errorf("expected 3 metric descriptors, got %d", count)
	}
}

func TestCircuitStateAndSwarmActiveGauges(t *testing.T) {
	r := New()
	r.CircuitState.WithLabelValues("openai").Set(1)
	r.SwarmActive.Set(3)

	mfs, err := r.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	if !names["agentcore_circuit_breaker_state"] {
		t.Error("expected agentcore_circuit_breaker_state gauge")
	}
	if !names["agentcore_swarm_active_executions"] {
		t.Error("expected agentcore_swarm_active_executions gauge")
	}
}
