package store

import (
	"context"
	"testing"
	"time"

	"github.com/arcbridge/agentcore/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrate(t *testing.T) {
	s := newTestStore(t)
	// Running migrate twice should be idempotent.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestSpendRecordAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

	if err := s.RecordSpend(ctx, models.ScopeTeam, "org-1", day, 1.25); err != nil {
		t.Fatalf("record spend failed: %v", err)
	}
	if err := s.RecordSpend(ctx, models.ScopeTeam, "org-1", day.Add(2*time.Hour), 0.75); err != nil {
		t.Fatalf("record spend 2 failed: %v", err)
	}

	got, err := s.DailySpend(ctx, models.ScopeTeam, "org-1", day)
	if err != nil {
		t.Fatalf("daily spend failed: %v", err)
	}
	if got < 1.99 || got > 2.01 {
		t.Errorf("expected daily spend ~2.00, got %f", got)
	}

	gotMonth, err := s.MonthlySpend(ctx, models.ScopeTeam, "org-1", day)
	if err != nil {
		t.Fatalf("monthly spend failed: %v", err)
	}
	if gotMonth < 1.99 || gotMonth > 2.01 {
		t.Errorf("expected monthly spend ~2.00, got %f", gotMonth)
	}
}

func TestSpendScopeIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	if err := s.RecordSpend(ctx, models.ScopeTeam, "org-1", day, 1.0); err != nil {
		t.Fatalf("record spend failed: %v", err)
	}
	if err := s.RecordSpend(ctx, models.ScopeUser, "org-1", day, 5.0); err != nil {
		t.Fatalf("record spend for different scope failed: %v", err)
	}

	got, err := s.DailySpend(ctx, models.ScopeTeam, "org-1", day)
	if err != nil {
		t.Fatalf("daily spend failed: %v", err)
	}
	if got < 0.99 || got > 1.01 {
		t.Errorf("expected org spend unaffected by user scope, got %f", got)
	}
}

func TestDailySpendEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.DailySpend(context.Background(), models.ScopeTeam, "nobody", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("expected 0 for unseen identifier, got %f", got)
	}
}

func TestAuditAppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := models.AuditRecord{
		LogID:          "log-1",
		Timestamp:      time.Now().UTC(),
		EventType:      "model_invocation",
		EventAction:    "route",
		ResourceType:   "model",
		ResourceID:     "gpt-4",
		ActorID:        "user-1",
		RequestID:      "req-1",
		Status:         "success",
		InputsRedacted: map[string]any{"prompt": "[REDACTED]"},
		Metadata:       models.AuditMetadata{Provider: "openai"},
	}
	if err := s.AppendAudit(ctx, r); err != nil {
		t.Fatalf("append audit failed: %v", err)
	}

	r2 := r
	r2.LogID = "log-2"
	r2.RequestID = "req-2"
	r2.Status = "failure"
	if err := s.AppendAudit(ctx, r2); err != nil {
		t.Fatalf("append audit 2 failed: %v", err)
	}

	got, err := s.ListAudit(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list audit failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(got))
	}
	if got[0].Metadata.Provider != "openai" {
		t.Errorf("expected metadata round-tripped, got %v", got[0].Metadata)
	}
	if got[0].InputsRedacted["prompt"] != "[REDACTED]" {
		t.Errorf("expected inputs round-tripped, got %v", got[0].InputsRedacted)
	}
}

func TestAuditDeleteBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := models.AuditRecord{LogID: "old", RequestID: "old", Status: "success", Timestamp: time.Now().Add(-48 * time.Hour)}
	recent := models.AuditRecord{LogID: "recent", RequestID: "recent", Status: "success", Timestamp: time.Now()}
	if err := s.AppendAudit(ctx, old); err != nil {
		t.Fatalf("append old failed: %v", err)
	}
	if err := s.AppendAudit(ctx, recent); err != nil {
		t.Fatalf("append recent failed: %v", err)
	}

	n, err := s.DeleteAuditBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete before failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}

	remaining, err := s.ListAudit(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list audit failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].RequestID != "recent" {
		t.Fatalf("expected only 'recent' to remain, got %v", remaining)
	}
}

func TestRewardRecordAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []RewardEntry{
		{Timestamp: time.Now(), ModelID: "gpt-4", TaskType: "chat", TokenBucket: "small", Reward: 0.8},
		{Timestamp: time.Now(), ModelID: "gpt-4", TaskType: "chat", TokenBucket: "small", Reward: 0.9},
		{Timestamp: time.Now(), ModelID: "claude", TaskType: "chat", TokenBucket: "small", Reward: 0.7},
	}
	for _, e := range entries {
		if err := s.RecordReward(ctx, e); err != nil {
			t.Fatalf("record reward failed: %v", err)
		}
	}

	summaries, err := s.RewardSummary(ctx)
	if err != nil {
		t.Fatalf("reward summary failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	for _, summ := range summaries {
		if summ.ModelID == "gpt-4" {
			if summ.Count != 2 {
				t.Errorf("expected count 2 for gpt-4, got %d", summ.Count)
			}
			if summ.SumReward < 1.69 || summ.SumReward > 1.71 {
				t.Errorf("expected sum_reward ~1.7, got %f", summ.SumReward)
			}
		}
	}
}

func TestRewardSummaryEmpty(t *testing.T) {
	s := newTestStore(t)
	summaries, err := s.RewardSummary(context.Background())
	if err != nil {
		t.Fatalf("reward summary failed: %v", err)
	}
	if summaries != nil {
		t.Errorf("expected nil for empty db, got %d", len(summaries))
	}
}

func TestPerformanceMetricsSaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lat, cost, quality := 120.5, 0.015, 0.9
	m := models.PerformanceMetrics{
		ModelID:      "gpt-4",
		TaskType:     models.TaskReasoning,
		AvgLatencyMs: &lat,
		AvgCost:      &cost,
		AvgQuality:   &quality,
		LastUpdated:  time.Now().UTC(),
	}
	if err := s.SavePerformanceMetrics(ctx, m); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := s.LoadPerformanceMetrics(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(got))
	}
	if got[0].AvgLatencyMs == nil || *got[0].AvgLatencyMs != 120.5 {
		t.Errorf("expected latency 120.5, got %v", got[0].AvgLatencyMs)
	}
	if got[0].TaskType != models.TaskReasoning {
		t.Errorf("expected task type reasoning, got %s", got[0].TaskType)
	}

	// Upsert overwrites the same (model, task type) row.
	lat2 := 80.0
	m.AvgLatencyMs = &lat2
	if err := s.SavePerformanceMetrics(ctx, m); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	got, err = s.LoadPerformanceMetrics(ctx)
	if err != nil {
		t.Fatalf("load after upsert failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected upsert not insert, got %d rows", len(got))
	}
	if *got[0].AvgLatencyMs != 80.0 {
		t.Errorf("expected updated latency 80.0, got %f", *got[0].AvgLatencyMs)
	}
}

func TestPerformanceMetricsNilFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := models.PerformanceMetrics{ModelID: "gpt-4", TaskType: models.TaskReasoning, LastUpdated: time.Now().UTC()}
	if err := s.SavePerformanceMetrics(ctx, m); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := s.LoadPerformanceMetrics(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(got))
	}
	if got[0].AvgLatencyMs != nil {
		t.Errorf("expected nil latency, got %v", *got[0].AvgLatencyMs)
	}
}

func TestPerformanceMetricsLoadEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LoadPerformanceMetrics(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for empty db, got %d", len(got))
	}
}
