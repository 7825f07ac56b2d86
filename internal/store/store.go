// Package store defines the durable persistence interface the in-process
// core optionally writes through to: cumulative spend per quota
// scope/identifier (backing the Quota Service's Ledger), audit records
// (backing the Audit Logger's Store), and reward samples (seeding the
// Learning Loop's bandit on restart). Every component is authoritative
// over its own in-memory state; a Store is an optional durable mirror,
// never a read path on the hot request route.
package store

import (
	"context"
	"time"

	"github.com/arcbridge/agentcore/models"
)

// SpendStore persists cumulative spend per quota scope/identifier/day, the
// durable backing for quota.Ledger.
type SpendStore interface {
	DailySpend(ctx context.Context, scope models.QuotaScope, identifier string, day time.Time) (float64, error)
	MonthlySpend(ctx context.Context, scope models.QuotaScope, identifier string, month time.Time) (float64, error)
	RecordSpend(ctx context.Context, scope models.QuotaScope, identifier string, at time.Time, amountUSD float64) error
}

// AuditStore persists audit records, the durable backing for
// auditlog.Store.
type AuditStore interface {
	AppendAudit(ctx context.Context, r models.AuditRecord) error
	ListAudit(ctx context.Context, limit, offset int) ([]models.AuditRecord, error)
	DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RewardEntry captures the features and outcome of one routing decision,
// for contextual-bandit reward logging: on restart, RewardSummary lets
// the Learning Loop's Bandit rebuild its per-arm Beta parameters instead of
// starting from uniform priors.
type RewardEntry struct {
	Timestamp   time.Time
	ModelID     string
	TaskType    string
	TokenBucket string
	Reward      float64
}

// RewardSummary aggregates reward samples per (model, token bucket) arm.
type RewardSummary struct {
	ModelID     string
	TokenBucket string
	Count       int
	SumReward   float64
}

// RewardStore persists reward samples for bandit-arm seeding.
type RewardStore interface {
	RecordReward(ctx context.Context, entry RewardEntry) error
	RewardSummary(ctx context.Context) ([]RewardSummary, error)
}

// PerfStore persists running performance metrics per (model, task type),
// the durable backing for perftracker.Seeder.
type PerfStore interface {
	LoadPerformanceMetrics(ctx context.Context) ([]models.PerformanceMetrics, error)
	SavePerformanceMetrics(ctx context.Context, m models.PerformanceMetrics) error
}

// Store is the full durable persistence surface an enveloping service may
// back the core with. Nothing in this package requires all four facets
// to be backed by the same engine; SQLiteStore happens to implement all
// four over one *sql.DB.
type Store interface {
	SpendStore
	AuditStore
	RewardStore
	PerfStore
	Migrate(ctx context.Context) error
	Close() error
}

// PerfSeederAdapter adapts a PerfStore's context-taking methods to the
// synchronous perftracker.Seeder interface, using context.Background()
// since seeding happens at startup and flushes happen off the hot path.
type PerfSeederAdapter struct {
	Store PerfStore
}

// Load implements perftracker.Seeder.
func (a PerfSeederAdapter) Load() ([]models.PerformanceMetrics, error) {
	return a.Store.LoadPerformanceMetrics(context.Background())
}

// Save implements perftracker.Seeder.
func (a PerfSeederAdapter) Save(m models.PerformanceMetrics) error {
	return a.Store.SavePerformanceMetrics(context.Background(), m)
}

// AuditLogAdapter adapts an AuditStore's context-taking, paginated methods
// to the synchronous, unbounded Store interface the Audit Logger (C12)
// expects, using context.Background() for every call: audit writes happen
// off the hot request path, so there is no caller deadline to propagate.
type AuditLogAdapter struct {
	Store AuditStore
}

// Append implements auditlog.Store.
func (a AuditLogAdapter) Append(r models.AuditRecord) error {
	return a.Store.AppendAudit(context.Background(), r)
}

// All implements auditlog.Store. It pages through the underlying store in
// fixed-size batches so a single caller never has to hold the entire
// history in memory at once.
func (a AuditLogAdapter) All() ([]models.AuditRecord, error) {
	const pageSize = 500
	var out []models.AuditRecord
	for offset := 0; ; offset += pageSize {
		page, err := a.Store.ListAudit(context.Background(), pageSize, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}

// DeleteBefore implements auditlog.Store.
func (a AuditLogAdapter) DeleteBefore(cutoff time.Time) (int, error) {
	n, err := a.Store.DeleteAuditBefore(context.Background(), cutoff)
	return int(n), err
}
