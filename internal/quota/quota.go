// Package quota implements the Quota Service (C7): multi-scope spend and
// rate limits (user, team, project, tool, provider) checked in a fixed
// order so the cheapest, most decisive checks run first: admin override,
// then disabled, then request-rate limiting, then daily cost, then
// monthly cost, then the per-request cap.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arcbridge/agentcore/internal/ratelimit"
	"github.com/arcbridge/agentcore/internal/telemetry"
	"github.com/arcbridge/agentcore/models"
)

const spendCacheTTL = 30 * time.Second

// DeniedReason names why CheckAndReserve refused a request.
type DeniedReason string

const (
	ReasonDisabled      DeniedReason = "disabled"
	ReasonRateLimited   DeniedReason = "rate_limited"
	ReasonDailyBudget   DeniedReason = "daily_budget_exceeded"
	ReasonMonthlyBudget DeniedReason = "monthly_budget_exceeded"
	ReasonPerRequestCap DeniedReason = "per_request_cap_exceeded"
)

// DeniedError is returned when a quota check fails.
type DeniedError struct {
	Scope      models.QuotaScope
	Identifier string
	Reason     DeniedReason
	LimitUSD   float64
	SpentUSD   float64
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("quota denied for %s:%s: %s (limit=$%.4f spent=$%.4f)",
		e.Scope, e.Identifier, e.Reason, e.LimitUSD, e.SpentUSD)
}

// Ledger persists cumulative spend per scope/identifier so daily and
// monthly totals survive process restarts. An in-memory implementation
// is provided by NewMemoryLedger; a durable store MAY implement this
// interface instead.
type Ledger interface {
	DailySpend(ctx context.Context, scope models.QuotaScope, identifier string, day time.Time) (float64, error)
	MonthlySpend(ctx context.Context, scope models.QuotaScope, identifier string, month time.Time) (float64, error)
	RecordSpend(ctx context.Context, scope models.QuotaScope, identifier string, at time.Time, amountUSD float64) error
}

type cachedSpend struct {
	daily     float64
	monthly   float64
	expiresAt time.Time
}

func configKey(scope models.QuotaScope, identifier string) string {
	return fmt.Sprintf("%s|%s", scope, identifier)
}

// Service enforces QuotaConfig limits across scopes.
type Service struct {
	mu      sync.RWMutex
	configs map[string]models.QuotaConfig
	cache   map[string]cachedSpend

	ledger  Ledger
	limiter *ratelimit.Limiter
	nowFunc func() time.Time
	telemetry *telemetry.Bus
}

// Option configures a Service.
type Option func(*Service)

// WithRateLimiter attaches the shared rate limiter used for the
// RateLimitPerMinute check.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithTelemetry attaches the Telemetry Bus that CheckAndReserve reports
// its span and outcome metrics through.
func WithTelemetry(t *telemetry.Bus) Option {
	return func(s *Service) { s.telemetry = t }
}

// WithNow overrides the clock; intended for tests.
func WithNow(fn func() time.Time) Option {
	return func(s *Service) { s.nowFunc = fn }
}

// New creates a Service backed by ledger.
func New(ledger Ledger, opts ...Option) *Service {
	s := &Service{
		configs: make(map[string]models.QuotaConfig),
		cache:   make(map[string]cachedSpend),
		ledger:  ledger,
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetConfig installs or replaces the QuotaConfig for a scope/identifier.
func (s *Service) SetConfig(cfg models.QuotaConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[configKey(cfg.Scope, cfg.Identifier)] = cfg
}

// GetConfig returns the QuotaConfig for scope/identifier, if any.
func (s *Service) GetConfig(scope models.QuotaScope, identifier string) (models.QuotaConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[configKey(scope, identifier)]
	return cfg, ok
}

// CheckAndReserve validates scope/identifier against its configured
// limits for a request expected to cost estimatedCostUSD, in order:
// admin override, disabled, rate limit, daily budget, monthly budget,
// per-request cap. A scope/identifier with no configured QuotaConfig is
// unrestricted. On success the estimated cost is recorded against the
// ledger immediately (optimistic reservation); callers should reconcile
// with actual cost afterward via Record.
func (s *Service) CheckAndReserve(ctx context.Context, scope models.QuotaScope, identifier string, estimatedCostUSD float64) error {
	if s.telemetry != nil {
		var op *telemetry.Operation
		ctx, op = s.telemetry.StartOperation(ctx, "quota", "CheckAndReserve")
		var err error
		defer func() { op.Finish(telemetry.Attrs{CostUSD: estimatedCostUSD}, err) }()
		err = s.checkAndReserve(ctx, scope, identifier, estimatedCostUSD)
		return err
	}
	return s.checkAndReserve(ctx, scope, identifier, estimatedCostUSD)
}

func (s *Service) checkAndReserve(ctx context.Context, scope models.QuotaScope, identifier string, estimatedCostUSD float64) error {
	cfg, ok := s.GetConfig(scope, identifier)
	if !ok {
		return nil
	}
	if cfg.AdminOverride {
		return nil
	}
	if cfg.Disabled {
		return &DeniedError{Scope: scope, Identifier: identifier, Reason: ReasonDisabled}
	}

	if s.limiter != nil && cfg.RateLimitPerMinute > 0 {
		decision := s.limiter.Check(configKey(scope, identifier), 0)
		if !decision.Admitted {
			return &DeniedError{Scope: scope, Identifier: identifier, Reason: ReasonRateLimited}
		}
	}

	now := s.nowFunc()
	daily, monthly, err := s.spend(ctx, scope, identifier, now)
	if err != nil {
		return fmt.Errorf("quota spend lookup: %w", err)
	}

	if cfg.DailyCostLimitUSD > 0 && daily+estimatedCostUSD > cfg.DailyCostLimitUSD {
		return &DeniedError{Scope: scope, Identifier: identifier, Reason: ReasonDailyBudget, LimitUSD: cfg.DailyCostLimitUSD, SpentUSD: daily}
	}
	if cfg.MonthlyCostLimitUSD > 0 && monthly+estimatedCostUSD > cfg.MonthlyCostLimitUSD {
		return &DeniedError{Scope: scope, Identifier: identifier, Reason: ReasonMonthlyBudget, LimitUSD: cfg.MonthlyCostLimitUSD, SpentUSD: monthly}
	}
	if cfg.PerRequestCapUSD > 0 && estimatedCostUSD > cfg.PerRequestCapUSD {
		return &DeniedError{Scope: scope, Identifier: identifier, Reason: ReasonPerRequestCap, LimitUSD: cfg.PerRequestCapUSD, SpentUSD: estimatedCostUSD}
	}

	if err := s.ledger.RecordSpend(ctx, scope, identifier, now, estimatedCostUSD); err != nil {
		return fmt.Errorf("quota reserve: %w", err)
	}
	s.invalidate(scope, identifier)
	return nil
}

// Record books an actual spend amount against scope/identifier,
// independent of CheckAndReserve's optimistic reservation (e.g. to
// correct an estimate once the true cost is known).
func (s *Service) Record(ctx context.Context, scope models.QuotaScope, identifier string, amountUSD float64) error {
	if err := s.ledger.RecordSpend(ctx, scope, identifier, s.nowFunc(), amountUSD); err != nil {
		return err
	}
	s.invalidate(scope, identifier)
	return nil
}

func (s *Service) spend(ctx context.Context, scope models.QuotaScope, identifier string, now time.Time) (daily, monthly float64, err error) {
	k := configKey(scope, identifier)

	s.mu.RLock()
	if cached, ok := s.cache[k]; ok && now.Before(cached.expiresAt) {
		s.mu.RUnlock()
		return cached.daily, cached.monthly, nil
	}
	s.mu.RUnlock()

	daily, err = s.ledger.DailySpend(ctx, scope, identifier, now)
	if err != nil {
		return 0, 0, err
	}
	monthly, err = s.ledger.MonthlySpend(ctx, scope, identifier, now)
	if err != nil {
		return 0, 0, err
	}

	s.mu.Lock()
	s.cache[k] = cachedSpend{daily: daily, monthly: monthly, expiresAt: now.Add(spendCacheTTL)}
	s.mu.Unlock()
	return daily, monthly, nil
}

func (s *Service) invalidate(scope models.QuotaScope, identifier string) {
	s.mu.Lock()
	delete(s.cache, configKey(scope, identifier))
	s.mu.Unlock()
}

// MemoryLedger is an in-process Ledger keyed by day and calendar month.
type MemoryLedger struct {
	mu    sync.Mutex
	daily map[string]float64 // key|YYYY-MM-DD -> amount
	month map[string]float64 // key|YYYY-MM -> amount
}

// NewMemoryLedger creates an empty in-memory Ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		daily: make(map[string]float64),
		month: make(map[string]float64),
	}
}

func dayKey(scope models.QuotaScope, identifier string, t time.Time) string {
	return fmt.Sprintf("%s|%s|%s", scope, identifier, t.UTC().Format("2006-01-02"))
}

func monthKey(scope models.QuotaScope, identifier string, t time.Time) string {
	return fmt.Sprintf("%s|%s|%s", scope, identifier, t.UTC().Format("2006-01"))
}

// DailySpend implements Ledger.
func (m *MemoryLedger) DailySpend(_ context.Context, scope models.QuotaScope, identifier string, day time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.daily[dayKey(scope, identifier, day)], nil
}

// MonthlySpend implements Ledger.
func (m *MemoryLedger) MonthlySpend(_ context.Context, scope models.QuotaScope, identifier string, month time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.month[monthKey(scope, identifier, month)], nil
}

// RecordSpend implements Ledger.
func (m *MemoryLedger) RecordSpend(_ context.Context, scope models.QuotaScope, identifier string, at time.Time, amountUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daily[dayKey(scope, identifier, at)] += amountUSD
	m.month[monthKey(scope, identifier, at)] += amountUSD
	return nil
}
