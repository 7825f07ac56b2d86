package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arcbridge/agentcore/internal/auditlog"
	"github.com/arcbridge/agentcore/internal/circuitbreaker"
	"github.com/arcbridge/agentcore/internal/costpredictor"
	"github.com/arcbridge/agentcore/internal/events"
	"github.com/arcbridge/agentcore/internal/health"
	"github.com/arcbridge/agentcore/internal/hybridrouter"
	"github.com/arcbridge/agentcore/internal/learningloop"
	"github.com/arcbridge/agentcore/internal/logging"
	"github.com/arcbridge/agentcore/internal/metrics"
	"github.com/arcbridge/agentcore/internal/moerouter"
	"github.com/arcbridge/agentcore/internal/perftracker"
	"github.com/arcbridge/agentcore/internal/providermetrics"
	"github.com/arcbridge/agentcore/internal/quota"
	"github.com/arcbridge/agentcore/internal/ratelimit"
	"github.com/arcbridge/agentcore/internal/registry"
	"github.com/arcbridge/agentcore/internal/store"
	"github.com/arcbridge/agentcore/internal/swarm"
	"github.com/arcbridge/agentcore/internal/telemetry"
	"github.com/arcbridge/agentcore/internal/temporal"
	"github.com/arcbridge/agentcore/internal/tracing"
	"github.com/arcbridge/agentcore/internal/tsdb"
)

// Core wires every orchestration component (C1-C13) into one value an
// enveloping service constructs once at startup. Nothing here is an HTTP
// handler or transport wrapper — Core exposes the components directly
// for a caller's own request path to drive.
type Core struct {
	Config Config
	Logger *slog.Logger

	Registry      *registry.Registry
	CostPredictor *costpredictor.Predictor
	PerfTracker   *perftracker.Tracker
	ProviderStats *providermetrics.Collector
	Breakers      *circuitbreaker.Manager
	Health        *health.Tracker
	RateLimiter   *ratelimit.Limiter
	Quota         *quota.Service
	Bandit        *learningloop.Bandit
	Learning      *learningloop.Loop
	HybridRouter  *hybridrouter.Router
	MoERouter     *moerouter.Router
	Swarm         *swarm.Coordinator
	AuditLog      *auditlog.Logger
	Events        *events.Bus
	Metrics       *metrics.Registry
	Telemetry     *telemetry.Bus

	// Store is the optional durable mirror; nil unless NewCore was given a
	// non-empty dsn. TracingShutdown flushes pending OTel spans. TSDB shares the
	// same database handle as Store and mirrors ProviderStats samples
	// across restarts; the caller is responsible for calling
	// TSDB.WriteProviderSample alongside every ProviderStats.Record, since
	// Collector has no write hook of its own to piggyback on.
	Store           store.Store
	TSDB            *tsdb.Store
	TracingShutdown func(context.Context) error
	Temporal        *temporal.Manager
}

// NewCore assembles a Core from cfg. executor drives actual subtask
// execution for the Swarm Coordinator; it is supplied by the caller
// because only the caller knows how to dispatch a SubTask to a model.
func NewCore(ctx context.Context, cfg Config, executor swarm.Executor, dsn string) (*Core, error) {
	logger := logging.Setup(cfg.LogLevel)

	shutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing setup: %w", err)
	}

	var metricsReg *metrics.Registry
	if cfg.MetricsEnabled {
		metricsReg = metrics.New()
	}
	eventBus := events.NewBus()
	telemetryBus := telemetry.New(metricsReg, eventBus)

	reg, err := registry.LoadFromFile(cfg.ModelCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load model catalog: %w", err)
	}

	var durableStore store.Store
	var tsdbStore *tsdb.Store
	var perfSeeder perftracker.Seeder
	var ledger quota.Ledger = quota.NewMemoryLedger()
	var auditStore auditlog.Store = auditlog.NewMemoryStore()
	if dsn != "" {
		sqliteStore, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, fmt.Errorf("open durable store: %w", err)
		}
		if err := sqliteStore.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate durable store: %w", err)
		}
		durableStore = sqliteStore
		ledger = sqliteStore
		auditStore = store.AuditLogAdapter{Store: sqliteStore}
		perfSeeder = store.PerfSeederAdapter{Store: sqliteStore}

		tsdbStore, err = tsdb.New(sqliteStore.DB())
		if err != nil {
			return nil, fmt.Errorf("open tsdb mirror: %w", err)
		}
	}

	perfOpts := []perftracker.Option{}
	if perfSeeder != nil {
		perfOpts = append(perfOpts, perftracker.WithSeeder(perfSeeder))
	}
	perfTracker := perftracker.New(perfOpts...)

	providerStats := providermetrics.NewCollector()
	if tsdbStore != nil {
		samples, err := tsdbStore.LoadProviderSamples(ctx, providerStats.Capacity())
		if err != nil {
			return nil, fmt.Errorf("load provider samples: %w", err)
		}
		providerStats.Seed(samples)
	}

	breakers := circuitbreaker.NewManager(
		circuitbreaker.WithThreshold(cfg.BreakerFailureThreshold),
		circuitbreaker.WithRetryTimeout(cfg.BreakerRetryTimeout),
	)
	healthTracker := health.NewTracker(health.DefaultConfig(), health.WithEventBus(eventBus))

	var rateLimitOpts []ratelimit.Option
	if metricsReg != nil {
		rateLimitOpts = append(rateLimitOpts, ratelimit.WithCounter(metricsReg.RateLimitedTotal))
	}
	limiter := ratelimit.New(ratelimit.Limits{
		RequestsPerMinute: cfg.RateLimitRequestsPerMinute,
		RequestsPerHour:   cfg.RateLimitRequestsPerHour,
		RequestsPerDay:    cfg.RateLimitRequestsPerDay,
		MaxConcurrent:     cfg.RateLimitMaxConcurrent,
	}, rateLimitOpts...)

	quotaSvc := quota.New(ledger, quota.WithRateLimiter(limiter), quota.WithTelemetry(telemetryBus))

	bandit := learningloop.NewBandit()
	if durableStore != nil {
		summaries, err := durableStore.RewardSummary(ctx)
		if err != nil {
			return nil, fmt.Errorf("load reward summary: %w", err)
		}
		for _, s := range summaries {
			bandit.Seed(s.ModelID, s.TokenBucket, s.Count, s.SumReward)
		}
	}
	learningLoop := learningloop.New(learningloop.WithBandit(bandit), learningloop.WithTelemetry(telemetryBus))

	costPredictor := costpredictor.New()

	moe := moerouter.New(reg, costPredictor, perfTracker, learningLoop,
		moerouter.WithCircuitBreakers(breakers),
		moerouter.WithHealthTracker(healthTracker),
		moerouter.WithTelemetry(telemetryBus))

	hybrid := hybridrouter.New(moe, reg).WithTelemetry(telemetryBus)

	swarmCoordinator := swarm.New(executor,
		swarm.WithMaxParallelAgents(cfg.SwarmMaxParallelAgents),
		swarm.WithTelemetry(telemetryBus))

	auditRetention := auditlog.RetentionFromDays(cfg.AuditRetentionDays)
	auditLogger := auditlog.New(auditStore,
		auditlog.WithRetention(auditRetention),
		auditlog.WithHighCostSpikeUSD(cfg.AuditHighCostSpikeUSD),
		auditlog.WithRapidFailureCount(cfg.AuditRapidFailureCount))

	var temporalMgr *temporal.Manager
	if cfg.TemporalEnabled {
		acts := &temporal.Activities{Executor: executor}
		temporalMgr, err = temporal.New(temporal.Config{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			TaskQueue: cfg.TemporalTaskQueue,
		}, acts)
		if err != nil {
			return nil, fmt.Errorf("temporal manager: %w", err)
		}
	}

	return &Core{
		Config:          cfg,
		Logger:          logger,
		Registry:        reg,
		CostPredictor:   costPredictor,
		PerfTracker:     perfTracker,
		ProviderStats:   providerStats,
		Breakers:        breakers,
		Health:          healthTracker,
		RateLimiter:     limiter,
		Quota:           quotaSvc,
		Bandit:          bandit,
		Learning:        learningLoop,
		HybridRouter:    hybrid,
		MoERouter:       moe,
		Swarm:           swarmCoordinator,
		AuditLog:        auditLogger,
		Events:          eventBus,
		Metrics:         metricsReg,
		Telemetry:       telemetryBus,
		Store:           durableStore,
		TSDB:            tsdbStore,
		TracingShutdown: shutdown,
		Temporal:        temporalMgr,
	}, nil
}

// Close releases background resources: the rate limiter's cleanup
// goroutine, the tracing exporter, the Temporal worker (if started), and
// the durable store's database handle.
func (c *Core) Close(ctx context.Context) error {
	c.RateLimiter.Stop()
	if c.TracingShutdown != nil {
		if err := c.TracingShutdown(ctx); err != nil {
			return fmt.Errorf("tracing shutdown: %w", err)
		}
	}
	if c.Temporal != nil {
		c.Temporal.Stop()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			return fmt.Errorf("close durable store: %w", err)
		}
	}
	return nil
}
