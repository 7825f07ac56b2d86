package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arcbridge/agentcore/models"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle, for callers (e.g. internal/tsdb)
// that want to share the same database file for other tables.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS quota_spend (
			scope TEXT NOT NULL,
			identifier TEXT NOT NULL,
			day TEXT NOT NULL,
			amount_usd REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (scope, identifier, day)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quota_spend_month ON quota_spend(scope, identifier, day)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			log_id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_action TEXT NOT NULL,
			resource_type TEXT NOT NULL DEFAULT '',
			resource_id TEXT NOT NULL DEFAULT '',
			resource_name TEXT NOT NULL DEFAULT '',
			actor_id TEXT NOT NULL DEFAULT '',
			inputs_redacted TEXT NOT NULL DEFAULT '{}',
			outputs_redacted TEXT NOT NULL DEFAULT 'null',
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			trace_id TEXT NOT NULL DEFAULT '',
			span_id TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_actor ON audit_logs(actor_id)`,
		`CREATE TABLE IF NOT EXISTS reward_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			model_id TEXT NOT NULL,
			task_type TEXT NOT NULL,
			token_bucket TEXT NOT NULL,
			reward REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reward_logs_arm ON reward_logs(model_id, token_bucket)`,
		`CREATE TABLE IF NOT EXISTS performance_metrics (
			model_id TEXT NOT NULL,
			task_type TEXT NOT NULL,
			total_requests INTEGER NOT NULL DEFAULT 0,
			successful_requests INTEGER NOT NULL DEFAULT 0,
			failed_requests INTEGER NOT NULL DEFAULT 0,
			avg_latency_ms REAL,
			avg_cost REAL,
			avg_quality REAL,
			last_updated TEXT NOT NULL,
			PRIMARY KEY (model_id, task_type)
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Quota spend ledger (quota.Ledger backing).

func dayKey(t time.Time) string   { return t.UTC().Format("2006-01-02") }
func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }

func (s *SQLiteStore) DailySpend(ctx context.Context, scope models.QuotaScope, identifier string, day time.Time) (float64, error) {
	var amount float64
	err := s.db.QueryRowContext(ctx,
		`SELECT amount_usd FROM quota_spend WHERE scope = ? AND identifier = ? AND day = ?`,
		string(scope), identifier, dayKey(day)).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return amount, err
}

func (s *SQLiteStore) MonthlySpend(ctx context.Context, scope models.QuotaScope, identifier string, month time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(amount_usd) FROM quota_spend WHERE scope = ? AND identifier = ? AND day LIKE ?`,
		string(scope), identifier, monthKey(month)+"%").Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

func (s *SQLiteStore) RecordSpend(ctx context.Context, scope models.QuotaScope, identifier string, at time.Time, amountUSD float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_spend (scope, identifier, day, amount_usd) VALUES (?, ?, ?, ?)
		 ON CONFLICT(scope, identifier, day) DO UPDATE SET amount_usd = amount_usd + excluded.amount_usd`,
		string(scope), identifier, dayKey(at), amountUSD)
	return err
}

// Audit log (auditlog.Store backing).

func (s *SQLiteStore) AppendAudit(ctx context.Context, r models.AuditRecord) error {
	inputs, err := json.Marshal(r.InputsRedacted)
	if err != nil {
		return fmt.Errorf("marshal audit inputs: %w", err)
	}
	outputs, err := json.Marshal(r.OutputsRedacted)
	if err != nil {
		return fmt.Errorf("marshal audit outputs: %w", err)
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (log_id, timestamp, event_type, event_action, resource_type, resource_id,
		 resource_name, actor_id, inputs_redacted, outputs_redacted, status, error_message, request_id,
		 session_id, trace_id, span_id, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.LogID, r.Timestamp.UTC().Format(time.RFC3339Nano), r.EventType, r.EventAction,
		r.ResourceType, r.ResourceID, r.ResourceName, r.ActorID, string(inputs), string(outputs),
		r.Status, r.ErrorMessage, r.RequestID, r.SessionID, r.TraceID, r.SpanID, string(meta))
	return err
}

func (s *SQLiteStore) ListAudit(ctx context.Context, limit, offset int) ([]models.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT log_id, timestamp, event_type, event_action, resource_type, resource_id, resource_name,
		 actor_id, inputs_redacted, outputs_redacted, status, error_message, request_id, session_id,
		 trace_id, span_id, metadata
		 FROM audit_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		var ts, inputs, outputs, meta string
		if err := rows.Scan(&r.LogID, &ts, &r.EventType, &r.EventAction, &r.ResourceType, &r.ResourceID,
			&r.ResourceName, &r.ActorID, &inputs, &outputs, &r.Status, &r.ErrorMessage, &r.RequestID,
			&r.SessionID, &r.TraceID, &r.SpanID, &meta); err != nil {
			return nil, err
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if err := json.Unmarshal([]byte(inputs), &r.InputsRedacted); err != nil {
			return nil, fmt.Errorf("unmarshal audit inputs: %w", err)
		}
		if err := json.Unmarshal([]byte(outputs), &r.OutputsRedacted); err != nil {
			return nil, fmt.Errorf("unmarshal audit outputs: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE timestamp < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Reward samples (Learning Loop bandit seeding).

func (s *SQLiteStore) RecordReward(ctx context.Context, entry RewardEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reward_logs (timestamp, model_id, task_type, token_bucket, reward) VALUES (?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.ModelID, entry.TaskType, entry.TokenBucket, entry.Reward)
	return err
}

// Performance metrics (perftracker.Seeder backing).

func (s *SQLiteStore) LoadPerformanceMetrics(ctx context.Context) ([]models.PerformanceMetrics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, task_type, total_requests, successful_requests, failed_requests,
		 avg_latency_ms, avg_cost, avg_quality, last_updated FROM performance_metrics`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.PerformanceMetrics
	for rows.Next() {
		var m models.PerformanceMetrics
		var taskType, lastUpdated string
		var avgLatency, avgCost, avgQuality sql.NullFloat64
		if err := rows.Scan(&m.ModelID, &taskType, &m.TotalRequests, &m.SuccessfulRequests, &m.FailedRequests,
			&avgLatency, &avgCost, &avgQuality, &lastUpdated); err != nil {
			return nil, err
		}
		m.TaskType = models.TaskType(taskType)
		if avgLatency.Valid {
			m.AvgLatencyMs = &avgLatency.Float64
		}
		if avgCost.Valid {
			m.AvgCost = &avgCost.Float64
		}
		if avgQuality.Valid {
			m.AvgQuality = &avgQuality.Float64
		}
		m.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdated)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SavePerformanceMetrics(ctx context.Context, m models.PerformanceMetrics) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO performance_metrics (model_id, task_type, total_requests, successful_requests,
		 failed_requests, avg_latency_ms, avg_cost, avg_quality, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(model_id, task_type) DO UPDATE SET
		   total_requests=excluded.total_requests,
		   successful_requests=excluded.successful_requests,
		   failed_requests=excluded.failed_requests,
		   avg_latency_ms=excluded.avg_latency_ms,
		   avg_cost=excluded.avg_cost,
		   avg_quality=excluded.avg_quality,
		   last_updated=excluded.last_updated`,
		m.ModelID, string(m.TaskType), m.TotalRequests, m.SuccessfulRequests, m.FailedRequests,
		m.AvgLatencyMs, m.AvgCost, m.AvgQuality, m.LastUpdated.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) RewardSummary(ctx context.Context) ([]RewardSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, token_bucket, COUNT(*), SUM(reward) FROM reward_logs GROUP BY model_id, token_bucket`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []RewardSummary
	for rows.Next() {
		var r RewardSummary
		if err := rows.Scan(&r.ModelID, &r.TokenBucket, &r.Count, &r.SumReward); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
