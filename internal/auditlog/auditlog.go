// Package auditlog implements the Audit Logger (C12): a record of every
// tool/model invocation, with mandatory PII redaction of inputs and
// outputs before a record is ever persisted, retention-based cleanup,
// JSON/CSV export, and suspicious-pattern annotation (cost spikes, rapid
// consecutive failures by the same actor) at write time. Records are not
// hash-chained or signed, so a change made directly in the backing Store
// is not detectable from the log itself.
package auditlog

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcbridge/agentcore/internal/tracing"
	"github.com/arcbridge/agentcore/models"
)

const redactionMarker = "[REDACTED]"

// recentWindow bounds how many of the most recent records per actor are
// consulted for rapid-failure detection.
const recentWindow = 10

var (
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern  = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	ssnPattern    = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	ccPattern     = regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)
	secretPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|bearer)[\s:=]+([A-Za-z0-9_\-.]{12,})`)

	piiPatterns = []*regexp.Regexp{emailPattern, phonePattern, ssnPattern, ccPattern, secretPattern}
)

// detectPII reports whether s matches any known PII/secret pattern.
func detectPII(s string) bool {
	for _, p := range piiPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// redactString replaces every PII/secret match in s with the redaction
// marker, preserving the matched key name for the secret-token pattern
// (e.g. "api_key=[REDACTED]" rather than deleting the key entirely).
func redactString(s string) string {
	s = emailPattern.ReplaceAllString(s, redactionMarker)
	s = phonePattern.ReplaceAllString(s, redactionMarker)
	s = ssnPattern.ReplaceAllString(s, redactionMarker)
	s = ccPattern.ReplaceAllString(s, redactionMarker)
	s = secretPattern.ReplaceAllString(s, "$1="+redactionMarker)
	return s
}

// redactValue recursively redacts strings nested in maps and slices,
// leaving other scalar types untouched.
func redactValue(v any) any {
	switch t := v.(type) {
	case string:
		return redactString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = redactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(val)
		}
		return out
	default:
		return v
	}
}

// containsPII reports whether v (or anything nested inside it) matches a
// PII/secret pattern; it walks the same shapes redactValue does.
func containsPII(v any) bool {
	switch t := v.(type) {
	case string:
		return detectPII(t)
	case map[string]any:
		for _, val := range t {
			if containsPII(val) {
				return true
			}
		}
		return false
	case []any:
		for _, val := range t {
			if containsPII(val) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Entry is the input to Log: everything the caller knows about one tool
// or model-invocation event, prior to redaction.
type Entry struct {
	EventType    string
	EventAction  string
	ResourceType string
	ResourceID   string
	ResourceName string
	ActorID      string
	Inputs       map[string]any
	Outputs      any
	Success      bool
	ErrorMessage string
	CostUSD      *float64
	DurationMs   *int64
	Provider     string
	RequestID    string
	SessionID    string
}

// Store persists AuditRecords. The in-memory implementation is always
// authoritative for suspicious-pattern detection within a process; a
// durable Store (e.g. SQLite-backed) MAY mirror records for querying
// across restarts.
type Store interface {
	Append(models.AuditRecord) error
	All() ([]models.AuditRecord, error)
	DeleteBefore(cutoff time.Time) (int, error)
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records []models.AuditRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(r models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *MemoryStore) All() ([]models.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AuditRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *MemoryStore) DeleteBefore(cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	deleted := 0
	for _, r := range m.records {
		if r.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

// Retention is a named log-retention policy.
type Retention int

const (
	Retention7Days Retention = iota
	Retention30Days
	Retention90Days
	Retention365Days
	RetentionIndefinite
)

// cutoff returns the time before which records under this policy may be
// deleted, or the zero time if the policy never expires records.
func (r Retention) cutoff(now time.Time) time.Time {
	switch r {
	case Retention7Days:
		return now.AddDate(0, 0, -7)
	case Retention30Days:
		return now.AddDate(0, 0, -30)
	case Retention90Days:
		return now.AddDate(0, 0, -90)
	case Retention365Days:
		return now.AddDate(0, 0, -365)
	default:
		return time.Time{}
	}
}

// RetentionFromDays maps a day count (as configured by Config) onto the
// closest named Retention policy; 0 or negative means indefinite.
func RetentionFromDays(days int) Retention {
	switch {
	case days <= 0:
		return RetentionIndefinite
	case days <= 7:
		return Retention7Days
	case days <= 30:
		return Retention30Days
	case days <= 90:
		return Retention90Days
	default:
		return Retention365Days
	}
}

// Logger is the Audit Logger (C12): it redacts, annotates, and persists
// one AuditRecord per Log call.
type Logger struct {
	store     Store
	retention Retention

	enablePII        bool
	enableSuspicious bool
	highCostSpikeUSD float64
	rapidFailures    int

	nowFunc func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithRetention sets the retention policy; default is Retention90Days.
func WithRetention(r Retention) Option {
	return func(l *Logger) { l.retention = r }
}

// WithPIIDetection toggles PII detection/redaction; default true.
func WithPIIDetection(enabled bool) Option {
	return func(l *Logger) { l.enablePII = enabled }
}

// WithSuspiciousDetection toggles suspicious-pattern annotation; default true.
func WithSuspiciousDetection(enabled bool) Option {
	return func(l *Logger) { l.enableSuspicious = enabled }
}

// WithHighCostSpikeUSD sets the cost threshold (in USD) above which a
// single event is flagged as a high-cost-spike; default 1.0.
func WithHighCostSpikeUSD(usd float64) Option {
	return func(l *Logger) { l.highCostSpikeUSD = usd }
}

// WithRapidFailureCount sets how many recent consecutive failures by the
// same actor trigger a rapid-failures flag; default 5.
func WithRapidFailureCount(n int) Option {
	return func(l *Logger) { l.rapidFailures = n }
}

// WithNow overrides the clock; intended for tests.
func WithNow(fn func() time.Time) Option {
	return func(l *Logger) { l.nowFunc = fn }
}

// New creates a Logger backed by store.
func New(store Store, opts ...Option) *Logger {
	l := &Logger{
		store:            store,
		retention:        Retention90Days,
		enablePII:        true,
		enableSuspicious: true,
		highCostSpikeUSD: 1.0,
		rapidFailures:    5,
		nowFunc:          time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log records one tool/model-invocation event. Inputs and outputs are
// PII-redacted before the record is handed to the Store; nothing
// unredacted is ever persisted. The returned record's LogID is an opaque
// random identifier, not derived from its content.
func (l *Logger) Log(ctx context.Context, e Entry) (models.AuditRecord, error) {
	ctx, end := tracing.StartSpan(ctx, "auditlog", "Log")
	defer end()

	piiDetected := false
	inputs := any(e.Inputs)
	outputs := e.Outputs
	if l.enablePII {
		piiDetected = containsPII(inputs) || containsPII(outputs)
		if piiDetected {
			inputs = redactValue(inputs)
			outputs = redactValue(outputs)
		}
	}

	inputsRedacted, _ := inputs.(map[string]any)
	if inputsRedacted == nil {
		inputsRedacted = map[string]any{}
	}

	status := "success"
	if !e.Success {
		status = "failure"
	}

	rec := models.AuditRecord{
		LogID:           uuid.NewString(),
		Timestamp:       l.nowFunc(),
		EventType:       e.EventType,
		EventAction:     e.EventAction,
		ResourceType:    e.ResourceType,
		ResourceID:      e.ResourceID,
		ResourceName:    e.ResourceName,
		ActorID:         e.ActorID,
		InputsRedacted:  inputsRedacted,
		OutputsRedacted: outputs,
		Status:          status,
		ErrorMessage:    e.ErrorMessage,
		RequestID:       e.RequestID,
		SessionID:       e.SessionID,
		Metadata: models.AuditMetadata{
			CostUSD:     e.CostUSD,
			DurationMs:  e.DurationMs,
			Provider:    e.Provider,
			PIIDetected: piiDetected,
			PIIRedacted: piiDetected,
		},
	}
	if sc := spanContext(ctx); sc != nil {
		rec.TraceID, rec.SpanID = sc[0], sc[1]
	}

	if l.enableSuspicious {
		rec.Metadata.SuspiciousPatterns = l.detectSuspiciousPatterns(e)
	}

	if err := l.store.Append(rec); err != nil {
		return models.AuditRecord{}, fmt.Errorf("auditlog: append: %w", err)
	}
	return rec, nil
}

// spanContext extracts (trace id, span id) from ctx's active OTel span,
// or nil if there is none. Isolated behind this indirection so Logger
// does not import go.opentelemetry.io/otel/trace directly for a type it
// only ever stores as two strings.
func spanContext(ctx context.Context) []string {
	sc := tracing.SpanContextFromContext(ctx)
	if sc == nil {
		return nil
	}
	return sc
}

// detectSuspiciousPatterns annotates a record with cost-spike and
// rapid-failure flags based on e and the actor's recent history.
func (l *Logger) detectSuspiciousPatterns(e Entry) []string {
	var patterns []string
	if e.CostUSD != nil && *e.CostUSD > l.highCostSpikeUSD {
		patterns = append(patterns, "high_cost_spike")
	}
	if !e.Success && l.recentFailureCount(e.ActorID) >= l.rapidFailures-1 {
		patterns = append(patterns, "rapid_failures")
	}
	return patterns
}

// recentFailureCount counts actorID's consecutive failures, newest first,
// among that actor's most recent recentWindow records, stopping at the
// actor's latest success. It is used to detect a rapid-failures streak as
// the (n-1)th prior failure plus the event currently being logged.
func (l *Logger) recentFailureCount(actorID string) int {
	if actorID == "" {
		return 0
	}
	all, err := l.store.All()
	if err != nil || len(all) == 0 {
		return 0
	}
	count, seen := 0, 0
	for i := len(all) - 1; i >= 0 && seen < recentWindow; i-- {
		r := all[i]
		if r.ActorID != actorID {
			continue
		}
		seen++
		if r.Status != "failure" {
			break
		}
		count++
	}
	return count
}

// Query filters are applied in AND; zero values mean "no filter" except
// for Limit, where 0 means the default of 100.
type Query struct {
	ActorID        string
	EventType      string
	Since          time.Time
	Until          time.Time
	SuccessOnly    *bool
	SuspiciousOnly bool
	Limit          int
}

// Query returns matching records, most recent first.
func (l *Logger) Query(q Query) ([]models.AuditRecord, error) {
	all, err := l.store.All()
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []models.AuditRecord
	for _, r := range all {
		if q.ActorID != "" && r.ActorID != q.ActorID {
			continue
		}
		if q.EventType != "" && r.EventType != q.EventType {
			continue
		}
		if !q.Since.IsZero() && r.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && r.Timestamp.After(q.Until) {
			continue
		}
		if q.SuccessOnly != nil {
			wantSuccess := *q.SuccessOnly
			if (r.Status == "success") != wantSuccess {
				continue
			}
		}
		if q.SuspiciousOnly && len(r.Metadata.SuspiciousPatterns) == 0 {
			continue
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Cleanup deletes records older than the configured retention policy and
// returns how many were removed. A RetentionIndefinite policy never
// deletes anything.
func (l *Logger) Cleanup() (int, error) {
	cutoff := l.retention.cutoff(l.nowFunc())
	if cutoff.IsZero() {
		return 0, nil
	}
	return l.store.DeleteBefore(cutoff)
}

// ExportFormat names a supported Export output encoding.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// Export renders the result of Query(q) as JSON or CSV.
func (l *Logger) Export(q Query, format ExportFormat) ([]byte, error) {
	records, err := l.Query(q)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportJSON:
		return json.MarshalIndent(records, "", "  ")
	case ExportCSV:
		return exportCSV(records)
	default:
		return nil, fmt.Errorf("auditlog: unsupported export format %q", format)
	}
}

func exportCSV(records []models.AuditRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"log_id", "timestamp", "event_type", "event_action",
		"resource_type", "resource_id", "resource_name", "actor_id",
		"status", "error_message", "request_id", "session_id",
		"trace_id", "span_id", "cost_usd", "duration_ms", "provider",
		"pii_detected", "pii_redacted", "suspicious_patterns",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, r := range records {
		row := []string{
			r.LogID,
			r.Timestamp.UTC().Format(time.RFC3339),
			r.EventType,
			r.EventAction,
			r.ResourceType,
			r.ResourceID,
			r.ResourceName,
			r.ActorID,
			r.Status,
			r.ErrorMessage,
			r.RequestID,
			r.SessionID,
			r.TraceID,
			r.SpanID,
			floatOrEmpty(r.Metadata.CostUSD),
			intOrEmpty(r.Metadata.DurationMs),
			r.Metadata.Provider,
			strconv.FormatBool(r.Metadata.PIIDetected),
			strconv.FormatBool(r.Metadata.PIIRedacted),
			fmt.Sprint(r.Metadata.SuspiciousPatterns),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func floatOrEmpty(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func intOrEmpty(i *int64) string {
	if i == nil {
		return ""
	}
	return strconv.FormatInt(*i, 10)
}
