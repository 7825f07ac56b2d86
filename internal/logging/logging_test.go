package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestRedactingHandlerRedactsKeyLikeAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	logger.Info("test",
		slog.String("x-api-key", "my-key"),
		slog.String("method", "POST"),
	)

	output := buf.String()
	if strings.Contains(output, "my-key") {
		t.Error("x-api-key value should be redacted")
	}
	if !strings.Contains(output, "[REDACTED]") {
		t.Error("expected [REDACTED] placeholder")
	}
	if !strings.Contains(output, "POST") {
		t.Error("non-sensitive values should be preserved")
	}
}

func TestRedactingHandlerRedactsBody(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	logger.Info("test", slog.String("body", `{"messages":[{"role":"user","content":"secret stuff"}]}`))

	output := buf.String()
	if strings.Contains(output, "secret stuff") {
		t.Error("request body should be redacted")
	}
}

func TestRedactingHandlerRedactsKeys(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	logger.Info("test",
		slog.String("api_key", "sk-12345"),
		slog.String("password", "hunter2"),
		slog.String("secret_token", "abc"),
	)

	output := buf.String()
	if strings.Contains(output, "sk-12345") {
		t.Error("api_key value should be redacted")
	}
	if strings.Contains(output, "hunter2") {
		t.Error("password value should be redacted")
	}
	if strings.Contains(output, "abc") {
		t.Error("secret_token value should be redacted")
	}
}

func TestRedactingHandlerPreservesNonSensitive(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	logger.Info("test",
		slog.String("path", "/v1/chat"),
		slog.Int("status", 200),
	)

	output := buf.String()
	if !strings.Contains(output, "/v1/chat") {
		t.Error("path should be preserved")
	}
	if !strings.Contains(output, "200") {
		t.Error("status should be preserved")
	}
}

func TestRedactingHandlerEnabled(t *testing.T) {
	base := slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	handler := &RedactingHandler{base: base}

	if handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should not be enabled when level is warn")
	}
	if !handler.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be enabled")
	}
}

func TestSetupReturnsLogger(t *testing.T) {
	logger := Setup("info")
	if logger == nil {
		t.Error("expected non-nil logger")
	}
}

// --- Redacting handler: additional sensitive attribute name tests ---

func TestRedactingHandler_TokenAttribute(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	logger.Info("test",
		slog.String("token", "eyJhbGciOiJIUzI1NiJ9.payload.signature"),
		slog.String("access_token", "at-abc123"),
		slog.String("refresh_token", "rt-xyz789"),
	)

	output := buf.String()
	if strings.Contains(output, "eyJhbGciOiJIUzI1NiJ9") {
		t.Error("token value should be redacted")
	}
	if strings.Contains(output, "at-abc123") {
		t.Error("access_token value should be redacted")
	}
	if strings.Contains(output, "rt-xyz789") {
		t.Error("refresh_token value should be redacted")
	}
}

func TestRedactingHandler_RequestBodyVariants(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	logger.Info("test",
		slog.String("request_body", "sensitive request data"),
		slog.String("req_body", "more sensitive data"),
	)

	output := buf.String()
	if strings.Contains(output, "sensitive request data") {
		t.Error("request_body value should be redacted")
	}
	if strings.Contains(output, "more sensitive data") {
		t.Error("req_body value should be redacted")
	}
}

func TestRedactingHandler_SecretAndPasswordVariants(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	logger.Info("test",
		slog.String("client_secret", "cs-secret-value"),
		slog.String("db_password", "p@ssw0rd!"),
		slog.String("api_key_id", "key-id-value"),
	)

	output := buf.String()
	if strings.Contains(output, "cs-secret-value") {
		t.Error("client_secret value should be redacted")
	}
	if strings.Contains(output, "p@ssw0rd!") {
		t.Error("db_password value should be redacted")
	}
	if strings.Contains(output, "key-id-value") {
		t.Error("api_key_id value should be redacted")
	}
}

// --- Edge case: very long attribute values ---

func TestRedactingHandler_VeryLongAttributeValue(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	// A very long non-sensitive value should be preserved as-is.
	longValue := strings.Repeat("a", 10000)
	logger.Info("test", slog.String("description", longValue))

	output := buf.String()
	if !strings.Contains(output, longValue) {
		t.Error("long non-sensitive value should be preserved")
	}
}

func TestRedactingHandler_VeryLongSensitiveValue(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	// A very long sensitive value should be redacted, not leak partially.
	longSecret := strings.Repeat("s", 10000)
	logger.Info("test", slog.String("api_key", longSecret))

	output := buf.String()
	if strings.Contains(output, longSecret) {
		t.Error("long sensitive value should be redacted")
	}
	if !strings.Contains(output, "[REDACTED]") {
		t.Error("expected [REDACTED] placeholder for long sensitive value")
	}
}

// --- WithAttrs and WithGroup ---

func TestRedactingHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}

	// WithAttrs should also redact sensitive attributes.
	childHandler := handler.WithAttrs([]slog.Attr{
		slog.String("api_key", "leaked-token"),
		slog.String("method", "GET"),
	})
	logger := slog.New(childHandler)
	logger.Info("request")

	output := buf.String()
	if strings.Contains(output, "leaked-token") {
		t.Error("api_key in WithAttrs should be redacted")
	}
	if !strings.Contains(output, "GET") {
		t.Error("non-sensitive WithAttrs value should be preserved")
	}
}

func TestRedactingHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}

	groupHandler := handler.WithGroup("request")
	logger := slog.New(groupHandler)
	logger.Info("test", slog.String("path", "/api/v1"))

	output := buf.String()
	if !strings.Contains(output, "request") {
		t.Error("group name should appear in output")
	}
	if !strings.Contains(output, "/api/v1") {
		t.Error("attribute within group should be preserved")
	}
}

// --- SetLevel tests ---

func TestSetLevel_AllLevels(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},           // default
		{"unknown", slog.LevelInfo},    // default for unrecognized
		{"DEBUG", slog.LevelInfo},      // case-sensitive, so defaults to info
		{"WARN", slog.LevelInfo},       // case-sensitive, so defaults to info
	}

	for _, tc := range tests {
		t.Run("level_"+tc.input, func(t *testing.T) {
			SetLevel(tc.input)
			if globalLevel.Level() != tc.expected {
				t.Errorf("SetLevel(%q): got %v, want %v", tc.input, globalLevel.Level(), tc.expected)
			}
		})
	}
}

func TestSetLevel_DynamicChange(t *testing.T) {
	// Verify that changing the level dynamically actually takes effect.
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: globalLevel})
	handler := &RedactingHandler{base: base}
	logger := slog.New(handler)

	// Set to error level: debug messages should be suppressed.
	SetLevel("error")
	logger.Debug("should-not-appear")
	if strings.Contains(buf.String(), "should-not-appear") {
		t.Error("debug message should not appear at error level")
	}

	// Change to debug level: debug messages should now appear.
	buf.Reset()
	SetLevel("debug")
	logger.Debug("should-appear")
	if !strings.Contains(buf.String(), "should-appear") {
		t.Error("debug message should appear at debug level")
	}
}
