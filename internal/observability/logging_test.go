package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LogConfig
	}{
		{name: "json format", config: LogConfig{Level: "info", Format: "json"}},
		{name: "text format", config: LogConfig{Level: "debug", Format: "text"}},
		{name: "defaults", config: LogConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
			if logger.logger == nil {
				t.Error("Logger.logger is nil")
			}
		})
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info(context.Background(), "processing transaction", "model", "claude-3-opus")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected valid JSON log line, got error: %v (line: %s)", err, buf.String())
	}
	if record["msg"] != "processing transaction" {
		t.Errorf("msg = %v, want %q", record["msg"], "processing transaction")
	}
	if record["model"] != "claude-3-opus" {
		t.Errorf("model = %v, want %q", record["model"], "claude-3-opus")
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	ctx := AddRequestID(context.Background(), "txn-123")
	ctx = AddSessionID(ctx, "sess-456")

	logger.WithContext(ctx).Info(ctx, "handled request")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if record["transaction_id"] != "txn-123" {
		t.Errorf("transaction_id = %v, want txn-123", record["transaction_id"])
	}
	if record["session_id"] != "sess-456" {
		t.Errorf("session_id = %v, want sess-456", record["session_id"])
	}
}

func TestRedactAPIKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info(context.Background(), "request failed", "header", "Authorization: Bearer sk-ant-"+strings.Repeat("a", 100))

	if strings.Contains(buf.String(), "sk-ant-") {
		t.Error("expected Anthropic API key to be redacted")
	}
	if !strings.Contains(buf.String(), "[REDACTED]") {
		t.Error("expected redaction marker in log output")
	}
}

func TestRedactMap(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info(context.Background(), "config loaded", "config", map[string]any{
		"proxy_api_key": "should-not-appear",
		"host":          "0.0.0.0",
	})

	if strings.Contains(buf.String(), "should-not-appear") {
		t.Error("expected sensitive map key to be redacted")
	}
	if !strings.Contains(buf.String(), "0.0.0.0") {
		t.Error("expected non-sensitive map key to survive")
	}
}

func TestGetRequestID(t *testing.T) {
	ctx := AddRequestID(context.Background(), "txn-789")
	if got := GetRequestID(ctx); got != "txn-789" {
		t.Errorf("GetRequestID() = %q, want %q", got, "txn-789")
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := map[string]string{
		"debug": "DEBUG", "info": "INFO", "warn": "WARN",
		"warning": "WARN", "error": "ERROR", "bogus": "INFO", "": "INFO",
	}
	for input, want := range tests {
		if got := LogLevelFromString(input).String(); got != want {
			t.Errorf("LogLevelFromString(%q) = %q, want %q", input, got, want)
		}
	}
}
