package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Fatal("expected error for invalid format")
	}
}

func TestLogger_AddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := WithTenant(context.Background(), "acme")
	ctx = WithOperationID(ctx, "op-42")
	ctx = WithDomain(ctx, "example.com")
	logger.InfoContext(ctx, "publishing configuration", "files", 1)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("invalid json output %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"tenant_id":    "acme",
		"operation_id": "op-42",
		"domain":       "example.com",
		"msg":          "publishing configuration",
	} {
		if line[key] != want {
			t.Errorf("%s = %v, want %q", key, line[key], want)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Level: "warn", Format: "text", Writer: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestRedactor(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{name: "sensitive key", key: "dns_api_token", value: "abc123", want: "***"},
		{name: "dsn password", key: "dsn", value: "postgres://app:hunter2@db:5432/netpilot", want: "postgres://app:***@db:5432/netpilot"},
		{name: "bearer", key: "header", value: "Bearer eyJhbGciOi", want: "Bearer ***"},
		{name: "plain", key: "domain", value: "example.com", want: "example.com"},
	}

	var buf bytes.Buffer
	logger, _ := New(Config{Format: "json", Redact: true, Writer: &buf})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			logger.Info("test", tt.key, tt.value)

			var line map[string]any
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if line[tt.key] != tt.want {
				t.Errorf("%s = %v, want %q", tt.key, line[tt.key], tt.want)
			}
		})
	}
}
