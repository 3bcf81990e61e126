package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/ashita-ai/kaizen/internal/model"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "high")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-numeric value, got nil")
	}
	if got := err.Error(); got != `TEST_FLOAT_BAD="high" is not a valid number` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " personalization, ,research_enhancement ")
	got := envList("TEST_LIST")
	if len(got) != 2 || got[0] != "personalization" || got[1] != "research_enhancement" {
		t.Fatalf("unexpected list: %v", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.MaxConcurrentAgents != 3 {
		t.Fatalf("expected default concurrency 3, got %d", cfg.MaxConcurrentAgents)
	}
	if cfg.DegradeThreshold != 0.15 || cfg.CriticalThreshold != 0.30 {
		t.Fatalf("unexpected thresholds: %v/%v", cfg.DegradeThreshold, cfg.CriticalThreshold)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("KAIZEN_PORT", "abc")
	t.Setenv("KAIZEN_AGENT_TIMEOUT", "soon")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "KAIZEN_PORT") || !strings.Contains(got, "KAIZEN_AGENT_TIMEOUT") {
		t.Fatalf("error should mention both variables, got: %s", got)
	}
}

func TestValidateReturnsConfigurationError(t *testing.T) {
	t.Setenv("KAIZEN_MAX_CONCURRENT_AGENTS", "0")
	_, err := Load()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	var cfgErr *model.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T: %v", err, err)
	}
	if cfgErr.Field != "KAIZEN_MAX_CONCURRENT_AGENTS" {
		t.Fatalf("unexpected field: %s", cfgErr.Field)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("KAIZEN_DEGRADE_THRESHOLD", "0.4")
	t.Setenv("KAIZEN_CRITICAL_THRESHOLD", "0.3")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "KAIZEN_DEGRADE_THRESHOLD") {
		t.Fatalf("expected threshold validation error, got %v", err)
	}
}

func TestValidateRejectsUnknownDisabledAgent(t *testing.T) {
	t.Setenv("KAIZEN_DISABLED_AGENTS", "pattern_discovery,bogus")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), `"bogus"`) {
		t.Fatalf("expected unknown agent error, got %v", err)
	}
}

func TestValidateUnknownBackend(t *testing.T) {
	t.Setenv("KAIZEN_STORAGE", "cassandra")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown storage backend")
	}
}

func TestValidateTelemetrySettings(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"OTEL_TRACES_SAMPLER_ARG", "1.5"},
		{"OTEL_TRACES_SAMPLER_ARG", "-0.1"},
		{"OTEL_METRIC_EXPORT_INTERVAL", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Fatalf("expected %s validation error, got %v", tt.key, err)
			}
		})
	}
}
