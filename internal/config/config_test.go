package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

const validConfig = `
auth:
  proxy_api_key: secret-key
upstream:
  providers:
    - pattern: "claude-*"
      dialect: anthropic
      credentials_ref: ANTHROPIC_API_KEY
    - pattern: "gpt-*"
      dialect: openai
      credentials_ref: OPENAI_API_KEY
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Limits.MaxRequestBytes != defaultMaxRequestBytes {
		t.Errorf("MaxRequestBytes = %d, want %d", cfg.Limits.MaxRequestBytes, defaultMaxRequestBytes)
	}
	if cfg.Limits.StallThresholdMs != defaultStallThresholdMs {
		t.Errorf("StallThresholdMs = %d, want %d", cfg.Limits.StallThresholdMs, defaultStallThresholdMs)
	}
	if cfg.Queues.Capacity != defaultQueueCapacity {
		t.Errorf("Queues.Capacity = %d, want %d", cfg.Queues.Capacity, defaultQueueCapacity)
	}
	if cfg.Activity.RatePerSec != defaultActivityRate {
		t.Errorf("Activity.RatePerSec = %d, want %d", cfg.Activity.RatePerSec, defaultActivityRate)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, validConfig+"\nbogus_option: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadRequiresAuth(t *testing.T) {
	path := writeConfig(t, `
upstream:
  providers:
    - pattern: "claude-*"
      dialect: anthropic
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "proxy_api_key") {
		t.Fatalf("expected proxy_api_key error, got %v", err)
	}
}

func TestLoadRequiresAtLeastOneProvider(t *testing.T) {
	path := writeConfig(t, `
auth:
  proxy_api_key: secret-key
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "providers") {
		t.Fatalf("expected providers error, got %v", err)
	}
}

func TestLoadRequiresProviderDialect(t *testing.T) {
	path := writeConfig(t, `
auth:
  proxy_api_key: secret-key
upstream:
  providers:
    - pattern: "claude-*"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "dialect") {
		t.Fatalf("expected dialect error, got %v", err)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(basePath, []byte(strings.TrimSpace(`
auth:
  proxy_api_key: secret-key
`)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	mainPath := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(mainPath, []byte(strings.TrimSpace(`
$include: base.yaml
upstream:
  providers:
    - pattern: "claude-*"
      dialect: anthropic
`)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.ProxyAPIKey != "secret-key" {
		t.Errorf("ProxyAPIKey = %q, want %q (from include)", cfg.Auth.ProxyAPIKey, "secret-key")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("GATEWAY_TEST_KEY", "from-env")
	path := writeConfig(t, `
auth:
  proxy_api_key: ${GATEWAY_TEST_KEY}
upstream:
  providers:
    - pattern: "claude-*"
      dialect: anthropic
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.ProxyAPIKey != "from-env" {
		t.Errorf("ProxyAPIKey = %q, want %q", cfg.Auth.ProxyAPIKey, "from-env")
	}
}
