package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromBytes_Defaults(t *testing.T) {
	yaml := []byte(`
provider:
  model: "gpt-4o"
  api_key: "sk-test"
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Provider.Name != "openai" {
		t.Errorf("expected default provider openai, got %q", cfg.Provider.Name)
	}
	if cfg.Provider.Timeout() != 60*time.Second {
		t.Errorf("expected default provider timeout 60s, got %v", cfg.Provider.Timeout())
	}
	if cfg.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("expected default failure_threshold 5, got %d", cfg.CircuitBreaker.FailureThreshold)
	}
	if cfg.CircuitBreaker.RecoveryTimeout != 30*time.Second {
		t.Errorf("expected default recovery_timeout 30s, got %v", cfg.CircuitBreaker.RecoveryTimeout)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("expected default max_attempts 3, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.MinWait != 500*time.Millisecond {
		t.Errorf("expected default min_wait 500ms, got %v", cfg.Retry.MinWait)
	}
	if cfg.RateLimit.RequestsPerSecond != 10 {
		t.Errorf("expected default rps 10, got %f", cfg.RateLimit.RequestsPerSecond)
	}
	if cfg.Server.MaxBodyBytes != 1048576 {
		t.Errorf("expected default max_body_bytes 1048576, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadFromBytes_FullConfig(t *testing.T) {
	yaml := []byte(`
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 20s
  shutdown_timeout: 5s
  max_body_bytes: 2097152
provider:
  name: "anthropic"
  base_url: "https://llm.internal"
  model: "claude-sonnet-4-5"
  api_key: "key-1"
  timeout_ms: 45000
  max_tokens: 8192
  requests_per_second: 5
  burst: 10
circuit_breaker:
  failure_threshold: 7
  recovery_timeout: 20s
  half_open_max_calls: 3
  slow_call_threshold: 10s
  max_concurrent: 16
retry:
  max_attempts: 5
  min_wait: 250ms
  max_wait: 10s
rate_limit:
  requests_per_second: 200
  burst_size: 100
auth:
  enabled: true
  jwt_secret: "test-secret"
  issuer: "test-issuer"
  audience: "test-audience"
  scopes: ["copilot:analyze"]
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "test-secret" {
		t.Errorf("expected jwt_secret 'test-secret', got %q", cfg.Auth.JWTSecret)
	}
	p := cfg.Provider
	if p.Name != "anthropic" || p.Model != "claude-sonnet-4-5" {
		t.Errorf("unexpected provider: %+v", p)
	}
	if p.Timeout() != 45*time.Second {
		t.Errorf("expected timeout 45s, got %v", p.Timeout())
	}
	if p.RequestsPerSecond != 5 || p.Burst != 10 {
		t.Errorf("unexpected provider budget: %+v", p)
	}
	cb := cfg.CircuitBreaker
	if cb.FailureThreshold != 7 || cb.HalfOpenMaxCalls != 3 || cb.MaxConcurrent != 16 {
		t.Errorf("unexpected circuit breaker config: %+v", cb)
	}
	if cb.SlowCallThreshold != 10*time.Second {
		t.Errorf("expected slow_call_threshold 10s, got %v", cb.SlowCallThreshold)
	}
	r := cfg.Retry
	if r.MaxAttempts != 5 || r.MinWait != 250*time.Millisecond || r.MaxWait != 10*time.Second {
		t.Errorf("unexpected retry config: %+v", r)
	}
	if cfg.Server.MaxBodyBytes != 2097152 {
		t.Errorf("expected max_body_bytes 2097152, got %d", cfg.Server.MaxBodyBytes)
	}
}

func TestLoadFromBytes_EnvVarSubstitution(t *testing.T) {
	os.Setenv("TEST_PROVIDER_KEY", "env-key-value")
	defer os.Unsetenv("TEST_PROVIDER_KEY")

	yaml := []byte(`
provider:
  model: "gpt-4o"
  api_key: "${TEST_PROVIDER_KEY}"
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != "env-key-value" {
		t.Errorf("expected env var expansion, got %q", cfg.Provider.APIKey)
	}
}

func TestLoadFromBytes_UnresolvedEnvVarWarning(t *testing.T) {
	os.Unsetenv("NONEXISTENT_PROVIDER_KEY")

	yaml := []byte(`
provider:
  model: "gpt-4o"
  api_key: "${NONEXISTENT_PROVIDER_KEY}"
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, w := range cfg.Warnings {
		if strings.Contains(w, "unresolved environment variable") {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected warning about unresolved environment variable")
	}
}

func TestLoadFromBytes_EmptyAPIKeyWarning(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
provider:
  model: "gpt-4o"
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, w := range cfg.Warnings {
		if strings.Contains(w, "api_key is empty") {
			found = true
		}
	}
	if !found {
		t.Error("expected warning about empty api_key")
	}
}

func TestLoadFromBytes_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing model",
			yaml: `
provider:
  name: "openai"
`,
		},
		{
			name: "unknown provider",
			yaml: `
provider:
  name: "bedrock"
  model: "m"
`,
		},
		{
			name: "invalid port",
			yaml: `
server:
  port: 99999
provider:
  model: "gpt-4o"
`,
		},
		{
			name: "base_url with file scheme",
			yaml: `
provider:
  model: "gpt-4o"
  base_url: "file:///etc/passwd"
`,
		},
		{
			name: "temperature out of range",
			yaml: `
provider:
  model: "gpt-4o"
  temperature: 3.5
`,
		},
		{
			name: "zero failure threshold",
			yaml: `
provider:
  model: "gpt-4o"
circuit_breaker:
  failure_threshold: -1
`,
		},
		{
			name: "max_wait below min_wait",
			yaml: `
provider:
  model: "gpt-4o"
retry:
  min_wait: 10s
  max_wait: 1s
`,
		},
		{
			name: "auth enabled without secret",
			yaml: `
provider:
  model: "gpt-4o"
auth:
  enabled: true
  issuer: "iss"
  audience: "aud"
`,
		},
		{
			name: "auth enabled without issuer",
			yaml: `
provider:
  model: "gpt-4o"
auth:
  enabled: true
  jwt_secret: "secret"
  audience: "aud"
`,
		},
		{
			name: "auth enabled without audience",
			yaml: `
provider:
  model: "gpt-4o"
auth:
  enabled: true
  jwt_secret: "secret"
  issuer: "iss"
`,
		},
		{
			name: "admin enabled without allowlist",
			yaml: `
provider:
  model: "gpt-4o"
admin:
  enabled: true
`,
		},
		{
			name: "admin with bad CIDR",
			yaml: `
provider:
  model: "gpt-4o"
admin:
  enabled: true
  ip_allowlist: ["not-a-cidr"]
`,
		},
		{
			name: "bad log level",
			yaml: `
provider:
  model: "gpt-4o"
logging:
  level: "verbose"
`,
		},
		{
			name: "negative max_body_bytes",
			yaml: `
server:
  max_body_bytes: -1
provider:
  model: "gpt-4o"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_FromFile(t *testing.T) {
	content := `
provider:
  name: "openai"
  model: "gpt-4o"
  api_key: "sk-test"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.Model != "gpt-4o" {
		t.Errorf("expected gpt-4o, got %q", cfg.Provider.Model)
	}
}

func TestProviderConfig_Timeout(t *testing.T) {
	p := ProviderConfig{TimeoutMs: 5000}
	if p.Timeout().Milliseconds() != 5000 {
		t.Errorf("expected 5000ms, got %dms", p.Timeout().Milliseconds())
	}

	p2 := ProviderConfig{TimeoutMs: 0}
	if p2.Timeout().Seconds() != 60 {
		t.Errorf("expected 60s default, got %v", p2.Timeout())
	}
}
