package config

import "testing"

func FuzzLoadFromBytes(f *testing.F) {
	// Seed corpus: valid configs
	f.Add([]byte(`
provider:
  model: "gpt-4o"
  api_key: "sk-test"
`))
	f.Add([]byte(`
server:
  port: 9090
provider:
  name: "anthropic"
  model: "claude-sonnet-4-5"
  base_url: "https://llm.internal"
  timeout_ms: 45000
auth:
  enabled: true
  jwt_secret: "secret"
  issuer: "iss"
  audience: "aud"
circuit_breaker:
  failure_threshold: 5
  recovery_timeout: 30s
retry:
  max_attempts: 3
  min_wait: 500ms
  max_wait: 30s
`))

	// Edge cases
	f.Add([]byte(``))
	f.Add([]byte(`provider: {}`))
	f.Add([]byte(`server: { port: 0 }`))
	f.Add([]byte(`provider: { model: "m", temperature: 0.0 }`))

	f.Fuzz(func(t *testing.T, data []byte) {
		// LoadFromBytes must never panic regardless of input.
		cfg, err := LoadFromBytes(data)
		if err != nil {
			return
		}
		// If parsing succeeded, verify invariants that validation should enforce.
		if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
			t.Errorf("invalid port escaped validation: %d", cfg.Server.Port)
		}
		if cfg.RateLimit.RequestsPerSecond < 0 {
			t.Errorf("negative rps escaped validation: %f", cfg.RateLimit.RequestsPerSecond)
		}
		if cfg.CircuitBreaker.FailureThreshold < 1 {
			t.Errorf("non-positive failure threshold escaped validation: %d", cfg.CircuitBreaker.FailureThreshold)
		}
		if cfg.Retry.MaxWait < cfg.Retry.MinWait {
			t.Errorf("retry wait bounds escaped validation: min=%v max=%v", cfg.Retry.MinWait, cfg.Retry.MaxWait)
		}
	})
}
