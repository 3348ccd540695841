package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadFromBytes_MinimalServiceGetsDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
services:
  - name: pricing
    base_url: http://localhost:9001
`))
	require.NoError(t, err)
	require.Len(t, cfg.Services, 1)

	svc := cfg.Services[0]
	assert.Equal(t, "pricing", svc.Name)
	assert.Equal(t, "/health", svc.HealthPath)
	assert.Equal(t, DefaultCallTimeout, svc.CallTimeout.Std())
	assert.Equal(t, DefaultMaxRetries, svc.MaxRetries)
	assert.Equal(t, DefaultBreakerFailureThreshold, svc.Breaker.FailureThreshold)
	assert.Equal(t, DefaultBreakerOpenDuration, svc.Breaker.OpenDuration.Std())
	assert.Equal(t, DefaultBreakerBackoffFactor, svc.Breaker.BackoffFactor)
	assert.False(t, svc.Critical)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultBatchMaxSize, cfg.Batch.MaxSize)
	assert.Equal(t, DefaultCacheTTL, cfg.Cache.DefaultTTL.Std())
}

func TestLoadFromBytes_ExplicitValuesWin(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
server:
  port: 9090
health:
  poll_interval: 5s
  probe_timeout: 500ms
batch:
  max_size: 4
services:
  - name: search
    base_url: https://search.internal:8443
    health_path: /healthz
    critical: true
    call_timeout: 2s
    max_retries: 1
    breaker:
      failure_threshold: 3
      open_duration: 5s
      backoff_factor: 1.5
      count_upstream_errors: true
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Health.PollInterval.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Health.ProbeTimeout.Std())
	assert.Equal(t, 4, cfg.Batch.MaxSize)

	svc := cfg.Services[0]
	assert.Equal(t, "/healthz", svc.HealthPath)
	assert.True(t, svc.Critical)
	assert.Equal(t, 2*time.Second, svc.CallTimeout.Std())
	assert.Equal(t, 1, svc.MaxRetries)
	assert.Equal(t, 3, svc.Breaker.FailureThreshold)
	assert.Equal(t, 5*time.Second, svc.Breaker.OpenDuration.Std())
	assert.Equal(t, 1.5, svc.Breaker.BackoffFactor)
	assert.True(t, svc.Breaker.CountUpstreamErrors)
}

func TestLoadFromBytes_EnvExpansion(t *testing.T) {
	t.Setenv("PRICING_URL", "http://pricing.test:7001")

	cfg, err := LoadFromBytes([]byte(`
services:
  - name: pricing
    base_url: ${PRICING_URL}
  - name: search
    base_url: ${SEARCH_URL:-http://localhost:7002}
`))
	require.NoError(t, err)

	assert.Equal(t, "http://pricing.test:7001", cfg.Services[0].BaseURL)
	assert.Equal(t, "http://localhost:7002", cfg.Services[1].BaseURL)
}

func TestLoadFromBytes_DuplicateServiceNameRejected(t *testing.T) {
	_, err := LoadFromBytes([]byte(`
services:
  - name: pricing
    base_url: http://a:1
  - name: pricing
    base_url: http://b:2
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate service name")
}

func TestLoadFromBytes_InvalidServiceRejected(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "services:\n  - base_url: http://a:1\n", "name is required"},
		{"missing base_url", "services:\n  - name: x\n", "base_url is required"},
		{"bad scheme", "services:\n  - name: x\n    base_url: ftp://a:1\n", "must be http(s)"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadFromBytes_MalformedYAML(t *testing.T) {
	_, err := LoadFromBytes([]byte("services: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestDuration_UnmarshalForms(t *testing.T) {
	var out struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
		C Duration `yaml:"c"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 250ms\nb: 30\nc: 1m30s\n"), &out))
	assert.Equal(t, 250*time.Millisecond, out.A.Std())
	assert.Equal(t, 30*time.Second, out.B.Std())
	assert.Equal(t, 90*time.Second, out.C.Std())
}

func TestDuration_UnmarshalRejectsGarbage(t *testing.T) {
	var out struct {
		A Duration `yaml:"a"`
	}
	err := yaml.Unmarshal([]byte("a: not-a-duration\n"), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestExpandEnvWithDefaults_Forms(t *testing.T) {
	t.Setenv("GW_SET", "value")

	assert.Equal(t, "value", ExpandEnvWithDefaults("${GW_SET}"))
	assert.Equal(t, "value", ExpandEnvWithDefaults("${GW_SET:-fallback}"))
	assert.Equal(t, "fallback", ExpandEnvWithDefaults("${GW_UNSET_VAR:-fallback}"))
	assert.Equal(t, "", ExpandEnvWithDefaults("${GW_UNSET_VAR}"))
	assert.Equal(t, "plain text", ExpandEnvWithDefaults("plain text"))
	assert.Equal(t, "a value b", ExpandEnvWithDefaults("a ${GW_SET} b"))
}

func TestDefault_ValidatesClean(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.Services)
	assert.Equal(t, DefaultBatchMaxConcurrency, cfg.Batch.MaxConcurrency)
	assert.Equal(t, DefaultEventBuffer, cfg.Events.SubscriberBuffer)
	assert.Equal(t, DefaultAuditMaxRows, cfg.Audit.MaxRows)
}
