package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validYAML() string {
	return `
log_level: debug
inbox_bucket: my-inbox
interrogation_bucket: my-interrogation
private_key: QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVphYmNkZWY=
backend:
  endpoint: http://localhost:9000
  access_key: minioadmin
  secret_key: minioadmin
  use_path_style: true
central:
  url: http://central.example.test
  auth_secret: supersecret
client:
  cache_ttl: 30s
  max_retry_attempts: 5
pipeline:
  worker_count: 8
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML()))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected log_level debug, got %s", cfg.LogLevel)
	}
	if cfg.InboxBucket != "my-inbox" {
		t.Errorf("expected inbox bucket my-inbox, got %s", cfg.InboxBucket)
	}
	if !cfg.Backend.UsePathStyle {
		t.Error("expected use_path_style to be true")
	}
	if cfg.Client.CacheTTL != 30*time.Second {
		t.Errorf("expected cache_ttl 30s, got %v", cfg.Client.CacheTTL)
	}
	if cfg.Client.MaxRetryAttempts != 5 {
		t.Errorf("expected max_retry_attempts 5, got %d", cfg.Client.MaxRetryAttempts)
	}
	if cfg.Pipeline.WorkerCount != 8 {
		t.Errorf("expected worker_count 8, got %d", cfg.Pipeline.WorkerCount)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
private_key: QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVphYmNkZWY=
backend:
  access_key: a
  secret_key: b
central:
  url: http://central.example.test
  auth_secret: s
`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected default log_level info, got %s", cfg.LogLevel)
	}
	if cfg.InboxBucket != "inbox" || cfg.InterrogationBucket != "interrogation" {
		t.Errorf("expected default bucket names, got %s/%s", cfg.InboxBucket, cfg.InterrogationBucket)
	}
	if cfg.Client.CacheCapacity != 128 {
		t.Errorf("expected default cache_capacity 128, got %d", cfg.Client.CacheCapacity)
	}
	if !cfg.Client.WrapRetryErrors {
		t.Error("expected wrap_retry_errors to default to true")
	}
	if cfg.Pipeline.ClaimStaleAfter != 15*time.Minute {
		t.Errorf("expected default claim_stale_after 15m, got %v", cfg.Pipeline.ClaimStaleAfter)
	}
	if cfg.Backend.CopyPartSize != 16*1024*1024 {
		t.Errorf("expected default copy_part_size 16MiB, got %d", cfg.Backend.CopyPartSize)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("INBOX_BUCKET", "env-inbox")
	t.Setenv("CLIENT_RETRYABLE_STATUSES", "500, 503")
	t.Setenv("CLIENT_WRAP_RETRY_ERRORS", "false")
	t.Setenv("PIPELINE_WORKER_COUNT", "2")

	cfg, err := LoadConfig(writeConfig(t, validYAML()))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("expected env log_level warn, got %s", cfg.LogLevel)
	}
	if cfg.InboxBucket != "env-inbox" {
		t.Errorf("expected env inbox bucket, got %s", cfg.InboxBucket)
	}
	if len(cfg.Client.RetryableStatuses) != 2 || cfg.Client.RetryableStatuses[0] != 500 || cfg.Client.RetryableStatuses[1] != 503 {
		t.Errorf("unexpected retryable statuses: %v", cfg.Client.RetryableStatuses)
	}
	if cfg.Client.WrapRetryErrors {
		t.Error("expected wrap_retry_errors to be overridden to false")
	}
	if cfg.Pipeline.WorkerCount != 2 {
		t.Errorf("expected worker_count 2, got %d", cfg.Pipeline.WorkerCount)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing private key",
			yaml: `
backend:
  access_key: a
  secret_key: b
central:
  url: http://c
  auth_secret: s
`,
		},
		{
			name: "invalid log level",
			yaml: `
log_level: verbose
private_key: QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVphYmNkZWY=
backend:
  access_key: a
  secret_key: b
central:
  url: http://c
  auth_secret: s
`,
		},
		{
			name: "same bucket for inbox and interrogation",
			yaml: `
inbox_bucket: same
interrogation_bucket: same
private_key: QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVphYmNkZWY=
backend:
  access_key: a
  secret_key: b
central:
  url: http://c
  auth_secret: s
`,
		},
		{
			name: "missing central url",
			yaml: `
private_key: QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVphYmNkZWY=
backend:
  access_key: a
  secret_key: b
central:
  auth_secret: s
`,
		},
		{
			name: "missing backend credentials",
			yaml: `
private_key: QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVphYmNkZWY=
central:
  url: http://c
  auth_secret: s
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.yaml)); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVphYmNkZWY=")
	t.Setenv("BACKEND_ACCESS_KEY", "a")
	t.Setenv("BACKEND_SECRET_KEY", "b")
	t.Setenv("CENTRAL_URL", "http://c")
	t.Setenv("CENTRAL_AUTH_SECRET", "s")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log_level, got %s", cfg.LogLevel)
	}
}
