// Package config loads and validates the service configuration from a
// YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete service configuration.
type Config struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
	// OpsAddr is the listen address for the metrics/health endpoint.
	OpsAddr string `yaml:"ops_addr" env:"OPS_ADDR"`

	// InboxBucket and InterrogationBucket are the storage aliases for
	// the source and destination buckets.
	InboxBucket         string `yaml:"inbox_bucket" env:"INBOX_BUCKET"`
	InterrogationBucket string `yaml:"interrogation_bucket" env:"INTERROGATION_BUCKET"`

	// PrivateKey is the service's long-lived X25519 private key:
	// base64 text or a file:// reference.
	PrivateKey string `yaml:"private_key" env:"PRIVATE_KEY"`

	Backend  BackendConfig  `yaml:"backend"`
	Central  CentralConfig  `yaml:"central"`
	Client   ClientConfig   `yaml:"client"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// BackendConfig holds S3 backend configuration.
type BackendConfig struct {
	Endpoint     string `yaml:"endpoint" env:"BACKEND_ENDPOINT"`
	Region       string `yaml:"region" env:"BACKEND_REGION"`
	AccessKey    string `yaml:"access_key" env:"BACKEND_ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key" env:"BACKEND_SECRET_KEY"`
	UsePathStyle bool   `yaml:"use_path_style" env:"BACKEND_USE_PATH_STYLE"`
	// CopyPartSize is the part size for composed multipart writes.
	CopyPartSize int64 `yaml:"copy_part_size" env:"BACKEND_COPY_PART_SIZE"`
}

// CentralConfig holds the central API connection settings.
type CentralConfig struct {
	URL string `yaml:"url" env:"CENTRAL_URL"`
	// PublicKey optionally pins the recipient public key (base64 X25519).
	PublicKey string `yaml:"public_key" env:"CENTRAL_PUBLIC_KEY"`
	// AuthSecret signs the bearer tokens sent to the central API.
	AuthSecret string `yaml:"auth_secret" env:"CENTRAL_AUTH_SECRET"`
}

// ClientConfig tunes the resilient HTTP client shared by all central
// API calls.
type ClientConfig struct {
	CacheCapacity     int           `yaml:"cache_capacity" env:"CLIENT_CACHE_CAPACITY"`
	CacheTTL          time.Duration `yaml:"cache_ttl" env:"CLIENT_CACHE_TTL"`
	CacheableMethods  []string      `yaml:"cacheable_methods" env:"CLIENT_CACHEABLE_METHODS"`
	CacheableStatuses []int         `yaml:"cacheable_statuses" env:"CLIENT_CACHEABLE_STATUSES"`
	RetryableStatuses []int         `yaml:"retryable_statuses" env:"CLIENT_RETRYABLE_STATUSES"`
	MaxRetryAttempts  int           `yaml:"max_retry_attempts" env:"CLIENT_MAX_RETRY_ATTEMPTS"`
	MaxBackoff        time.Duration `yaml:"max_backoff" env:"CLIENT_MAX_BACKOFF"`
	Jitter            time.Duration `yaml:"jitter" env:"CLIENT_JITTER"`
	RateLimitValidity int           `yaml:"rate_limit_validity" env:"CLIENT_RATE_LIMIT_VALIDITY"`
	WrapRetryErrors   bool          `yaml:"wrap_retry_errors" env:"CLIENT_WRAP_RETRY_ERRORS"`
	RequestTimeout    time.Duration `yaml:"request_timeout" env:"CLIENT_REQUEST_TIMEOUT"`
}

// PipelineConfig tunes the interrogation pipeline itself.
type PipelineConfig struct {
	// WorkerCount bounds concurrent interrogations.
	WorkerCount int `yaml:"worker_count" env:"PIPELINE_WORKER_COUNT"`
	// ClaimStaleAfter is the age past which an unfinished claim is
	// considered abandoned and reclaimable.
	ClaimStaleAfter time.Duration `yaml:"claim_stale_after" env:"PIPELINE_CLAIM_STALE_AFTER"`
	// MaxHeaderSize bounds the range read for a file header.
	MaxHeaderSize int64 `yaml:"max_header_size" env:"PIPELINE_MAX_HEADER_SIZE"`
	// PollInterval is the pause between polls for new uploads.
	PollInterval time.Duration `yaml:"poll_interval" env:"PIPELINE_POLL_INTERVAL"`
}

// LoadConfig loads configuration from a file and environment variables.
func LoadConfig(path string) (*Config, error) {
	config := &Config{
		LogLevel:            "info",
		OpsAddr:             ":9090",
		InboxBucket:         "inbox",
		InterrogationBucket: "interrogation",
		Backend: BackendConfig{
			Region:       "us-east-1",
			CopyPartSize: 16 * 1024 * 1024,
		},
		Client: ClientConfig{
			CacheCapacity:     128,
			CacheTTL:          60 * time.Second,
			CacheableMethods:  []string{"GET", "POST"},
			CacheableStatuses: []int{200, 201},
			RetryableStatuses: []int{408, 429, 500, 502, 503, 504},
			MaxRetryAttempts:  3,
			MaxBackoff:        60 * time.Second,
			Jitter:            0,
			RateLimitValidity: 1,
			WrapRetryErrors:   true,
			RequestTimeout:    30 * time.Second,
		},
		Pipeline: PipelineConfig{
			WorkerCount:     4,
			ClaimStaleAfter: 15 * time.Minute,
			MaxHeaderSize:   1 << 20, // 1MB
			PollInterval:    30 * time.Second,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// loadFromEnv loads configuration values from environment variables.
func loadFromEnv(config *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("OPS_ADDR"); v != "" {
		config.OpsAddr = v
	}
	if v := os.Getenv("INBOX_BUCKET"); v != "" {
		config.InboxBucket = v
	}
	if v := os.Getenv("INTERROGATION_BUCKET"); v != "" {
		config.InterrogationBucket = v
	}
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		config.PrivateKey = v
	}
	if v := os.Getenv("BACKEND_ENDPOINT"); v != "" {
		config.Backend.Endpoint = v
	}
	if v := os.Getenv("BACKEND_REGION"); v != "" {
		config.Backend.Region = v
	}
	if v := os.Getenv("BACKEND_ACCESS_KEY"); v != "" {
		config.Backend.AccessKey = v
	}
	if v := os.Getenv("BACKEND_SECRET_KEY"); v != "" {
		config.Backend.SecretKey = v
	}
	if v := os.Getenv("BACKEND_USE_PATH_STYLE"); v != "" {
		config.Backend.UsePathStyle = v == "true" || v == "1"
	}
	if v := os.Getenv("BACKEND_COPY_PART_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil && size > 0 {
			config.Backend.CopyPartSize = size
		}
	}
	if v := os.Getenv("CENTRAL_URL"); v != "" {
		config.Central.URL = v
	}
	if v := os.Getenv("CENTRAL_PUBLIC_KEY"); v != "" {
		config.Central.PublicKey = v
	}
	if v := os.Getenv("CENTRAL_AUTH_SECRET"); v != "" {
		config.Central.AuthSecret = v
	}
	if v := os.Getenv("CLIENT_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Client.CacheCapacity = n
		}
	}
	if v := os.Getenv("CLIENT_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Client.CacheTTL = d
		}
	}
	if v := os.Getenv("CLIENT_CACHEABLE_METHODS"); v != "" {
		config.Client.CacheableMethods = splitList(v)
	}
	if v := os.Getenv("CLIENT_CACHEABLE_STATUSES"); v != "" {
		if statuses, err := parseIntList(v); err == nil {
			config.Client.CacheableStatuses = statuses
		}
	}
	if v := os.Getenv("CLIENT_RETRYABLE_STATUSES"); v != "" {
		if statuses, err := parseIntList(v); err == nil {
			config.Client.RetryableStatuses = statuses
		}
	}
	if v := os.Getenv("CLIENT_MAX_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.Client.MaxRetryAttempts = n
		}
	}
	if v := os.Getenv("CLIENT_MAX_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Client.MaxBackoff = d
		}
	}
	if v := os.Getenv("CLIENT_JITTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Client.Jitter = d
		}
	}
	if v := os.Getenv("CLIENT_RATE_LIMIT_VALIDITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Client.RateLimitValidity = n
		}
	}
	if v := os.Getenv("CLIENT_WRAP_RETRY_ERRORS"); v != "" {
		config.Client.WrapRetryErrors = v == "true" || v == "1"
	}
	if v := os.Getenv("CLIENT_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Client.RequestTimeout = d
		}
	}
	if v := os.Getenv("PIPELINE_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Pipeline.WorkerCount = n
		}
	}
	if v := os.Getenv("PIPELINE_CLAIM_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Pipeline.ClaimStaleAfter = d
		}
	}
	if v := os.Getenv("PIPELINE_MAX_HEADER_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil && size > 0 {
			config.Pipeline.MaxHeaderSize = size
		}
	}
	if v := os.Getenv("PIPELINE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Pipeline.PollInterval = d
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntList(v string) ([]int, error) {
	parts := splitList(v)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[c.LogLevel] {
			return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
		}
	}

	if c.InboxBucket == "" {
		return fmt.Errorf("inbox_bucket is required")
	}
	if c.InterrogationBucket == "" {
		return fmt.Errorf("interrogation_bucket is required")
	}
	if c.InboxBucket == c.InterrogationBucket {
		return fmt.Errorf("inbox_bucket and interrogation_bucket must differ")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("private_key is required")
	}

	if c.Backend.AccessKey == "" {
		return fmt.Errorf("backend.access_key is required")
	}
	if c.Backend.SecretKey == "" {
		return fmt.Errorf("backend.secret_key is required")
	}

	if c.Central.URL == "" {
		return fmt.Errorf("central.url is required")
	}
	if c.Central.AuthSecret == "" {
		return fmt.Errorf("central.auth_secret is required")
	}

	if c.Client.CacheCapacity <= 0 {
		return fmt.Errorf("client.cache_capacity must be positive")
	}
	if c.Client.CacheTTL < 0 {
		return fmt.Errorf("client.cache_ttl must not be negative")
	}
	if c.Client.MaxRetryAttempts < 0 {
		return fmt.Errorf("client.max_retry_attempts must not be negative")
	}
	if c.Client.MaxBackoff < 0 {
		return fmt.Errorf("client.max_backoff must not be negative")
	}
	if c.Client.Jitter < 0 {
		return fmt.Errorf("client.jitter must not be negative")
	}
	if c.Client.RateLimitValidity <= 0 {
		return fmt.Errorf("client.rate_limit_validity must be positive")
	}

	if c.Pipeline.WorkerCount <= 0 {
		return fmt.Errorf("pipeline.worker_count must be positive")
	}
	if c.Pipeline.MaxHeaderSize <= 0 {
		return fmt.Errorf("pipeline.max_header_size must be positive")
	}
	return nil
}
