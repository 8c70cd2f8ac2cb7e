package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marcelsud/webhook-outbox/balancer"
	"github.com/marcelsud/webhook-outbox/batch"
	"github.com/marcelsud/webhook-outbox/engine"
	"github.com/marcelsud/webhook-outbox/pipeline"
	"github.com/marcelsud/webhook-outbox/queue"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/dispatcher"
	"github.com/marcelsud/webhook-outbox/webhook/retry"
	"github.com/marcelsud/webhook-outbox/webhook/signature"
	"github.com/spf13/viper"
)

/* Config is read from the environment, optionally overlaid on a .env TOML
 * file in the working directory; every key has a default
 */

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogJSON  bool   `mapstructure:"LOG_JSON"`

	Store         string        `mapstructure:"STORE"`
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	DeliveryTTL   time.Duration `mapstructure:"DELIVERY_TTL"`
	EndpointsFile string        `mapstructure:"ENDPOINTS_FILE"`

	BatchSize         int           `mapstructure:"BATCH_SIZE"`
	FlushInterval     time.Duration `mapstructure:"FLUSH_INTERVAL"`
	MaxPending        int           `mapstructure:"MAX_PENDING"`
	Workers           int           `mapstructure:"WORKERS"`
	EnabledEvents     []string      `mapstructure:"ENABLED_EVENTS"`
	AllowPrivateHosts bool          `mapstructure:"ALLOW_PRIVATE_HOSTS"`

	DispatchTimeout   time.Duration `mapstructure:"DISPATCH_TIMEOUT"`
	MaxRetries        int           `mapstructure:"MAX_RETRIES"`
	RetryBaseDelay    time.Duration `mapstructure:"RETRY_BASE_DELAY"`
	RetryMaxDelay     time.Duration `mapstructure:"RETRY_MAX_DELAY"`
	BackoffMultiplier float64       `mapstructure:"BACKOFF_MULTIPLIER"`
	RetryJitter       bool          `mapstructure:"RETRY_JITTER"`
	HonorRetryAfter   bool          `mapstructure:"HONOR_RETRY_AFTER"`

	SigningEnabled   bool   `mapstructure:"SIGNING_ENABLED"`
	SigningSecret    string `mapstructure:"SIGNING_SECRET"`
	SigningAlgorithm string `mapstructure:"SIGNING_ALGORITHM"`
	SignatureHeader  string `mapstructure:"SIGNATURE_HEADER"`

	PipelineEnabled      bool          `mapstructure:"PIPELINE_ENABLED"`
	QueueMaxSize         int           `mapstructure:"QUEUE_MAX_SIZE"`
	JobTTL               time.Duration `mapstructure:"JOB_TTL"`
	BatchMaxSize         int           `mapstructure:"BATCH_MAX_SIZE"`
	MaxConcurrentBatches int           `mapstructure:"MAX_CONCURRENT_BATCHES"`
	BatchFlushInterval   time.Duration `mapstructure:"BATCH_FLUSH_INTERVAL"`
	BatchMaxAttempts     int           `mapstructure:"BATCH_MAX_ATTEMPTS"`
	BalancerStrategy     string        `mapstructure:"BALANCER_STRATEGY"`

	FieldCryptoKey    string `mapstructure:"FIELD_CRYPTO_KEY"` // base64 AES key; empty disables field encryption
	CryptoPolicy      string `mapstructure:"CRYPTO_POLICY"`
	CryptoTenant      string `mapstructure:"CRYPTO_TENANT"`
	CryptoAllowUnsafe bool   `mapstructure:"CRYPTO_ALLOW_UNSAFE_PLAINTEXT"`
}

var defaults = map[string]any{
	"PORT":      "8080",
	"LOG_LEVEL": "info",
	"LOG_JSON":  true,

	"STORE":          StoreMemory,
	"REDIS_ADDR":     "localhost:6379",
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,
	"DELIVERY_TTL":   "0s",
	"ENDPOINTS_FILE": "",

	"BATCH_SIZE":          engine.DefaultBatchSize,
	"FLUSH_INTERVAL":      engine.DefaultFlushInterval.String(),
	"MAX_PENDING":         engine.DefaultMaxPending,
	"WORKERS":             engine.DefaultWorkers,
	"ENABLED_EVENTS":      "",
	"ALLOW_PRIVATE_HOSTS": false,

	"DISPATCH_TIMEOUT":   dispatcher.DefaultTimeout.String(),
	"MAX_RETRIES":        3,
	"RETRY_BASE_DELAY":   "1s",
	"RETRY_MAX_DELAY":    "5m",
	"BACKOFF_MULTIPLIER": 2.0,
	"RETRY_JITTER":       false,
	"HONOR_RETRY_AFTER":  true,

	"SIGNING_ENABLED":   true,
	"SIGNING_SECRET":    "",
	"SIGNING_ALGORITHM": "sha256",
	"SIGNATURE_HEADER":  dispatcher.DefaultSignatureHeader,

	"PIPELINE_ENABLED":       false,
	"QUEUE_MAX_SIZE":         queue.DefaultMaxQueueSize,
	"JOB_TTL":                queue.DefaultJobTTL.String(),
	"BATCH_MAX_SIZE":         batch.DefaultMaxBatchSize,
	"MAX_CONCURRENT_BATCHES": batch.DefaultMaxConcurrentBatches,
	"BATCH_FLUSH_INTERVAL":   batch.DefaultFlushInterval.String(),
	"BATCH_MAX_ATTEMPTS":     batch.DefaultMaxAttempts,
	"BALANCER_STRATEGY":      "round_robin",

	"FIELD_CRYPTO_KEY":              "",
	"CRYPTO_POLICY":                 "fail_closed",
	"CRYPTO_TENANT":                 "default",
	"CRYPTO_ALLOW_UNSAFE_PLAINTEXT": false,
}

// GetConfig reads .env (if present) and the environment
func GetConfig() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigName(".env")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the components cannot start with
func (c *Config) Validate() error {
	if c.Store != StoreMemory && c.Store != StoreRedis {
		return fmt.Errorf("STORE must be %q or %q (got %q)", StoreMemory, StoreRedis, c.Store)
	}
	if _, err := balancer.NewStrategy(c.BalancerStrategy); err != nil {
		return fmt.Errorf("BALANCER_STRATEGY: %w", err)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES cannot be negative")
	}
	for _, t := range c.Events() {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("ENABLED_EVENTS: %w", err)
		}
	}
	return nil
}

// Events returns ENABLED_EVENTS as event types; empty enables every type
func (c *Config) Events() []webhook.EventType {
	var out []webhook.EventType
	for _, raw := range c.EnabledEvents {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, webhook.EventType(s))
			}
		}
	}
	return out
}

func (c *Config) GetRetryConfig() retry.Config {
	return retry.Config{
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.RetryBaseDelay,
		MaxDelay:   c.RetryMaxDelay,
		Multiplier: c.BackoffMultiplier,
		Jitter:     c.RetryJitter,
	}
}

func (c *Config) GetDispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		Timeout:         c.DispatchTimeout,
		SignatureHeader: c.SignatureHeader,
		Signing: dispatcher.SigningConfig{
			Enabled:   c.SigningEnabled,
			Secret:    c.SigningSecret,
			Algorithm: signature.NewAlgorithm(c.SigningAlgorithm),
			Prefix:    signature.NewAlgorithm(c.SigningAlgorithm).String() + "=",
		},
		Retry:           c.GetRetryConfig(),
		HonorRetryAfter: c.HonorRetryAfter,
	}
}

func (c *Config) GetEngineConfig() engine.Config {
	return engine.Config{
		BatchSize:         c.BatchSize,
		FlushInterval:     c.FlushInterval,
		MaxPending:        c.MaxPending,
		Workers:           c.Workers,
		EnabledEvents:     c.Events(),
		AllowPrivateHosts: c.AllowPrivateHosts,
	}
}

func (c *Config) GetPipelineConfig() pipeline.Config {
	strategy, _ := balancer.NewStrategy(c.BalancerStrategy)
	return pipeline.Config{
		Queue: queue.Config{
			MaxQueueSize: c.QueueMaxSize,
			JobTTL:       c.JobTTL,
		},
		Batch: batch.Config{
			MaxBatchSize:         c.BatchMaxSize,
			MaxConcurrentBatches: c.MaxConcurrentBatches,
			FlushInterval:        c.BatchFlushInterval,
			Prioritize:           true,
			MaxAttempts:          c.BatchMaxAttempts,
			Retry:                c.GetRetryConfig(),
		},
		Balancer:    balancer.Config{Strategy: strategy},
		MaxAttempts: c.BatchMaxAttempts,
	}
}
