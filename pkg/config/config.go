package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/meftunca/courier/pkg/codec"
)

// BrokerConfig holds broker client settings
type BrokerConfig struct {
	URL          string        `mapstructure:"url" yaml:"url" json:"url"`
	DB           int           `mapstructure:"db" yaml:"db" json:"db"`
	Password     string        `mapstructure:"password" yaml:"password" json:"password"`
	PoolSize     int           `mapstructure:"pool_size" yaml:"pool_size" json:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" yaml:"min_idle_conns" json:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`

	// Client-side backoff for transient broker faults, separate from
	// message-level retries.
	RetryAttempts int           `mapstructure:"retry_attempts" yaml:"retry_attempts" json:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff" json:"retry_backoff"`
}

// QueueConfig holds delivery queue settings
type QueueConfig struct {
	Name                 string                `mapstructure:"name" yaml:"name" json:"name"`
	MaxPayloadBytes      int                   `mapstructure:"max_payload_bytes" yaml:"max_payload_bytes" json:"max_payload_bytes"`
	JSONLibrary          codec.JSONLibrary     `mapstructure:"json_library" yaml:"json_library" json:"json_library"`
	Compression          codec.CompressionType `mapstructure:"compression" yaml:"compression" json:"compression"`
	CompressionThreshold int                   `mapstructure:"compression_threshold_bytes" yaml:"compression_threshold_bytes" json:"compression_threshold_bytes"`
}

// RetryConfig holds retry coordinator settings
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay" json:"base_delay"`
	Jitter     bool          `mapstructure:"jitter" yaml:"jitter" json:"jitter"`
}

// RateLimitConfig holds per-sender admission control settings
type RateLimitConfig struct {
	Capacity      float64       `mapstructure:"capacity" yaml:"capacity" json:"capacity"`
	RefillPerSec  float64       `mapstructure:"refill_per_sec" yaml:"refill_per_sec" json:"refill_per_sec"`
	IdleEviction  time.Duration `mapstructure:"idle_eviction" yaml:"idle_eviction" json:"idle_eviction"`
	CleanupPeriod time.Duration `mapstructure:"cleanup_period" yaml:"cleanup_period" json:"cleanup_period"`
}

// DLQConfig holds dead letter store settings
type DLQConfig struct {
	RetentionDays            int                     `mapstructure:"retention_days" yaml:"retention_days" json:"retention_days"`
	AutoRequeueThresholdHours int                    `mapstructure:"auto_requeue_threshold_hours" yaml:"auto_requeue_threshold_hours" json:"auto_requeue_threshold_hours"`
	ReapInterval             time.Duration           `mapstructure:"reap_interval" yaml:"reap_interval" json:"reap_interval"`
	Serialization            codec.SerializationType `mapstructure:"serialization" yaml:"serialization" json:"serialization"`
}

// SecurityConfig holds signing, freshness, and encryption settings
type SecurityConfig struct {
	HMACSecret       string        `mapstructure:"hmac_secret" yaml:"hmac_secret" json:"hmac_secret"`
	EncryptionSecret string        `mapstructure:"encryption_secret" yaml:"encryption_secret" json:"encryption_secret"`
	MaxAge           time.Duration `mapstructure:"max_age" yaml:"max_age" json:"max_age"`
}

// ConsumerConfig holds consumer worker pool settings
type ConsumerConfig struct {
	Workers         int           `mapstructure:"workers" yaml:"workers" json:"workers"`
	DequeueTimeout  time.Duration `mapstructure:"dequeue_timeout" yaml:"dequeue_timeout" json:"dequeue_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout" yaml:"graceful_timeout" json:"graceful_timeout"`
}

// APIConfig holds the operator API settings
type APIConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Host         string        `mapstructure:"host" yaml:"host" json:"host"`
	Port         int           `mapstructure:"port" yaml:"port" json:"port"`
	JWTSecret    string        `mapstructure:"jwt_secret" yaml:"jwt_secret" json:"jwt_secret"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
}

// Config represents the main configuration structure
type Config struct {
	Broker    BrokerConfig    `mapstructure:"broker" yaml:"broker" json:"broker"`
	Queue     QueueConfig     `mapstructure:"queue" yaml:"queue" json:"queue"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry" json:"retry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	DLQ       DLQConfig       `mapstructure:"dlq" yaml:"dlq" json:"dlq"`
	Security  SecurityConfig  `mapstructure:"security" yaml:"security" json:"security"`
	Consumer  ConsumerConfig  `mapstructure:"consumer" yaml:"consumer" json:"consumer"`
	API       APIConfig       `mapstructure:"api" yaml:"api" json:"api"`
}

// DefaultConfig returns a configuration with the documented defaults
func DefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:           "localhost:6379",
			DB:            0,
			PoolSize:      100,
			MinIdleConns:  10,
			DialTimeout:   10 * time.Second,
			ReadTimeout:   5 * time.Second,
			WriteTimeout:  5 * time.Second,
			RetryAttempts: 3,
			RetryBackoff:  100 * time.Millisecond,
		},
		Queue: QueueConfig{
			Name:                 "courier:delivery",
			MaxPayloadBytes:      1 << 20,
			JSONLibrary:          codec.JSONLibrarySonic,
			Compression:          codec.CompressionZstd,
			CompressionThreshold: 256,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			Jitter:     true,
		},
		RateLimit: RateLimitConfig{
			Capacity:      100,
			RefillPerSec:  10,
			IdleEviction:  5 * time.Minute,
			CleanupPeriod: time.Minute,
		},
		DLQ: DLQConfig{
			RetentionDays:             7,
			AutoRequeueThresholdHours: 24,
			ReapInterval:              time.Hour,
			Serialization:             codec.SerializationCBOR,
		},
		Security: SecurityConfig{
			MaxAge: 5 * time.Minute,
		},
		Consumer: ConsumerConfig{
			Workers:         4,
			DequeueTimeout:  5 * time.Second,
			GracefulTimeout: 30 * time.Second,
		},
		API: APIConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         8081,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// flatEnvBindings maps the documented flat environment variables onto config keys.
var flatEnvBindings = map[string]string{
	"broker.url":                       "BROKER_URL",
	"retry.max_retries":                "MAX_RETRIES",
	"retry.base_delay_seconds":         "RETRY_BASE_DELAY_SECONDS",
	"rate_limit.capacity":              "RATE_LIMIT_CAPACITY",
	"rate_limit.refill_per_sec":        "RATE_LIMIT_REFILL_PER_SEC",
	"dlq.retention_days":               "DLQ_RETENTION_DAYS",
	"dlq.auto_requeue_threshold_hours": "DLQ_AUTO_REQUEUE_THRESHOLD_HOURS",
	"security.hmac_secret":             "HMAC_SECRET",
	"security.encryption_secret":       "ENCRYPTION_SECRET",
	"queue.max_payload_bytes":          "MAX_PAYLOAD_BYTES",
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	config := DefaultConfig()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/courier")
	}

	v.SetEnvPrefix("COURIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range flatEnvBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("error binding env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// RETRY_BASE_DELAY_SECONDS is a float of seconds, not a duration string,
	// so it lives on a side key and is applied after unmarshaling.
	if secs := v.GetFloat64("retry.base_delay_seconds"); secs > 0 {
		config.Retry.BaseDelay = time.Duration(secs * float64(time.Second))
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker url is required")
	}

	if c.Queue.Name == "" {
		return fmt.Errorf("queue name is required")
	}

	if c.Queue.MaxPayloadBytes <= 0 {
		return fmt.Errorf("max payload bytes must be greater than 0")
	}

	switch c.Queue.Compression {
	case codec.CompressionNone, codec.CompressionZstd, codec.CompressionLZ4,
		codec.CompressionGzip, codec.CompressionBrotli:
	default:
		return fmt.Errorf("invalid compression type: %s", c.Queue.Compression)
	}

	switch c.DLQ.Serialization {
	case codec.SerializationCBOR, codec.SerializationJSON, codec.SerializationMsgPack:
	default:
		return fmt.Errorf("invalid dlq serialization type: %s", c.DLQ.Serialization)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}

	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry base delay must be greater than 0")
	}

	if c.RateLimit.Capacity <= 0 {
		return fmt.Errorf("rate limit capacity must be greater than 0")
	}

	if c.RateLimit.RefillPerSec < 0 {
		return fmt.Errorf("rate limit refill rate must not be negative")
	}

	if c.DLQ.RetentionDays <= 0 {
		return fmt.Errorf("dlq retention days must be greater than 0")
	}

	if c.Consumer.Workers <= 0 {
		return fmt.Errorf("consumer workers must be greater than 0")
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return fmt.Errorf("invalid api port: %d", c.API.Port)
		}
	}

	return nil
}
