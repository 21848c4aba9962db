package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
	Catalog    CatalogConfig
	Session    SessionConfig
	Router     RouterConfig
	Capability CapabilityConfig
	Events     EventsConfig
	Monitor    MonitorConfig
	Dispatch   DispatchConfig
	Notify     NotifyConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string   `envconfig:"PORT" default:"8000"`
	Host        string   `envconfig:"HOST" default:"0.0.0.0"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CatalogConfig locates pre-declared app manifests.
type CatalogConfig struct {
	Dir   string `envconfig:"CATALOG_DIR" default:"./apps"`
	Watch bool   `envconfig:"CATALOG_WATCH" default:"true"`
}

// SessionConfig tunes the session lifecycle.
type SessionConfig struct {
	TeardownGrace time.Duration `envconfig:"TEARDOWN_GRACE" default:"5s"`
	FocusOnReady  bool          `envconfig:"FOCUS_ON_READY" default:"true"`
}

// RouterConfig sizes mailboxes and request deadlines.
type RouterConfig struct {
	MailboxCapacity   int           `envconfig:"MAILBOX_CAPACITY" default:"256"`
	OverflowWarnEvery int           `envconfig:"OVERFLOW_WARN_EVERY" default:"64"`
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
}

// CapabilityConfig holds enforcement and audit settings.
type CapabilityConfig struct {
	HomeDir     string `envconfig:"APP_HOME_DIR"`
	AuditBuffer int    `envconfig:"AUDIT_BUFFER" default:"1024"`
	AuditRetain int    `envconfig:"AUDIT_RETAIN" default:"1000"`
	AuditFile   string `envconfig:"AUDIT_FILE"`
}

// EventsConfig sizes the host event feed.
type EventsConfig struct {
	History          int `envconfig:"EVENTS_HISTORY" default:"500"`
	SubscriberBuffer int `envconfig:"EVENTS_SUBSCRIBER_BUFFER" default:"64"`
}

// MonitorConfig holds sampling cadence and ceilings. Zero ceilings disable
// the corresponding check.
type MonitorConfig struct {
	Interval        time.Duration `envconfig:"MONITOR_INTERVAL" default:"5s"`
	Concurrency     int           `envconfig:"MONITOR_CONCURRENCY" default:"8"`
	MemoryCeiling   uint64        `envconfig:"MONITOR_MEMORY_CEILING" default:"268435456"`
	CPUCeiling      float64       `envconfig:"MONITOR_CPU_CEILING" default:"80"`
	AggregateMemory uint64        `envconfig:"MONITOR_AGGREGATE_MEMORY" default:"2147483648"`
	AggregateCPU    float64       `envconfig:"MONITOR_AGGREGATE_CPU" default:"400"`
	SamplerURL      string        `envconfig:"MONITOR_SAMPLER_URL"`
}

// DispatchConfig guards render surface delivery.
type DispatchConfig struct {
	DeliverTimeout  time.Duration `envconfig:"DISPATCH_DELIVER_TIMEOUT" default:"5s"`
	BreakerFailures uint32        `envconfig:"DISPATCH_BREAKER_FAILURES" default:"5"`
	BreakerTimeout  time.Duration `envconfig:"DISPATCH_BREAKER_TIMEOUT" default:"30s"`
}

// NotifyConfig holds the operator webhook settings. An empty URL disables it.
type NotifyConfig struct {
	WebhookURL string        `envconfig:"NOTIFY_WEBHOOK_URL"`
	RetryMax   int           `envconfig:"NOTIFY_RETRY_MAX" default:"3"`
	Timeout    time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"5s"`
	Queue      int           `envconfig:"NOTIFY_QUEUE" default:"128"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8000",
			Host:        "0.0.0.0",
			CORSOrigins: []string{"*"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Catalog: CatalogConfig{
			Dir:   "./apps",
			Watch: true,
		},
		Session: SessionConfig{
			TeardownGrace: 5 * time.Second,
			FocusOnReady:  true,
		},
		Router: RouterConfig{
			MailboxCapacity:   256,
			OverflowWarnEvery: 64,
			RequestTimeout:    10 * time.Second,
		},
		Capability: CapabilityConfig{
			AuditBuffer: 1024,
			AuditRetain: 1000,
		},
		Events: EventsConfig{
			History:          500,
			SubscriberBuffer: 64,
		},
		Monitor: MonitorConfig{
			Interval:        5 * time.Second,
			Concurrency:     8,
			MemoryCeiling:   256 << 20,
			CPUCeiling:      80,
			AggregateMemory: 2 << 30,
			AggregateCPU:    400,
		},
		Dispatch: DispatchConfig{
			DeliverTimeout:  5 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Notify: NotifyConfig{
			RetryMax: 3,
			Timeout:  5 * time.Second,
			Queue:    128,
		},
	}
}
