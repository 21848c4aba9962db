// Package config provides 12-factor configuration management for the app host.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, CORS origins)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Catalog: Manifest directory and hot reload
//   - Session: Teardown grace period and focus-on-ready
//   - Router: Mailbox capacity, overflow warnings, request timeout
//   - Capability: Home directory for scope expansion, audit sizing and file
//   - Events: Event history and subscriber buffers
//   - Monitor: Sampling interval, concurrency and ceilings
//   - Dispatch: Render surface delivery timeout and circuit breaker
//   - Notify: Operator webhook
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, CORS_ORIGINS
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - CATALOG_DIR, CATALOG_WATCH
//   - TEARDOWN_GRACE, FOCUS_ON_READY
//   - MAILBOX_CAPACITY, OVERFLOW_WARN_EVERY, REQUEST_TIMEOUT
//   - APP_HOME_DIR, AUDIT_BUFFER, AUDIT_RETAIN, AUDIT_FILE
//   - MONITOR_INTERVAL, MONITOR_MEMORY_CEILING, MONITOR_CPU_CEILING, MONITOR_SAMPLER_URL
//   - DISPATCH_DELIVER_TIMEOUT, DISPATCH_BREAKER_FAILURES, DISPATCH_BREAKER_TIMEOUT
//   - NOTIFY_WEBHOOK_URL, NOTIFY_RETRY_MAX, NOTIFY_TIMEOUT
package config
