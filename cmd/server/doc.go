// Package main is the entry point for the AgentOS app host.
//
// The host launches apps from a manifest catalog, enforces their declared
// capabilities, routes messages between them and drives the rendering host
// over a WebSocket surface connection.
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	apphost --port 8000 --catalog ./apps --audit-file /var/log/apphost/audit.zst
//
//	# Development mode (colored logs, debug level)
//	apphost --dev
//
//	# Validate manifests without starting
//	apphost check ./apps
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
