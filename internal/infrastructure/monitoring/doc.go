/*
Package monitoring provides Prometheus metrics for the app host.

# Overview

Metrics live on a dedicated registry so several hosts (and tests) can run
in one process. Every recording method accepts a nil receiver.

# Features

- HTTP request metrics (latency, throughput, size)
- Session lifecycle, focus and teardown metrics
- Capability check outcomes and audit drops
- Message routing, mailbox overflow and request latency
- Render surface delivery and WebSocket metrics
- Per-session resource usage and ceiling advisories

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics)
	// ... await reply ...
	timer.Stop("resolved")
*/
package monitoring
