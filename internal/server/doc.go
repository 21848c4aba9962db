// Package server wires the app host together.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (recovery, tracing, metrics, CORS, rate limiting)
//   - Session registry, message router and render dispatcher
//   - Capability store, enforcer and audit log
//   - Surface hub and event stream WebSockets
//   - Catalog loading and watching, resource monitor, operator webhook
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Build components and attach per-session collaborators
//  4. Load the catalog
//  5. Setup HTTP routes and middleware
//  6. Run the HTTP server and background loops
//  7. On cancel: stop sessions, close connections, drain HTTP
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
//	err = srv.Run(ctx)
package server
