// Package http provides the admin REST API for the app host.
//
// Every endpoint is a Gin handler on Handlers. Errors carry the sentinel
// they wrap as a stable "kind" next to the message, and the status code
// follows the sentinel.
//
// Endpoints:
//   - Health: / and /health
//   - Sessions: /sessions, /sessions/:id, /sessions/:id/{focus,ready,teardown,failure}
//   - Messaging: /sessions/:id/messages, /sessions/:id/call, /router
//   - Capabilities: /sessions/:id/grants, /sessions/:id/check, /capabilities, /audit
//   - Observation: /focus, /events, /monitor, /sessions/:id/usage
//   - Catalog: /catalog, /catalog/:name, /catalog/reload
//
// Example Usage:
//
//	handlers := http.NewHandlers(http.Deps{Registry: reg, Router: r, ...})
//	handlers.Register(engine)
package http
