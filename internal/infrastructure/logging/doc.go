// Package logging provides structured logging using uber/zap.
//
// Production builds write JSON; development builds write colored console
// output at debug level. Components receive a named child logger from
// Component, and per-session work tags its lines with ForSession.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	routerLog := logger.Component("router")
//	logging.ForSession(routerLog, sid, "notes").Debug("Delivery started")
package logging
