// Package health provides HTTP handlers for service health monitoring.
//
// Handlers:
//   - Liveness: process is running (no dependency checks)
//   - Readiness: all dependencies are available
//   - NoContent: returns 204 for minimal overhead
//
// Usage:
//
//	mux.Handle("GET /health/live", health.Liveness())
//	mux.Handle("GET /health/ready", health.Readiness(
//		logger,
//		health.Certificate(cell, 7*24*time.Hour),
//		redis.Healthcheck(client),
//	))
//
// Dependency checks follow the func(context.Context) error signature, so
// redis.Healthcheck plugs in directly. Certificate reports the served
// certificate held by a server.TLSConfigCell.
package health
