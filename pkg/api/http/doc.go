// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Run submission and lifecycle control (pause, resume, cancel)
//   - Status queries and dead-letter inspection
//   - Health checks
//   - Prometheus metrics
package http
