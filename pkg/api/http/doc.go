// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Pipeline catalog listing
//   - Process start, cancel and step retry
//   - Status queries and accumulated data
//   - Event replay as JSON, Server-Sent Events and WebSocket
//   - Health checks
//   - Prometheus metrics and the orchestrator metrics rollup
package http
