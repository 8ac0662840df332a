// Package grpc serves the standard gRPC health checking protocol for the
// orchestrator. Serving status follows the worker pool health.
package grpc
