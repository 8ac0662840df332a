// Package workers runs background work for the orchestrator.
//
// The worker pool manages a fixed number of goroutines that drain a bounded
// job queue; HTTP-started processes are driven there. A full queue rejects
// new jobs instead of blocking the caller.
//
// The health monitor tracks worker status, updates the pool gauges and
// notifies listeners (the gRPC health service) when health changes.
//
// The sweeper removes expired processes on a cron schedule.
package workers
