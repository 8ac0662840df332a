// Package domain holds the pipeline, process and event types shared by the
// orchestrator, its adapters and its APIs.
//
// A Pipeline is validated once and never mutated. A ProcessRun is one
// execution of a pipeline; it is owned by the orchestrator registry and only
// changes through step runner calls.
package domain
