// Package orchestrator implements the core logic for pipeline processes.
//
// The orchestrator manager coordinates process execution by:
//   - Validating pipelines and start requests
//   - Tracking process and step state in the registry (one lock per process)
//   - Running steps with input/output validation, timeouts and retries
//   - Publishing lifecycle events to the event bus
//   - Aggregating process and step metrics
//
// Steps can be run one at a time through Manager.RunStep, or in declaration
// order through the sequential driver (Manager.Execute).
package orchestrator
