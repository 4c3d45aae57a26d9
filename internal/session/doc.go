// Package session drives a complete test session: phase by phase it
// discovers scopes, estimates weights, plans shards under the capacity
// guardrail, executes them through a bounded worker pool against isolated
// environments, and finalizes the merged report.
//
// The orchestrator owns the phase state machine. Phases run sequentially by
// default; with overlap enabled the {unit, ui} and {integration, e2e} groups
// each run concurrently. Cleanup of session databases and filestores is
// deferred and unconditional.
package session
