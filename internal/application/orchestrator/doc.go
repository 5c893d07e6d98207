// Package orchestrator owns pipeline run execution end to end: it
// validates the phase graph, drives the scheduler, hands the final entity
// batch to the multi-store writer, persists run state at every phase
// boundary, and exposes the status/pause/resume/cancel surface used by the
// API layers. Terminal run events are emitted fire-and-forget to the
// event bus.
package orchestrator
