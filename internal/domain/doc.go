// Package domain defines the core types shared across the pipeline:
// semantic entities, phase and run state, per-agent and per-store outcomes,
// lifecycle events, and the error taxonomy used for retry classification.
package domain
