// Package pipeline implements the phase-dependency scheduler: the phase
// graph with cycle detection and deterministic topological ordering, the
// retry/backoff policies, the bounded-parallelism agent scheduler, and the
// result aggregator that restores declaration order after concurrent
// execution.
package pipeline
