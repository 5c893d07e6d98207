// Package store groups the StoreAdapter implementations for the
// heterogeneous fan-out targets: Redis cache, Postgres relational store,
// NATS graph-ingest stream, and an in-memory store for tests and local
// runs. Every adapter keys on the entity ID and uses the entity version
// as a last-writer-wins tie-breaker, so upserts are safe to repeat.
package store
