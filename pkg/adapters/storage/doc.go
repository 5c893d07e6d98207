// Package storage contains StateStorage implementations for run state:
// Redis (JSON with TTL) for production and an in-memory map for tests.
package storage
