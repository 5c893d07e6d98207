// Package deadletter groups DeadLetterStore implementations: a durable
// object-store adapter on MinIO and an in-memory adapter for tests and
// local runs.
package deadletter
