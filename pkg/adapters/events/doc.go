// Package events contains EventBus implementations: Redis Streams with
// consumer groups for production, and an in-memory bus for tests.
package events
