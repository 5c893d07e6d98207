// Package config loads the two configuration surfaces of the service:
// environment-based runtime settings (ports, store connections, worker
// and timeout tuning) and the declarative workflow.yaml that describes
// phases, agents, retry policies, and publish targets.
package config
