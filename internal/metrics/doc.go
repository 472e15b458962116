// Package metrics exposes loop, lock and state-store measurements as
// Prometheus collectors on a caller-owned registry.
package metrics
