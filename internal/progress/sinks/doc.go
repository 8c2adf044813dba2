// Package sinks implements progress consumers: connection history, Prometheus
// counters and structured logs.
package sinks
