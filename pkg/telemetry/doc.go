// Package telemetry provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, and an in-process event bus for the Kiln engine.
//
// All components are configured through a single Config and aggregated by
// the Telemetry type, which can be attached to a context and recovered
// anywhere below it.
package telemetry
