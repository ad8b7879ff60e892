// Package otel exposes adminauth counters as OpenTelemetry observable
// instruments.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter, one
// Int64ObservableGauge per latency bucket and a gauge for the number of
// security report warnings. A single callback reads the engine on each
// collection. Callers own the MeterProvider.
package otel
