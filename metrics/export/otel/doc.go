// Package otel publishes engine counters through OpenTelemetry observable
// instruments.
//
// [New] registers an Int64ObservableCounter per engine counter and, for the
// login latency histogram, a bucket gauge keyed by the "le" attribute plus a
// count gauge. One callback reads the snapshot on every collection; the
// caller owns the MeterProvider.
package otel
