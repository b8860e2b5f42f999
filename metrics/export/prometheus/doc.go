// Package prometheus publishes engine counters through a client_golang
// Collector.
//
// [NewPrometheusExporter] reads [identity.Engine.MetricsSnapshot] on every
// scrape. Counters are named identity_*_total and the login latency
// histogram is identity_login_latency_seconds. The exporter never touches
// the default registry; callers register it or mount [Exporter.Handler].
package prometheus
