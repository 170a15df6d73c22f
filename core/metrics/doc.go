// Package metrics defines the recorders the pipeline reports to. A Sink
// records every event kind; implementations in infra/metrics (Prometheus,
// InfluxDB) are built from configuration through the factory registry and
// combined with a MultiSink when several are configured.
package metrics
