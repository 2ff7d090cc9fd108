// Package exporter serves a host snapshot in the Prometheus text exposition
// format.
//
// Every scrape samples the host once through a Collector and writes one
// gauge family, hostwatch_metric, with a path label per snapshot leaf:
//
//	hostwatch_metric{path="cpu.usage_total"} 12.5
//	hostwatch_metric{path="disk.partitions.0.percent"} 71.2
//
// Two bookkeeping gauges follow: hostwatch_collect_duration_seconds and
// hostwatch_collect_success. A failed sampling answers 503 so the server
// records an acquisition failure instead of an empty snapshot.
package exporter
