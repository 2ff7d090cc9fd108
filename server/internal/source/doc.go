// Package source implements scheduler.MetricSource for each target kind.
//
//	local  samples this host through pkg/hostmetrics (gopsutil)
//	ssh    runs one batched /proc + df command over a pooled SSH connection
//	http   scrapes a Prometheus text endpoint: a hostwatch-agent or node_exporter
//
// Router dispatches on Target.Kind. All sources produce the same metric
// paths, so rules apply regardless of how a target is reached. CPU usage for
// remote targets is derived from the jiffy delta between consecutive polls.
package source
