// Package hostmetrics samples the local host with gopsutil and returns the
// result as a snapshot.Snapshot.
//
// Paths produced:
//
//	cpu.usage_total, cpu.count, cpu.load_avg.{0,1,2}
//	memory.{percent,total,used,available}, swap.percent
//	disk.partitions.N.{percent,total,used,free}
//	network.{bytes_sent,bytes_recv,packets_sent,packets_recv}
//	system.{uptime_seconds,processes}
//	temperature.sensors.N.celsius, temperature.max (only where sensors exist)
//
// The same paths are produced by the SSH source on the server, so rules work
// unchanged regardless of how a target is reached.
package hostmetrics
