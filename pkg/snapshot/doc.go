// Package snapshot defines the metric snapshot shared by the agent and server.
//
// A Snapshot is a typed tree built from three node kinds:
//
//	Number    a float64 leaf
//	Mapping   string-keyed children ("cpu", "memory", ...)
//	Sequence  ordered children ("disk.partitions.0", ...)
//
// Values are addressed by dotted path. A numeric segment indexes a Sequence,
// any other segment keys a Mapping:
//
//	cpu.usage_total
//	disk.partitions.0.percent
//
// Lookup is total: an absent key, an out-of-range index, a kind mismatch or a
// non-finite leaf all report ok == false instead of panicking.
//
// Snapshots are built with a Builder and are read-only once built.
package snapshot
