package source

import (
	"sort"
	"strconv"

	dto "github.com/prometheus/client_model/go"

	"github.com/hostwatch/hostwatch/pkg/hostmetrics"
	"github.com/hostwatch/hostwatch/pkg/snapshot"
)

// mapHostwatch copies every hostwatch_metric sample into b and returns how
// many were set.
func mapHostwatch(mfs map[string]*dto.MetricFamily, b *snapshot.Builder) int {
	mf := mfs[hostmetrics.MetricFamily]
	if mf == nil {
		return 0
	}
	n := 0
	for _, m := range mf.GetMetric() {
		path := label(m, hostmetrics.PathLabel)
		if path == "" {
			continue
		}
		v, ok := value(m)
		if !ok {
			continue
		}
		b.Set(path, v)
		n++
	}
	return n
}

// mapNodeExporter translates node_exporter families into the standard
// snapshot paths and returns how many values were set.
func mapNodeExporter(mfs map[string]*dto.MetricFamily, target string, cpu *cpuTracker, b *snapshot.Builder) int {
	n := 0
	set := func(path string, v float64) {
		b.Set(path, v)
		n++
	}

	for i, name := range []string{"node_load1", "node_load5", "node_load15"} {
		if v, ok := first(mfs[name]); ok {
			set("cpu.load_avg."+strconv.Itoa(i), v)
		}
	}

	if mf := mfs["node_cpu_seconds_total"]; mf != nil {
		var j cpuJiffies
		cores := make(map[string]bool)
		for _, m := range mf.GetMetric() {
			v, ok := value(m)
			if !ok {
				continue
			}
			cores[label(m, "cpu")] = true
			j.total += v
			if mode := label(m, "mode"); mode == "idle" || mode == "iowait" {
				j.idle += v
			}
		}
		if pct, ok := cpu.usage(target, j); ok {
			set("cpu.usage_total", pct)
		}
		if len(cores) > 0 {
			set("cpu.count", float64(len(cores)))
		}
	}

	total, okT := first(mfs["node_memory_MemTotal_bytes"])
	avail, okA := first(mfs["node_memory_MemAvailable_bytes"])
	if okT && okA && total > 0 {
		set("memory.total", total)
		set("memory.available", avail)
		set("memory.used", total-avail)
		set("memory.percent", (total-avail)/total*100)
	}
	swapTotal, okST := first(mfs["node_memory_SwapTotal_bytes"])
	swapFree, okSF := first(mfs["node_memory_SwapFree_bytes"])
	if okST && okSF && swapTotal > 0 {
		set("swap.percent", (swapTotal-swapFree)/swapTotal*100)
	}

	for i, p := range nodeFilesystems(mfs) {
		prefix := "disk.partitions." + strconv.Itoa(i) + "."
		set(prefix+"total", p.total)
		set(prefix+"free", p.free)
		set(prefix+"used", p.used)
		set(prefix+"percent", p.percent)
	}

	if v, ok := sumExcept(mfs["node_network_receive_bytes_total"], "device", "lo"); ok {
		set("network.bytes_recv", v)
	}
	if v, ok := sumExcept(mfs["node_network_transmit_bytes_total"], "device", "lo"); ok {
		set("network.bytes_sent", v)
	}
	if v, ok := sumExcept(mfs["node_network_receive_packets_total"], "device", "lo"); ok {
		set("network.packets_recv", v)
	}
	if v, ok := sumExcept(mfs["node_network_transmit_packets_total"], "device", "lo"); ok {
		set("network.packets_sent", v)
	}

	boot, okB := first(mfs["node_boot_time_seconds"])
	now, okN := first(mfs["node_time_seconds"])
	if okB && okN && now >= boot {
		set("system.uptime_seconds", now-boot)
	}
	if v, ok := first(mfs["node_procs_running"]); ok {
		set("system.processes", v)
	}
	return n
}

// nodeFilesystems pairs size and avail samples by mountpoint, skipping
// pseudo filesystems. "/" sorts first, the rest by mountpoint.
func nodeFilesystems(mfs map[string]*dto.MetricFamily) []partition {
	size := mfs["node_filesystem_size_bytes"]
	avail := mfs["node_filesystem_avail_bytes"]
	if size == nil || avail == nil {
		return nil
	}
	free := make(map[string]float64)
	for _, m := range avail.GetMetric() {
		if v, ok := value(m); ok {
			free[label(m, "mountpoint")] = v
		}
	}

	type mounted struct {
		mount string
		partition
	}
	var list []mounted
	seen := make(map[string]bool)
	for _, m := range size.GetMetric() {
		mount := label(m, "mountpoint")
		if seen[mount] || hostmetrics.PseudoFilesystem(label(m, "fstype")) {
			continue
		}
		total, ok := value(m)
		f, okF := free[mount]
		if !ok || !okF || total <= 0 {
			continue
		}
		seen[mount] = true
		used := total - f
		list = append(list, mounted{mount, partition{
			total:   total,
			free:    f,
			used:    used,
			percent: used / total * 100,
		}})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].mount == "/" || list[j].mount == "/" {
			return list[i].mount == "/"
		}
		return list[i].mount < list[j].mount
	})

	out := make([]partition, len(list))
	for i, m := range list {
		out[i] = m.partition
	}
	return out
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func value(m *dto.Metric) (float64, bool) {
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Counter != nil:
		return m.Counter.GetValue(), true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	}
	return 0, false
}

// first returns the value of the family's first sample.
func first(mf *dto.MetricFamily) (float64, bool) {
	if mf == nil {
		return 0, false
	}
	for _, m := range mf.GetMetric() {
		if v, ok := value(m); ok {
			return v, true
		}
	}
	return 0, false
}

// sumExcept adds every sample whose label key is not skip.
func sumExcept(mf *dto.MetricFamily, key, skip string) (float64, bool) {
	if mf == nil {
		return 0, false
	}
	var total float64
	found := false
	for _, m := range mf.GetMetric() {
		if label(m, key) == skip {
			continue
		}
		if v, ok := value(m); ok {
			total += v
			found = true
		}
	}
	return total, found
}
