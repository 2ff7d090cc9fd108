package source

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hostwatch/hostwatch/pkg/hostmetrics"
	"github.com/hostwatch/hostwatch/pkg/snapshot"
)

// outputSeparator splits the sections of linuxCommand's output.
const outputSeparator = "---hostwatch---"

// linuxCommand gathers everything a Linux snapshot needs in one round trip.
// Section order is fixed: stat, loadavg, meminfo, df, net/dev, uptime,
// thermal zones.
var linuxCommand = strings.Join([]string{
	"cat /proc/stat",
	"cat /proc/loadavg",
	"cat /proc/meminfo",
	"(df -P -k -T 2>/dev/null || df -P -k)",
	"cat /proc/net/dev",
	"cat /proc/uptime",
	"cat /sys/class/thermal/thermal_zone*/temp 2>/dev/null",
}, "; echo '"+outputSeparator+"'; ")

var errNoSections = errors.New("no usable sections in command output")

// parseLinux builds snapshot values from linuxCommand output into b. CPU
// usage comes from cpu, keyed by target. At least one of /proc/stat or
// /proc/meminfo must parse.
func parseLinux(out, target string, cpu *cpuTracker, b *snapshot.Builder) error {
	sections := strings.Split(out, outputSeparator+"\n")
	get := func(i int) string {
		if i < len(sections) {
			return sections[i]
		}
		return ""
	}

	var ok bool
	if j, cores, err := parseProcStat(get(0)); err == nil {
		ok = true
		if pct, valid := cpu.usage(target, j); valid {
			b.Set("cpu.usage_total", pct)
		}
		if cores > 0 {
			b.Set("cpu.count", float64(cores))
		}
	}
	if la, procs, err := parseLoadavg(get(1)); err == nil {
		for i, v := range la {
			b.Set("cpu.load_avg."+strconv.Itoa(i), v)
		}
		if procs > 0 {
			b.Set("system.processes", float64(procs))
		}
	}
	if mem, err := parseMeminfo(get(2)); err == nil {
		ok = true
		b.SetAll(mem)
	}
	for i, p := range parseDF(get(3)) {
		prefix := "disk.partitions." + strconv.Itoa(i) + "."
		b.Set(prefix+"percent", p.percent).
			Set(prefix+"total", p.total).
			Set(prefix+"used", p.used).
			Set(prefix+"free", p.free)
	}
	if netv, err := parseNetDev(get(4)); err == nil {
		b.SetAll(netv)
	}
	if up, err := parseUptime(get(5)); err == nil {
		b.Set("system.uptime_seconds", up)
	}
	hostmetrics.SetTemperatures(b, parseThermal(get(6)))

	if !ok {
		return errNoSections
	}
	return nil
}

// parseProcStat reads the aggregate cpu line of /proc/stat. Idle time is
// idle plus iowait.
func parseProcStat(s string) (cpuJiffies, int, error) {
	var (
		j     cpuJiffies
		found bool
		cores int
	)
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || !strings.HasPrefix(fields[0], "cpu") {
			continue
		}
		if fields[0] != "cpu" {
			cores++
			continue
		}
		if len(fields) < 5 {
			return j, 0, fmt.Errorf("short cpu line: %q", sc.Text())
		}
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return j, 0, fmt.Errorf("cpu field %d: %w", i+1, err)
			}
			// guest and guest_nice are already counted in user and nice.
			if i >= 8 {
				break
			}
			j.total += v
			if i == 3 || i == 4 {
				j.idle += v
			}
		}
		found = true
	}
	if !found {
		return j, 0, errors.New("no aggregate cpu line")
	}
	return j, cores, nil
}

// parseLoadavg returns the three load averages and the total process count
// from /proc/loadavg.
func parseLoadavg(s string) ([3]float64, int, error) {
	var la [3]float64
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return la, 0, fmt.Errorf("loadavg: expected 3 fields, got %d", len(fields))
	}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return la, 0, fmt.Errorf("loadavg: %w", err)
		}
		la[i] = v
	}
	procs := 0
	if len(fields) >= 4 {
		if _, total, found := strings.Cut(fields[3], "/"); found {
			procs, _ = strconv.Atoi(total)
		}
	}
	return la, procs, nil
}

// parseMeminfo converts /proc/meminfo into memory.* and swap.* values in
// bytes. Kernels without MemAvailable fall back to free+buffers+cached.
func parseMeminfo(s string) (map[string]float64, error) {
	kb := make(map[string]float64)
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		name, rest, found := strings.Cut(sc.Text(), ":")
		if !found {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		kb[name] = v * 1024
	}

	total := kb["MemTotal"]
	if total <= 0 {
		return nil, errors.New("meminfo: no MemTotal")
	}
	avail, ok := kb["MemAvailable"]
	if !ok {
		avail = kb["MemFree"] + kb["Buffers"] + kb["Cached"]
	}
	used := total - avail
	out := map[string]float64{
		"memory.total":     total,
		"memory.available": avail,
		"memory.used":      used,
		"memory.percent":   used / total * 100,
	}
	if st := kb["SwapTotal"]; st > 0 {
		out["swap.percent"] = (st - kb["SwapFree"]) / st * 100
	}
	return out, nil
}

type partition struct {
	total, used, free, percent float64
}

// parseDF reads POSIX df output in 1K blocks, with or without a Type column.
// Pseudo filesystems and repeated mount points are skipped.
func parseDF(s string) []partition {
	var (
		parts  []partition
		typed  bool
		header = true
		seen   = make(map[string]bool)
	)
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if header {
			if len(fields) > 1 && fields[0] == "Filesystem" {
				typed = fields[1] == "Type"
				header = false
			}
			continue
		}
		want := 6
		if typed {
			want = 7
		}
		if len(fields) < want {
			continue
		}
		off := 1
		if typed {
			if hostmetrics.PseudoFilesystem(fields[1]) {
				continue
			}
			off = 2
		}
		mount := strings.Join(fields[off+4:], " ")
		if seen[mount] {
			continue
		}
		total, err1 := strconv.ParseFloat(fields[off], 64)
		used, err2 := strconv.ParseFloat(fields[off+1], 64)
		free, err3 := strconv.ParseFloat(fields[off+2], 64)
		if err1 != nil || err2 != nil || err3 != nil || total <= 0 {
			continue
		}
		seen[mount] = true
		p := partition{total: total * 1024, used: used * 1024, free: free * 1024}
		if used+free > 0 {
			p.percent = used / (used + free) * 100
		}
		parts = append(parts, p)
	}
	return parts
}

// parseNetDev sums /proc/net/dev counters over every interface but loopback.
func parseNetDev(s string) (map[string]float64, error) {
	var recv, sent, precv, psent float64
	found := false
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		name, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(name) == "lo" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 10 {
			continue
		}
		vals := make([]float64, 10)
		bad := false
		for i := range vals {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				bad = true
				break
			}
			vals[i] = v
		}
		if bad {
			continue
		}
		recv += vals[0]
		precv += vals[1]
		sent += vals[8]
		psent += vals[9]
		found = true
	}
	if !found {
		return nil, errors.New("net/dev: no interfaces")
	}
	return map[string]float64{
		"network.bytes_recv":   recv,
		"network.bytes_sent":   sent,
		"network.packets_recv": precv,
		"network.packets_sent": psent,
	}, nil
}

func parseUptime(s string) (float64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, errors.New("uptime: empty")
	}
	return strconv.ParseFloat(fields[0], 64)
}

// parseThermal reads one millidegree Celsius value per line, as found in
// /sys/class/thermal/thermal_zone*/temp.
func parseThermal(s string) []float64 {
	var out []float64
	for _, f := range strings.Fields(s) {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		out = append(out, v/1000)
	}
	return out
}
