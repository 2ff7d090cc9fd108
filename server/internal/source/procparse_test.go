package source

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwatch/hostwatch/pkg/snapshot"
)

const (
	procStat = `cpu  100 0 100 700 100 0 0 0 0 0
cpu0 50 0 50 350 50 0 0 0 0 0
cpu1 50 0 50 350 50 0 0 0 0 0
intr 12345
ctxt 999
`
	procStat2 = `cpu  200 0 200 1400 200 0 0 0 0 0
cpu0 100 0 100 700 100 0 0 0 0 0
cpu1 100 0 100 700 100 0 0 0 0 0
`
	procLoadavg = "0.50 0.75 1.25 2/345 6789\n"
	procMeminfo = `MemTotal:        8000000 kB
MemFree:         1000000 kB
MemAvailable:    2000000 kB
Buffers:          100000 kB
Cached:           500000 kB
SwapTotal:       1000000 kB
SwapFree:         750000 kB
`
	dfTyped = `Filesystem     Type     1024-blocks    Used Available Capacity Mounted on
/dev/sda1      ext4       1000000  250000    750000      25% /
tmpfs          tmpfs       100000       0    100000       0% /run
/dev/sdb1      xfs        2000000 1000000   1000000      50% /data dir
`
	dfPlain = `Filesystem     1024-blocks    Used Available Capacity Mounted on
/dev/sda1          1000000  500000    500000      50% /
`
	procNetDev = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo:  9999     99    0    0    0     0          0         0     9999     99    0    0    0     0       0          0
  eth0:  1000     10    0    0    0     0          0         0     2000     20    0    0    0     0       0          0
  eth1:   500      5    0    0    0     0          0         0      700      7    0    0    0     0       0          0
`
	procUptime   = "12345.67 54321.00\n"
	thermalZones = "45000\n52500\n0\n"
)

func joinSections(sections ...string) string {
	return strings.Join(sections, outputSeparator+"\n")
}

func TestParseProcStat(t *testing.T) {
	j, cores, err := parseProcStat(procStat)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, j.total)
	assert.Equal(t, 800.0, j.idle)
	assert.Equal(t, 2, cores)

	_, _, err = parseProcStat("intr 1\n")
	assert.Error(t, err)
}

func TestParseLoadavg(t *testing.T) {
	la, procs, err := parseLoadavg(procLoadavg)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0.5, 0.75, 1.25}, la)
	assert.Equal(t, 345, procs)

	_, _, err = parseLoadavg("0.1 0.2")
	assert.Error(t, err)
}

func TestParseMeminfo(t *testing.T) {
	m, err := parseMeminfo(procMeminfo)
	require.NoError(t, err)
	assert.Equal(t, 8000000.0*1024, m["memory.total"])
	assert.Equal(t, 2000000.0*1024, m["memory.available"])
	assert.InDelta(t, 75.0, m["memory.percent"], 0.001)
	assert.InDelta(t, 25.0, m["swap.percent"], 0.001)
}

func TestParseMeminfo_NoMemAvailable(t *testing.T) {
	m, err := parseMeminfo("MemTotal: 1000 kB\nMemFree: 100 kB\nBuffers: 100 kB\nCached: 300 kB\n")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, m["memory.percent"], 0.001)
	_, ok := m["swap.percent"]
	assert.False(t, ok)

	_, err = parseMeminfo("MemFree: 100 kB\n")
	assert.Error(t, err)
}

func TestParseDF(t *testing.T) {
	parts := parseDF(dfTyped)
	require.Len(t, parts, 2)
	assert.Equal(t, 1000000.0*1024, parts[0].total)
	assert.InDelta(t, 25.0, parts[0].percent, 0.001)
	assert.InDelta(t, 50.0, parts[1].percent, 0.001)

	plain := parseDF(dfPlain)
	require.Len(t, plain, 1)
	assert.InDelta(t, 50.0, plain[0].percent, 0.001)

	assert.Empty(t, parseDF(""))
}

func TestParseNetDev(t *testing.T) {
	m, err := parseNetDev(procNetDev)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, m["network.bytes_recv"])
	assert.Equal(t, 2700.0, m["network.bytes_sent"])
	assert.Equal(t, 15.0, m["network.packets_recv"])
	assert.Equal(t, 27.0, m["network.packets_sent"])
}

func TestParseLinux_FullOutput(t *testing.T) {
	out := joinSections(procStat, procLoadavg, procMeminfo, dfTyped, procNetDev, procUptime, thermalZones)
	b := snapshot.NewBuilder()
	require.NoError(t, parseLinux(out, "web-1", newCPUTracker(), b))
	snap := b.Build(testNow)

	for path, want := range map[string]float64{
		"cpu.usage_total":           20,
		"cpu.count":                 2,
		"cpu.load_avg.2":            1.25,
		"memory.percent":            75,
		"swap.percent":              25,
		"disk.partitions.0.percent": 25,
		"disk.partitions.1.percent": 50,
		"network.bytes_recv":        1500,
		"system.uptime_seconds":     12345.67,
		"system.processes":          345,

		"temperature.sensors.0.celsius": 45,
		"temperature.sensors.1.celsius": 52.5,
		"temperature.max":               52.5,
	} {
		got, ok := snap.Lookup(path)
		if assert.True(t, ok, path) {
			assert.InDelta(t, want, got, 0.001, path)
		}
	}
	_, ok := snap.Lookup("disk.partitions.2.percent")
	assert.False(t, ok)
	_, ok = snap.Lookup("temperature.sensors.2.celsius")
	assert.False(t, ok)
}

func TestParseLinux_NoThermalZones(t *testing.T) {
	out := joinSections(procStat, procLoadavg, procMeminfo, dfTyped, procNetDev, procUptime, "")
	b := snapshot.NewBuilder()
	require.NoError(t, parseLinux(out, "web-1", newCPUTracker(), b))

	_, ok := b.Build(testNow).Lookup("temperature.max")
	assert.False(t, ok)
}

func TestParseThermal(t *testing.T) {
	assert.Equal(t, []float64{45, 52.5, 0}, parseThermal(thermalZones))
	assert.Empty(t, parseThermal("cat: no such file\n"))
}

func TestParseLinux_CPUDelta(t *testing.T) {
	cpu := newCPUTracker()
	first := snapshot.NewBuilder()
	require.NoError(t, parseLinux(joinSections(procStat), "web-1", cpu, first))

	// Between the two readings: total +1000, idle +800.
	second := snapshot.NewBuilder()
	require.NoError(t, parseLinux(joinSections(procStat2), "web-1", cpu, second))
	v, ok := second.Build(testNow).Lookup("cpu.usage_total")
	require.True(t, ok)
	assert.InDelta(t, 20.0, v, 0.001)
}

func TestParseLinux_Garbage(t *testing.T) {
	err := parseLinux("bash: cat: command not found\n", "web-1", newCPUTracker(), snapshot.NewBuilder())
	assert.ErrorIs(t, err, errNoSections)
}

func TestCPUTracker_CounterReset(t *testing.T) {
	cpu := newCPUTracker()
	_, ok := cpu.usage("a", cpuJiffies{total: 1000, idle: 500})
	require.True(t, ok)

	// A reboot resets counters; fall back to the since-boot average.
	pct, ok := cpu.usage("a", cpuJiffies{total: 100, idle: 90})
	require.True(t, ok)
	assert.InDelta(t, 10.0, pct, 0.001)

	_, ok = cpu.usage("b", cpuJiffies{})
	assert.False(t, ok)
}
