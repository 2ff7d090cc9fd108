package hostmetrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/hostwatch/hostwatch/pkg/snapshot"
)

// DefaultSampleInterval is how long CPU usage is measured for.
const DefaultSampleInterval = 200 * time.Millisecond

// MetricFamily is the gauge family hostwatch-agent exposes: one sample per
// snapshot leaf, labelled with its dotted path under PathLabel.
const (
	MetricFamily = "hostwatch_metric"
	PathLabel    = "path"
)

// pseudo filesystems skipped when listing partitions.
var skipFSTypes = map[string]bool{
	"tmpfs": true, "devtmpfs": true, "overlay": true, "squashfs": true,
	"proc": true, "sysfs": true, "cgroup": true, "cgroup2": true,
}

// PseudoFilesystem reports whether fstype is a virtual filesystem that is
// left out of disk.partitions.
func PseudoFilesystem(fstype string) bool {
	return skipFSTypes[fstype]
}

// Collector samples the local host.
type Collector struct {
	// SampleInterval is the CPU measurement window. Zero uses DefaultSampleInterval.
	SampleInterval time.Duration

	logger  *slog.Logger
	now     func() time.Time
	sensors func(context.Context) ([]host.TemperatureStat, error)
}

// New returns a Collector. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		SampleInterval: DefaultSampleInterval,
		logger:         logger,
		now:            time.Now,
		sensors:        host.SensorsTemperaturesWithContext,
	}
}

// Collect samples every metric group. A failing group is logged and left out
// of the snapshot; an error is returned only when no group succeeded or ctx
// was cancelled. Temperature is optional: hosts without sensors simply have
// no temperature.* paths.
func (c *Collector) Collect(ctx context.Context) (*snapshot.Snapshot, error) {
	b := snapshot.NewBuilder()

	groups := []struct {
		name string
		fn   func(context.Context, *snapshot.Builder) error
	}{
		{"cpu", c.collectCPU},
		{"memory", collectMemory},
		{"disk", collectDisk},
		{"network", collectNetwork},
		{"system", collectSystem},
	}

	var errs []error
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("hostmetrics: %w", err)
		}
		if err := g.fn(ctx, b); err != nil {
			c.logger.Warn("hostmetrics: group failed", "group", g.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", g.name, err))
		}
	}
	if len(errs) == len(groups) {
		return nil, fmt.Errorf("hostmetrics: collect: %w", errors.Join(errs...))
	}
	if err := c.collectTemperature(ctx, b); err != nil {
		c.logger.Debug("hostmetrics: no temperature readings", "err", err)
	}
	return b.Build(c.now()), nil
}

// SetTemperatures stores sensor readings in degrees Celsius as
// temperature.sensors.N.celsius plus their maximum as temperature.max.
// Non-positive readings are dropped. It reports whether any reading was kept.
func SetTemperatures(b *snapshot.Builder, celsius []float64) bool {
	var (
		i       int
		hottest float64
	)
	for _, v := range celsius {
		if v <= 0 {
			continue
		}
		b.Set("temperature.sensors."+strconv.Itoa(i)+".celsius", v)
		if i == 0 || v > hottest {
			hottest = v
		}
		i++
	}
	if i == 0 {
		return false
	}
	b.Set("temperature.max", hottest)
	return true
}

// collectTemperature reads hardware sensors. gopsutil may return partial
// readings together with a warning; those readings are still used.
func (c *Collector) collectTemperature(ctx context.Context, b *snapshot.Builder) error {
	stats, err := c.sensors(ctx)
	celsius := make([]float64, 0, len(stats))
	for _, s := range stats {
		celsius = append(celsius, s.Temperature)
	}
	if SetTemperatures(b, celsius) {
		return nil
	}
	if err != nil {
		return err
	}
	return errors.New("no sensors")
}

func (c *Collector) collectCPU(ctx context.Context, b *snapshot.Builder) error {
	interval := c.SampleInterval
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	pct, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return err
	}
	if len(pct) > 0 {
		b.Set("cpu.usage_total", pct[0])
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		b.Set("cpu.count", float64(n))
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		b.Set("cpu.load_avg.0", avg.Load1).
			Set("cpu.load_avg.1", avg.Load5).
			Set("cpu.load_avg.2", avg.Load15)
	}
	return nil
}

func collectMemory(ctx context.Context, b *snapshot.Builder) error {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}
	b.Set("memory.percent", vm.UsedPercent).
		Set("memory.total", float64(vm.Total)).
		Set("memory.used", float64(vm.Used)).
		Set("memory.available", float64(vm.Available))

	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil && sw.Total > 0 {
		b.Set("swap.percent", sw.UsedPercent)
	}
	return nil
}

func collectDisk(ctx context.Context, b *snapshot.Builder) error {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	i := 0
	for _, p := range parts {
		if skipFSTypes[p.Fstype] || seen[p.Mountpoint] {
			continue
		}
		seen[p.Mountpoint] = true
		u, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || u.Total == 0 {
			continue
		}
		prefix := "disk.partitions." + strconv.Itoa(i) + "."
		b.Set(prefix+"percent", u.UsedPercent).
			Set(prefix+"total", float64(u.Total)).
			Set(prefix+"used", float64(u.Used)).
			Set(prefix+"free", float64(u.Free))
		i++
	}
	return nil
}

func collectNetwork(ctx context.Context, b *snapshot.Builder) error {
	io, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return err
	}
	if len(io) == 0 {
		return errors.New("no counters")
	}
	b.Set("network.bytes_sent", float64(io[0].BytesSent)).
		Set("network.bytes_recv", float64(io[0].BytesRecv)).
		Set("network.packets_sent", float64(io[0].PacketsSent)).
		Set("network.packets_recv", float64(io[0].PacketsRecv))
	return nil
}

func collectSystem(ctx context.Context, b *snapshot.Builder) error {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return err
	}
	b.Set("system.uptime_seconds", float64(info.Uptime)).
		Set("system.processes", float64(info.Procs))
	return nil
}
