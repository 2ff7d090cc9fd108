package hostmetrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

func TestCollect_LocalHost(t *testing.T) {
	c := New(nil)
	c.SampleInterval = 20 * time.Millisecond
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	snap, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !snap.TakenAt().Equal(fixed) {
		t.Errorf("TakenAt = %v, want %v", snap.TakenAt(), fixed)
	}
	pct, ok := snap.Lookup("memory.percent")
	if !ok {
		t.Fatal("memory.percent missing")
	}
	if pct < 0 || pct > 100 {
		t.Errorf("memory.percent = %v, want 0..100", pct)
	}
}

func TestCollect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New(nil).Collect(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestCollect_Temperature(t *testing.T) {
	c := New(nil)
	c.SampleInterval = 20 * time.Millisecond
	c.sensors = func(context.Context) ([]host.TemperatureStat, error) {
		return []host.TemperatureStat{
			{SensorKey: "coretemp_core0", Temperature: 48.5},
			{SensorKey: "acpitz", Temperature: 0},
			{SensorKey: "coretemp_core1", Temperature: 61},
		}, errors.New("one sensor unreadable")
	}

	snap, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := map[string]float64{
		"temperature.sensors.0.celsius": 48.5,
		"temperature.sensors.1.celsius": 61,
		"temperature.max":               61,
	}
	for path, v := range want {
		got, ok := snap.Lookup(path)
		if !ok || got != v {
			t.Errorf("%s = %v (present %v), want %v", path, got, ok, v)
		}
	}
	if _, ok := snap.Lookup("temperature.sensors.2.celsius"); ok {
		t.Error("zero reading should be dropped")
	}
}

func TestCollect_NoSensorsIsNotAFailure(t *testing.T) {
	c := New(nil)
	c.SampleInterval = 20 * time.Millisecond
	c.sensors = func(context.Context) ([]host.TemperatureStat, error) {
		return nil, errors.New("not implemented on this platform")
	}

	snap, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if _, ok := snap.Lookup("temperature.max"); ok {
		t.Error("temperature.max present without sensors")
	}
	if _, ok := snap.Lookup("memory.percent"); !ok {
		t.Error("memory.percent missing")
	}
}
