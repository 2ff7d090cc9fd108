package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwatch/hostwatch/server/internal/config"
	"github.com/hostwatch/hostwatch/server/internal/scheduler"
)

const nodeExporterText = `# TYPE node_load1 gauge
node_load1 0.5
# TYPE node_load5 gauge
node_load5 0.75
# TYPE node_load15 gauge
node_load15 1
# TYPE node_memory_MemTotal_bytes gauge
node_memory_MemTotal_bytes 1000
# TYPE node_memory_MemAvailable_bytes gauge
node_memory_MemAvailable_bytes 250
# TYPE node_filesystem_size_bytes gauge
node_filesystem_size_bytes{device="/dev/sdb1",fstype="ext4",mountpoint="/data"} 400
node_filesystem_size_bytes{device="/dev/sda1",fstype="ext4",mountpoint="/"} 1000
node_filesystem_size_bytes{device="tmpfs",fstype="tmpfs",mountpoint="/run"} 10
# TYPE node_filesystem_avail_bytes gauge
node_filesystem_avail_bytes{device="/dev/sdb1",fstype="ext4",mountpoint="/data"} 100
node_filesystem_avail_bytes{device="/dev/sda1",fstype="ext4",mountpoint="/"} 900
node_filesystem_avail_bytes{device="tmpfs",fstype="tmpfs",mountpoint="/run"} 10
# TYPE node_cpu_seconds_total counter
node_cpu_seconds_total{cpu="0",mode="idle"} 80
node_cpu_seconds_total{cpu="0",mode="user"} 20
node_cpu_seconds_total{cpu="1",mode="idle"} 60
node_cpu_seconds_total{cpu="1",mode="user"} 40
# TYPE node_network_receive_bytes_total counter
node_network_receive_bytes_total{device="lo"} 999
node_network_receive_bytes_total{device="eth0"} 100
`

const agentText = `# HELP hostwatch_metric Host metric sampled by hostwatch-agent.
# TYPE hostwatch_metric gauge
hostwatch_metric{path="cpu.usage_total"} 42
hostwatch_metric{path="disk.partitions.0.percent"} 12.5
hostwatch_metric{path=""} 7
`

func serveText(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprint(w, body)
	}
}

func httpTarget(endpoint string) scheduler.Target {
	return scheduler.TargetFromConfig(config.TargetConfig{ID: "exporter", Kind: scheduler.KindHTTP, Endpoint: endpoint})
}

func newTestHTTP() *HTTP {
	h := NewHTTP(nil)
	h.now = func() time.Time { return testNow }
	return h
}

func TestHTTP_NodeExporter(t *testing.T) {
	srv := httptest.NewServer(serveText(nodeExporterText))
	defer srv.Close()

	h := newTestHTTP()
	defer h.Close()
	snap, err := h.Acquire(context.Background(), httpTarget(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, testNow, snap.TakenAt())

	for path, want := range map[string]float64{
		"cpu.load_avg.0":            0.5,
		"cpu.load_avg.2":            1,
		"cpu.usage_total":           30,
		"cpu.count":                 2,
		"memory.percent":            75,
		"memory.used":               750,
		"disk.partitions.0.percent": 10,
		"disk.partitions.1.percent": 75,
		"network.bytes_recv":        100,
	} {
		got, ok := snap.Lookup(path)
		if assert.True(t, ok, path) {
			assert.InDelta(t, want, got, 0.001, path)
		}
	}
	_, ok := snap.Lookup("disk.partitions.2.percent")
	assert.False(t, ok, "tmpfs is skipped")
	_, ok = snap.Lookup("tls.days_left")
	assert.False(t, ok, "plain http has no certificate")
}

func TestHTTP_AgentExposition(t *testing.T) {
	srv := httptest.NewServer(serveText(agentText))
	defer srv.Close()

	snap, err := newTestHTTP().Acquire(context.Background(), httpTarget(srv.URL))
	require.NoError(t, err)

	v, ok := snap.Lookup("cpu.usage_total")
	require.True(t, ok)
	assert.Equal(t, 42.0, v)
	v, ok = snap.Lookup("disk.partitions.0.percent")
	require.True(t, ok)
	assert.Equal(t, 12.5, v)
	assert.Equal(t, 2, snap.Len())
}

func TestHTTP_TLSDaysLeft(t *testing.T) {
	srv := httptest.NewTLSServer(serveText(agentText))
	defer srv.Close()

	target := httpTarget(srv.URL)
	target.Conn.TLS.InsecureSkipVerify = true

	snap, err := newTestHTTP().Acquire(context.Background(), target)
	require.NoError(t, err)
	days, ok := snap.Lookup("tls.days_left")
	require.True(t, ok)
	want := srv.Certificate().NotAfter.Sub(testNow).Hours() / 24
	assert.InDelta(t, want, days, 0.001)
}

func TestHTTP_TLSVerificationFailure(t *testing.T) {
	srv := httptest.NewTLSServer(serveText(agentText))
	defer srv.Close()

	_, err := newTestHTTP().Acquire(context.Background(), httpTarget(srv.URL))
	assert.Error(t, err)
}

func TestHTTP_BearerAuth(t *testing.T) {
	t.Setenv("HOSTWATCH_TEST_TOKEN", "s3cret")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		serveText(agentText)(w, r)
	}))
	defer srv.Close()

	target := httpTarget(srv.URL)
	_, err := newTestHTTP().Acquire(context.Background(), target)
	assert.ErrorContains(t, err, "unexpected status 401")

	target.Conn.Auth = config.AuthConfig{Mode: "bearer", TokenEnv: "HOSTWATCH_TEST_TOKEN"}
	_, err = newTestHTTP().Acquire(context.Background(), target)
	assert.NoError(t, err)
}

func TestHTTP_ClientRebuiltOnConfigChange(t *testing.T) {
	h := newTestHTTP()
	target := httpTarget("http://127.0.0.1:1/metrics")

	c1, err := h.client(target)
	require.NoError(t, err)
	c2, err := h.client(target)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	target.Conn.Auth = config.AuthConfig{Mode: "basic", Username: "u"}
	c3, err := h.client(target)
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
}

func TestHTTP_Errors(t *testing.T) {
	empty := httptest.NewServer(serveText("# TYPE unrelated gauge\nunrelated 1\n"))
	defer empty.Close()
	_, err := newTestHTTP().Acquire(context.Background(), httpTarget(empty.URL))
	assert.ErrorContains(t, err, "no recognised metrics")

	_, err = newTestHTTP().Acquire(context.Background(), httpTarget("http://127.0.0.1:1/metrics"))
	assert.Error(t, err)

	target := httpTarget("https://example.invalid")
	target.Conn.Auth = config.AuthConfig{Mode: "mtls", CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"}
	_, err = newTestHTTP().Acquire(context.Background(), target)
	assert.ErrorContains(t, err, "load client cert")
}
