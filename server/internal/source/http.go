package source

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/hostwatch/hostwatch/pkg/snapshot"
	"github.com/hostwatch/hostwatch/server/internal/config"
	"github.com/hostwatch/hostwatch/server/internal/scheduler"
)

const defaultScrapeTimeout = 10 * time.Second

// HTTP scrapes Prometheus text endpoints: a hostwatch-agent or node_exporter.
type HTTP struct {
	logger *slog.Logger
	cpu    *cpuTracker
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]httpClient
}

type httpClient struct {
	client *http.Client
	conn   config.TargetConfig
}

// NewHTTP returns an HTTP source. A nil logger uses slog.Default().
func NewHTTP(logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		logger:  logger,
		cpu:     newCPUTracker(),
		now:     time.Now,
		clients: make(map[string]httpClient),
	}
}

// Acquire implements scheduler.MetricSource.
func (h *HTTP) Acquire(ctx context.Context, t scheduler.Target) (*snapshot.Snapshot, error) {
	client, err := h.client(t)
	if err != nil {
		return nil, fmt.Errorf("http %s: %w", t.ID, err)
	}

	mfs, state, err := fetchMetrics(ctx, client, t.Conn.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("http %s: %w", t.ID, err)
	}

	now := h.now()
	b := snapshot.NewBuilder()
	n := mapNodeExporter(mfs, t.ID, h.cpu, b)
	n += mapHostwatch(mfs, b)
	if state != nil && len(state.PeerCertificates) > 0 {
		b.Set("tls.days_left", daysLeft(state.PeerCertificates[0], now))
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("http %s: no recognised metrics in %d families", t.ID, len(mfs))
	}
	return b.Build(now), nil
}

// Close releases idle connections.
func (h *HTTP) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.client.CloseIdleConnections()
		delete(h.clients, id)
	}
	return nil
}

// client returns the cached client for t, rebuilding it when the target's
// connection settings changed.
func (h *HTTP) client(t scheduler.Target) (*http.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[t.ID]; ok && c.conn == t.Conn {
		return c.client, nil
	}
	client, err := buildHTTPClient(t.Conn)
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}
	if old, ok := h.clients[t.ID]; ok {
		old.client.CloseIdleConnections()
	}
	h.clients[t.ID] = httpClient{client: client, conn: t.Conn}
	return client, nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the target's auth and TLS settings.
func buildHTTPClient(tc config.TargetConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: tc.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if tc.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(tc.Auth.CertFile, tc.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if tc.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(tc.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", tc.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			auth: tc.Auth,
		},
		Timeout: defaultScrapeTimeout,
	}, nil
}

// fetchMetrics GETs url and returns its metric families along with the TLS
// state of the connection, if any.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, *tls.ConnectionState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	mfs, err := parseMetrics(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return mfs, resp.TLS, nil
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// daysLeft is the fractional number of days until cert expires; negative
// once expired.
func daysLeft(cert *x509.Certificate, now time.Time) float64 {
	return cert.NotAfter.Sub(now).Hours() / 24
}
