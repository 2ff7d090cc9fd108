package exporter

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/hostwatch/hostwatch/agent/internal/config"
	"github.com/hostwatch/hostwatch/pkg/hostmetrics"
	"github.com/hostwatch/hostwatch/pkg/snapshot"
)

const (
	durationFamily = "hostwatch_collect_duration_seconds"
	successFamily  = "hostwatch_collect_success"
)

// Collector samples the host. *hostmetrics.Collector satisfies it.
type Collector interface {
	Collect(ctx context.Context) (*snapshot.Snapshot, error)
}

// Handler is the /metrics endpoint.
type Handler struct {
	collector Collector
	timeout   time.Duration
	auth      config.AuthConfig
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a Handler that samples through c with the given per-scrape
// timeout. A nil logger uses slog.Default().
func New(c Collector, timeout time.Duration, auth config.AuthConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = config.DefaultCollectTimeout
	}
	return &Handler{
		collector: c,
		timeout:   timeout,
		auth:      auth,
		logger:    logger,
		now:       time.Now,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		if h.auth.Mode == "basic" {
			w.Header().Set("WWW-Authenticate", `Basic realm="hostwatch-agent"`)
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	start := h.now()
	snap, err := h.collector.Collect(ctx)
	took := h.now().Sub(start)
	if err != nil {
		h.logger.Warn("exporter: collect failed", "err", err, "took", took)
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = Write(w, []*dto.MetricFamily{
			gaugeFamily(durationFamily, "Time spent sampling the host.", took.Seconds()),
			gaugeFamily(successFamily, "Whether the last sampling succeeded.", 0),
		})
		return
	}

	mfs := Families(snap)
	mfs = append(mfs,
		gaugeFamily(durationFamily, "Time spent sampling the host.", took.Seconds()),
		gaugeFamily(successFamily, "Whether the last sampling succeeded.", 1),
	)

	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if r.Method == http.MethodHead {
		return
	}
	if err := Write(w, mfs); err != nil {
		h.logger.Warn("exporter: write response", "err", err)
		return
	}
	h.logger.Debug("exporter: served", "leaves", snap.Len(), "took", took, "remote", r.RemoteAddr)
}

func (h *Handler) authorized(r *http.Request) bool {
	switch h.auth.Mode {
	case "bearer":
		want := h.auth.Token()
		got, ok := bearerToken(r)
		return ok && want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
	case "basic":
		user, pass, ok := r.BasicAuth()
		want := h.auth.Password()
		return ok && want != "" &&
			subtle.ConstantTimeCompare([]byte(user), []byte(h.auth.Username)) == 1 &&
			subtle.ConstantTimeCompare([]byte(pass), []byte(want)) == 1
	default:
		return true
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	v := r.Header.Get("Authorization")
	if len(v) <= len(prefix) || v[:len(prefix)] != prefix {
		return "", false
	}
	return v[len(prefix):], true
}

// Families converts snap into the hostwatch_metric gauge family. Samples
// are sorted by path so output is stable between scrapes.
func Families(snap *snapshot.Snapshot) []*dto.MetricFamily {
	flat := snap.Flatten()
	if len(flat) == 0 {
		return nil
	}
	paths := make([]string, 0, len(flat))
	for p := range flat {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	name := hostmetrics.MetricFamily
	help := "Host metric sampled by hostwatch-agent."
	mf := &dto.MetricFamily{
		Name:   &name,
		Help:   &help,
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: make([]*dto.Metric, 0, len(paths)),
	}
	labelName := hostmetrics.PathLabel
	for _, p := range paths {
		path, v := p, flat[p]
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label: []*dto.LabelPair{{Name: &labelName, Value: &path}},
			Gauge: &dto.Gauge{Value: &v},
		})
	}
	return []*dto.MetricFamily{mf}
}

// Write encodes mfs in the text exposition format.
func Write(w io.Writer, mfs []*dto.MetricFamily) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("exporter: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func gaugeFamily(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   &name,
		Help:   &help,
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: &v}}},
	}
}
