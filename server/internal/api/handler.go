package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hostwatch/hostwatch/server/internal/alerts"
	"github.com/hostwatch/hostwatch/server/internal/config"
	"github.com/hostwatch/hostwatch/server/internal/scheduler"
	"github.com/hostwatch/hostwatch/server/internal/store"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 10000
	maxBodyBytes        = 1 << 20
)

// Scheduler is the read side of the scheduler.
type Scheduler interface {
	Status() scheduler.SchedulerStatus
}

// Engine is the subset of the alert engine the API drives.
type Engine interface {
	GetActiveAlerts() []alerts.Alert
	GetHistory(limit int) []alerts.Alert
	Stats() alerts.Stats
	RuleStatus() []alerts.RuleStatus
	AddRule(r alerts.Rule) error
	RemoveRule(id string)
}

// History reads persisted snapshots.
type History interface {
	MetricHistory(ctx context.Context, targetID string, limit int) ([]store.Sample, error)
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	sched   Scheduler
	engine  Engine
	history History
	logger  *slog.Logger
	now     func() time.Time
	router  chi.Router
}

// New creates a Handler and registers all routes. A nil logger uses
// slog.Default().
func New(sched Scheduler, engine Engine, history History, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		sched:   sched,
		engine:  engine,
		history: history,
		logger:  logger,
		now:     time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/targets", h.listTargets)
		r.Get("/targets/{id}/history", h.targetHistory)
		r.Get("/scheduler", h.schedulerStatus)
		r.Get("/alerts", h.activeAlerts)
		r.Get("/alerts/history", h.alertHistory)
		r.Get("/alerts/stats", h.alertStats)
		r.Get("/rules", h.listRules)
		r.Post("/rules", h.createRule)
		r.Delete("/rules/{id}", h.deleteRule)
	})
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// health returns GET /api/v1/health: scheduler state and per-status counts.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	st := h.sched.Status()
	counts := st.Counts()
	resp := HealthResponse{
		Running:      st.Running,
		TargetCount:  len(st.Targets),
		OnlineCount:  counts[scheduler.StatusOnline],
		WarningCount: counts[scheduler.StatusWarning],
		OfflineCount: counts[scheduler.StatusOffline],
		UnknownCount: counts[scheduler.StatusUnknown],
		AlertCount:   len(h.engine.GetActiveAlerts()),
	}
	switch {
	case !st.Running:
		resp.State = "stopped"
	case resp.OnlineCount == resp.TargetCount:
		resp.State = "ok"
	default:
		resp.State = "degraded"
	}
	jsonResp(w, http.StatusOK, resp)
}

// listTargets returns GET /api/v1/targets: per-target state with diagnostics.
func (h *Handler) listTargets(w http.ResponseWriter, _ *http.Request) {
	st := h.sched.Status()
	byTarget := make(map[string][]alerts.Alert)
	for _, a := range h.engine.GetActiveAlerts() {
		byTarget[a.TargetID] = append(byTarget[a.TargetID], a)
	}

	now := h.now()
	out := make([]TargetResponse, 0, len(st.Targets))
	for _, ts := range st.Targets {
		active := byTarget[ts.ID]
		out = append(out, TargetResponse{
			TargetStatus: ts,
			ActiveAlerts: len(active),
			Diagnostics:  computeDiagnostics(ts, active, st.Interval, now),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// targetHistory returns GET /api/v1/targets/{id}/history?limit=N.
func (h *Handler) targetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, err := parseLimit(r, defaultHistoryLimit)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	known := false
	for _, ts := range h.sched.Status().Targets {
		if ts.ID == id {
			known = true
			break
		}
	}
	if !known {
		jsonErr(w, http.StatusNotFound, "target not found")
		return
	}

	samples, err := h.history.MetricHistory(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("api: metric history", "target", id, "err", err)
		jsonErr(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if samples == nil {
		samples = []store.Sample{}
	}
	jsonResp(w, http.StatusOK, HistoryResponse{TargetID: id, Samples: samples})
}

// schedulerStatus returns GET /api/v1/scheduler.
func (h *Handler) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, SchedulerResponse{
		SchedulerStatus: h.sched.Status(),
		GeneratedAt:     h.now().UTC(),
	})
}

// activeAlerts returns GET /api/v1/alerts.
func (h *Handler) activeAlerts(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, nonNil(h.engine.GetActiveAlerts()))
}

// alertHistory returns GET /api/v1/alerts/history?limit=N (default 100).
func (h *Handler) alertHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultHistoryLimit)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, nonNil(h.engine.GetHistory(limit)))
}

// alertStats returns GET /api/v1/alerts/stats.
func (h *Handler) alertStats(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.engine.Stats())
}

// listRules returns GET /api/v1/rules.
func (h *Handler) listRules(w http.ResponseWriter, _ *http.Request) {
	rules := h.engine.RuleStatus()
	if rules == nil {
		rules = []alerts.RuleStatus{}
	}
	jsonResp(w, http.StatusOK, rules)
}

// createRule handles POST /api/v1/rules. Invalid rules are rejected with 400
// and never reach the engine.
func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	rule, err := req.rule()
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := rule.Validate(); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.AddRule(rule); err != nil {
		if errors.Is(err, alerts.ErrInvalidRule) {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("api: add rule", "rule", rule.ID, "err", err)
		jsonErr(w, http.StatusInternalServerError, "could not add rule")
		return
	}
	h.logger.Info("api: rule added", "rule", rule.ID)
	jsonResp(w, http.StatusCreated, rule)
}

// deleteRule handles DELETE /api/v1/rules/{id}. Removing an unknown rule
// also succeeds.
func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.engine.RemoveRule(id)
	h.logger.Info("api: rule removed", "rule", id)
	w.WriteHeader(http.StatusNoContent)
}

// rule converts the request through the same path as configured rules so
// defaults match.
func (req RuleRequest) rule() (alerts.Rule, error) {
	rc := config.RuleConfig{
		ID:              req.ID,
		Name:            req.Name,
		Type:            req.Type,
		MetricPath:      req.MetricPath,
		Condition:       req.Condition,
		Threshold:       req.Threshold,
		Severity:        req.Severity,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		Enabled:         req.Enabled,
	}
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			return alerts.Rule{}, fmt.Errorf("duration: %w", err)
		}
		rc.Duration = d
	}
	return alerts.RuleFromConfig(rc), nil
}

// --- helpers ----------------------------------------------------------------

func parseLimit(r *http.Request, def int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, nil
}

func nonNil(a []alerts.Alert) []alerts.Alert {
	if a == nil {
		return []alerts.Alert{}
	}
	return a
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
