// Package api implements the HTTP REST API for hostwatch-server.
//
// New(scheduler, engine, history, logger) returns an http.Handler that serves:
//
//	GET    /api/v1/health                scheduler state and per-status target counts
//	GET    /api/v1/targets               per-target state with diagnostics
//	GET    /api/v1/targets/{id}/history  persisted snapshots (?limit=, default 100)
//	GET    /api/v1/scheduler             full scheduler status
//	GET    /api/v1/alerts                active alerts
//	GET    /api/v1/alerts/history        recent alerts (?limit=, default 100)
//	GET    /api/v1/alerts/stats          alert and rule counts
//	GET    /api/v1/rules                 rules with evaluation state
//	POST   /api/v1/rules                 add or replace a rule; 400 if invalid
//	DELETE /api/v1/rules/{id}            remove a rule; 204 even if unknown
//
// All responses are JSON. Unknown paths return 404 and wrong methods 405,
// both with an {"error": ...} body.
package api
