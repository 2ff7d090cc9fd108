// Package ws implements the WebSocket hub for hostwatch-server.
//
// Hub manages a set of connected clients and broadcasts the scheduler status
// and active alerts to all of them on a configurable interval (default 5s).
//
// New(scheduler, engine, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker; it blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// status immediately on connect, then streams updates on each tick.
// Hub also satisfies notify.Channel: a fired or resolved alert is pushed to
// every client as soon as the dispatcher delivers it.
//
// Message formats sent to clients:
//
//	{"event": "status", "data": {"scheduler": {...}, "active_alerts": [...], "generated_at": "..."}}
//	{"event": "alert",  "data": { /* alerts.Alert */ }}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws/stream by the server.
package ws
