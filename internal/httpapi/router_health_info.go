package httpapi

import (
	"net/http"

	"github.com/dwizi/ticketbot/internal/heartbeat"
)

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if r.deps.Heartbeat == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	snapshot := r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter)
	status := http.StatusOK
	if snapshot.Overall == heartbeat.StateDegraded {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":     snapshot.Overall,
		"components": snapshot.Components,
	})
}

// handleReady reports ready once the audit store answers. Without an audit store there is nothing to wait for.
func (r *router) handleReady(w http.ResponseWriter, req *http.Request) {
	if r.deps.Store != nil {
		if err := r.deps.Store.Ping(req.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (r *router) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	if r.deps.Heartbeat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "heartbeat is disabled",
		})
		return
	}
	snapshot := r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter)
	writeJSON(w, http.StatusOK, snapshot)
}

func (r *router) handleInfo(w http.ResponseWriter, req *http.Request) {
	cfg := r.deps.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"name":               "ticketbot",
		"tracker":            cfg.Tracker.Provider,
		"max_issues":         cfg.Handler.MaxIssues,
		"response_threshold": cfg.Handler.ResponseThreshold,
		"ticket_cache_size":  cfg.Handler.TicketCacheSize,
		"full_attachments":   cfg.Handler.FullAttachments,
		"audit_enabled":      r.deps.Store != nil,
	})
}
