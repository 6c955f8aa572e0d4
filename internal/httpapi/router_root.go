package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dwizi/ticketbot/internal/config"
	"github.com/dwizi/ticketbot/internal/dispatch"
	"github.com/dwizi/ticketbot/internal/heartbeat"
	"github.com/dwizi/ticketbot/internal/store"
)

type MessageDispatcher interface {
	Handle(ctx context.Context, msg dispatch.Message, sender dispatch.Sender) (dispatch.Result, error)
}

type AuditStore interface {
	Ping(ctx context.Context) error
	ListResponses(ctx context.Context, input store.ListResponsesInput) ([]store.ResponseRecord, error)
}

type Dependencies struct {
	Config              config.Config
	Store               AuditStore
	Dispatcher          MessageDispatcher
	Logger              *slog.Logger
	Heartbeat           *heartbeat.Registry
	HeartbeatStaleAfter time.Duration
	// Metrics serves /metrics. Defaults to the global Prometheus registry.
	Metrics http.Handler
}

type router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}
	rt := &router{deps: deps}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealth)
	mux.HandleFunc("/readyz", rt.handleReady)
	mux.Handle("/metrics", deps.Metrics)
	mux.HandleFunc("/api/v1/heartbeat", rt.handleHeartbeat)
	mux.HandleFunc("/api/v1/info", rt.handleInfo)
	mux.HandleFunc("/api/v1/lookup", rt.handleLookup)
	mux.HandleFunc("/api/v1/responses", rt.handleResponses)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
