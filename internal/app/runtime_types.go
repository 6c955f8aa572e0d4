package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dwizi/ticketbot/internal/config"
	"github.com/dwizi/ticketbot/internal/connectors"
	"github.com/dwizi/ticketbot/internal/dispatch"
	"github.com/dwizi/ticketbot/internal/heartbeat"
	"github.com/dwizi/ticketbot/internal/scheduler"
	"github.com/dwizi/ticketbot/internal/store"
	"github.com/dwizi/ticketbot/internal/tracker"
)

type Runtime struct {
	cfg              config.Config
	logger           *slog.Logger
	store            *store.Store
	tracker          tracker.Client
	dispatcher       *dispatch.Dispatcher
	httpServer       *http.Server
	scheduler        *scheduler.Service
	connectors       []connectors.Connector
	metrics          *prometheus.Registry
	heartbeat        *heartbeat.Registry
	heartbeatMonitor *heartbeat.Monitor
}

type heartbeatAware interface {
	SetHeartbeatReporter(reporter heartbeat.Reporter)
}

// projectRefresher is implemented by trackers that cache their project list.
type projectRefresher interface {
	RefreshProjects(ctx context.Context) error
}
