package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dwizi/ticketbot/internal/config"
	"github.com/dwizi/ticketbot/internal/connectors"
	"github.com/dwizi/ticketbot/internal/connectors/discord"
	"github.com/dwizi/ticketbot/internal/connectors/slack"
	"github.com/dwizi/ticketbot/internal/dispatch"
	"github.com/dwizi/ticketbot/internal/heartbeat"
	"github.com/dwizi/ticketbot/internal/history"
	"github.com/dwizi/ticketbot/internal/httpapi"
	"github.com/dwizi/ticketbot/internal/scheduler"
	"github.com/dwizi/ticketbot/internal/store"
	"github.com/dwizi/ticketbot/internal/tracker"
)

func New(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ticketClient, err := newTracker(cfg, logger.With("component", "tracker"))
	if err != nil {
		return nil, err
	}

	var sqlStore *store.Store
	if cfg.AuditDB != "" {
		sqlStore, err = openAuditStore(cfg.AuditDB)
		if err != nil {
			return nil, err
		}
	}

	recent := history.New(history.Config{
		Capacity:  cfg.Handler.TicketCacheSize,
		Threshold: cfg.Handler.Threshold(),
	})
	registry := heartbeat.NewRegistry()
	dispatchOptions := []dispatch.Option{dispatch.WithHealth(registry)}
	if sqlStore != nil {
		dispatchOptions = append(dispatchOptions, dispatch.WithRecorder(sqlStore))
	}
	dispatcher := dispatch.New(dispatch.Config{
		MaxIssues:       cfg.Handler.MaxIssues,
		FullAttachments: cfg.Handler.FullAttachments,
		FullMarker:      cfg.Handler.FullMarker,
		FetchTimeout:    cfg.Tracker.Timeout(),
	}, recent, ticketClient, logger.With("component", "dispatch"), dispatchOptions...)

	runtime := &Runtime{
		cfg:        cfg,
		logger:     logger,
		store:      sqlStore,
		tracker:    ticketClient,
		dispatcher: dispatcher,
		heartbeat:  registry,
	}

	publishers := map[string]connectors.Publisher{}
	if cfg.Slack.BotToken != "" {
		slackConnector, err := slack.New(slack.Config{
			BotToken: cfg.Slack.BotToken,
			AppToken: cfg.Slack.AppToken,
			BotEmoji: cfg.Slack.BotEmoji,
			BotIcon:  cfg.Slack.BotIcon,
			ErrorsTo: cfg.Slack.ErrorsTo,
			Debug:    cfg.Slack.Debug,
		}, dispatcher, logger.With("component", "slack"))
		if err != nil {
			runtime.Close()
			return nil, fmt.Errorf("slack connector: %w", err)
		}
		runtime.connectors = append(runtime.connectors, slackConnector)
		publishers[slackConnector.Name()] = slackConnector
	}
	if cfg.Discord.Token != "" {
		runtime.connectors = append(runtime.connectors, discord.New(
			cfg.Discord.Token,
			cfg.Discord.APIBase,
			cfg.Discord.GatewayURL,
			dispatcher,
			logger.With("component", "discord"),
		))
	}
	for _, connector := range runtime.connectors {
		if aware, ok := connector.(heartbeatAware); ok {
			aware.SetHeartbeatReporter(runtime.heartbeat)
		}
	}

	if refresher, ok := ticketClient.(projectRefresher); ok {
		service, err := scheduler.New(heartbeat.ComponentProjects, cfg.Tracker.ProjectRefresh, refresher.RefreshProjects, logger.With("component", "scheduler"))
		if err != nil {
			runtime.Close()
			return nil, fmt.Errorf("project refresh schedule: %w", err)
		}
		service.SetHeartbeatReporter(runtime.heartbeat)
		runtime.scheduler = service
	}

	staleAfter := time.Duration(cfg.StaleSec) * time.Second
	notifier := newHeartbeatNotifier(cfg.Slack.ErrorsTo, publishers, logger.With("component", "heartbeat-notifier"))
	runtime.heartbeatMonitor = heartbeat.NewMonitor(runtime.heartbeat, heartbeat.MonitorConfig{
		StaleAfter:   staleAfter,
		Logger:       logger.With("component", "heartbeat"),
		OnTransition: notifier.HandleTransition,
	})

	// Runtime gauges live on their own registry so several runtimes can coexist in one process.
	runtime.metrics = prometheus.NewRegistry()
	runtime.metrics.MustRegister(heartbeat.NewCollector(runtime.heartbeat, staleAfter))
	metricsHandler := promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, runtime.metrics},
		promhttp.HandlerOpts{},
	)

	deps := httpapi.Dependencies{
		Config:              cfg,
		Dispatcher:          dispatcher,
		Logger:              logger.With("component", "httpapi"),
		Heartbeat:           runtime.heartbeat,
		HeartbeatStaleAfter: staleAfter,
		Metrics:             metricsHandler,
	}
	if sqlStore != nil {
		deps.Store = sqlStore
	}
	runtime.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return runtime, nil
}

func newTracker(cfg config.Config, logger *slog.Logger) (tracker.Client, error) {
	switch cfg.Tracker.Provider {
	case "jira":
		client, err := tracker.NewJira(tracker.JiraConfig{
			Server:      cfg.Jira.Server,
			Username:    cfg.Jira.Username,
			APIToken:    cfg.Jira.APIToken,
			BearerToken: cfg.Jira.BearerToken,
			Timeout:     cfg.Tracker.Timeout(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("jira tracker: %w", err)
		}
		return client, nil
	case "gitlab":
		projects, err := cfg.GitLabProjects()
		if err != nil {
			return nil, err
		}
		client, err := tracker.NewGitLab(tracker.GitLabConfig{
			BaseURL:  cfg.GitLab.BaseURL,
			Token:    cfg.GitLab.Token,
			Projects: projects,
		})
		if err != nil {
			return nil, fmt.Errorf("gitlab tracker: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown tracker provider %q", config.ErrInvalid, cfg.Tracker.Provider)
	}
}

func openAuditStore(path string) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit db directory: %w", err)
	}
	sqlStore, err := store.New(path)
	if err != nil {
		return nil, err
	}
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		sqlStore.Close()
		return nil, err
	}
	return sqlStore, nil
}
