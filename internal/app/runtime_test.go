package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dwizi/ticketbot/internal/config"
	"github.com/dwizi/ticketbot/internal/connectors"
	"github.com/dwizi/ticketbot/internal/heartbeat"
	"github.com/dwizi/ticketbot/internal/tracker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig() config.Config {
	return config.Config{
		Handler: config.HandlerConfig{
			MaxIssues:         5,
			ResponseThreshold: 900,
			TicketCacheSize:   5,
			FullAttachments:   true,
			FullMarker:        "!",
		},
		Tracker: config.TrackerConfig{Provider: "gitlab", TimeoutSeconds: 5},
		GitLab: config.GitLabConfig{
			BaseURL:     "https://gitlab.example.com",
			Token:       "glpat-test",
			ProjectsCSV: "TICK=acme/ticketing",
		},
		HTTPAddr: "127.0.0.1:0",
		StaleSec: 120,
		LogLevel: "info",
	}
}

func TestNewWiresGitLabDiscordAndAudit(t *testing.T) {
	cfg := baseConfig()
	cfg.Discord = config.DiscordConfig{Token: "discord-token", APIBase: "https://discord.example.com/api/v10"}
	cfg.AuditDB = filepath.Join(t.TempDir(), "nested", "audit.sqlite")

	runtime, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer runtime.Close()

	if runtime.store == nil {
		t.Fatal("expected audit store to be opened")
	}
	if err := runtime.store.Ping(context.Background()); err != nil {
		t.Fatalf("ping audit store: %v", err)
	}
	if len(runtime.connectors) != 1 || runtime.connectors[0].Name() != "discord" {
		t.Fatalf("expected only the discord connector, got %d", len(runtime.connectors))
	}
	if _, ok := runtime.tracker.(*tracker.GitLab); !ok {
		t.Fatalf("expected gitlab tracker, got %T", runtime.tracker)
	}
	if runtime.scheduler != nil {
		t.Fatal("gitlab tracker has no project cache to refresh")
	}
}

func TestNewWiresJiraSlackAndProjectRefresh(t *testing.T) {
	cfg := baseConfig()
	cfg.Tracker.Provider = "jira"
	cfg.Tracker.ProjectRefresh = "@every 1h"
	cfg.Jira = config.JiraConfig{Server: "https://jira.example.com", BearerToken: "pat"}
	cfg.Slack = config.SlackConfig{BotToken: "xoxb-1", AppToken: "xapp-1", ErrorsTo: "COPS"}

	runtime, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer runtime.Close()

	if runtime.store != nil {
		t.Fatal("audit store should stay closed without audit.db_path")
	}
	if len(runtime.connectors) != 1 || runtime.connectors[0].Name() != "slack" {
		t.Fatalf("expected only the slack connector, got %d", len(runtime.connectors))
	}
	if runtime.scheduler == nil {
		t.Fatal("expected project refresh scheduler for jira")
	}
}

func TestNewRejectsBadWiring(t *testing.T) {
	cfg := baseConfig()
	cfg.Tracker.Provider = "bugzilla"
	if _, err := New(cfg, testLogger()); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for unknown provider, got %v", err)
	}

	cfg = baseConfig()
	cfg.Slack = config.SlackConfig{BotToken: "xoxb-1", AppToken: "xoxb-2"}
	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("expected slack token error")
	}

	cfg = baseConfig()
	cfg.Tracker.Provider = "jira"
	cfg.Jira = config.JiraConfig{Server: "https://jira.example.com", BearerToken: "pat"}
	cfg.Tracker.ProjectRefresh = "every hour"
	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	runtime, err := New(baseConfig(), testLogger())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer runtime.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runtime.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for !hasComponent(runtime.heartbeat, "api") {
		if time.Now().After(deadline) {
			t.Fatal("api component never reported")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func hasComponent(registry *heartbeat.Registry, name string) bool {
	for _, component := range registry.Snapshot(time.Minute).Components {
		if component.Name == name {
			return true
		}
	}
	return false
}

func TestRunMonitoredReportsLifecycle(t *testing.T) {
	registry := heartbeat.NewRegistry()

	err := runMonitored(context.Background(), registry, "connector:slack", 0, func(ctx context.Context) error {
		return errors.New("invalid_auth")
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	status := registry.Snapshot(time.Minute).Components[0]
	if status.State != heartbeat.StateDegraded || status.Error != "invalid_auth" {
		t.Fatalf("expected degraded component, got %+v", status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = runMonitored(ctx, registry, "connector:slack", time.Millisecond, func(ctx context.Context) error {
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	status = registry.Snapshot(time.Minute).Components[0]
	if status.State != heartbeat.StateStopped {
		t.Fatalf("expected stopped after cancel, got %s", status.State)
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	texts    []string
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channelID)
	f.texts = append(f.texts, text)
	return f.err
}

func TestHeartbeatTransitionType(t *testing.T) {
	cases := []struct {
		from, to, want string
	}{
		{heartbeat.StateHealthy, heartbeat.StateDegraded, "degraded"},
		{heartbeat.StateHealthy, heartbeat.StateStale, "degraded"},
		{heartbeat.StateStale, heartbeat.StateHealthy, "recovered"},
		{heartbeat.StateDegraded, heartbeat.StateStopped, ""},
		{heartbeat.StateStarting, heartbeat.StateHealthy, ""},
		{"", heartbeat.StateDegraded, "degraded"},
	}
	for _, tc := range cases {
		got := heartbeatTransitionType(heartbeat.Transition{FromState: tc.from, ToState: tc.to})
		if got != tc.want {
			t.Fatalf("%s -> %s: expected %q, got %q", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestHeartbeatNotifierPublishesTransitions(t *testing.T) {
	publisher := &fakePublisher{}
	notifier := newHeartbeatNotifier(" COPS ", map[string]connectors.Publisher{"Slack": publisher, "": &fakePublisher{}}, testLogger())
	notifier.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	notifier.HandleTransition(context.Background(), heartbeat.Transition{
		Component: "connector:discord",
		FromState: heartbeat.StateHealthy,
		ToState:   heartbeat.StateDegraded,
		Message:   "gateway read failed",
		Error:     "websocket: close 4004\n authentication failed",
	}, heartbeat.Snapshot{Overall: heartbeat.StateDegraded})
	notifier.HandleTransition(context.Background(), heartbeat.Transition{
		Component: "connector:discord",
		FromState: heartbeat.StateStarting,
		ToState:   heartbeat.StateHealthy,
	}, heartbeat.Snapshot{Overall: heartbeat.StateHealthy})

	if len(publisher.texts) != 1 {
		t.Fatalf("expected one notice, got %d", len(publisher.texts))
	}
	if publisher.channels[0] != "COPS" {
		t.Fatalf("expected COPS channel, got %q", publisher.channels[0])
	}
	text := publisher.texts[0]
	for _, want := range []string{
		"Heartbeat degraded",
		"component: `connector:discord`",
		"state: `healthy` -> `degraded`",
		"error: websocket: close 4004 authentication failed",
		"at: 2026-03-01T12:00:00Z",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in notice:\n%s", want, text)
		}
	}
}

func TestHeartbeatNotifierWithoutChannelIsNoop(t *testing.T) {
	publisher := &fakePublisher{}
	notifier := newHeartbeatNotifier("", map[string]connectors.Publisher{"slack": publisher}, testLogger())

	notifier.HandleTransition(context.Background(), heartbeat.Transition{
		Component: "api",
		FromState: heartbeat.StateHealthy,
		ToState:   heartbeat.StateDegraded,
	}, heartbeat.Snapshot{})

	if len(publisher.texts) != 0 {
		t.Fatalf("expected no notices, got %d", len(publisher.texts))
	}
}

func TestHeartbeatNotifierReportsFirstTrackerOutage(t *testing.T) {
	publisher := &fakePublisher{}
	notifier := newHeartbeatNotifier("COPS", map[string]connectors.Publisher{"slack": publisher}, testLogger())

	notifier.HandleTransition(context.Background(), heartbeat.Transition{
		Component: heartbeat.ComponentTracker,
		ToState:   heartbeat.StateDegraded,
		Message:   "ticket fetch failed: auth",
		Failures:  3,
	}, heartbeat.Snapshot{Overall: heartbeat.StateDegraded})

	if len(publisher.texts) != 1 {
		t.Fatalf("expected one notice, got %d", len(publisher.texts))
	}
	for _, want := range []string{"component: `tracker`", "state: `new` -> `degraded`", "failures: 3", "detail: ticket fetch failed: auth"} {
		if !strings.Contains(publisher.texts[0], want) {
			t.Fatalf("expected %q in notice:\n%s", want, publisher.texts[0])
		}
	}
}
