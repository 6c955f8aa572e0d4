package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Transition struct {
	Component string `json:"component"`
	// FromState is empty when the component is first seen already degraded.
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Failures  int    `json:"consecutive_failures,omitempty"`
}

type MonitorConfig struct {
	Interval     time.Duration
	StaleAfter   time.Duration
	Logger       *slog.Logger
	OnTransition func(context.Context, Transition, Snapshot)
}

// Monitor polls the registry and reports components that change state, such as a connector whose
// socket went stale or a tracker that started failing fetches.
type Monitor struct {
	registry     *Registry
	interval     time.Duration
	staleAfter   time.Duration
	logger       *slog.Logger
	onTransition func(context.Context, Transition, Snapshot)

	mu   sync.Mutex
	last map[string]string
}

func NewMonitor(registry *Registry, cfg MonitorConfig) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry:     registry,
		interval:     interval,
		staleAfter:   cfg.StaleAfter,
		logger:       logger,
		onTransition: cfg.OnTransition,
		last:         map[string]string{},
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	if m.registry == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Info("heartbeat monitor started", "interval", m.interval.String(), "stale_after", m.staleAfter.String())
	defer m.logger.Info("heartbeat monitor stopped")

	for {
		m.Check(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Check compares the current snapshot against the previous check and emits one Transition per
// component whose state changed. A component first seen healthy is silent; one first seen degraded
// is reported with an empty FromState.
func (m *Monitor) Check(ctx context.Context) []Transition {
	if m.registry == nil {
		return nil
	}
	snapshot := m.registry.Snapshot(m.staleAfter)

	m.mu.Lock()
	var transitions []Transition
	for _, item := range snapshot.Components {
		before, seen := m.last[item.Name]
		m.last[item.Name] = item.State
		if before == item.State || (!seen && !IsDegradedState(item.State)) {
			continue
		}
		transitions = append(transitions, Transition{
			Component: item.Name,
			FromState: before,
			ToState:   item.State,
			Message:   item.Message,
			Error:     item.Error,
			Failures:  item.ConsecutiveFailures,
		})
	}
	m.mu.Unlock()

	for _, transition := range transitions {
		m.logTransition(transition)
		if m.onTransition != nil {
			m.onTransition(ctx, transition, snapshot)
		}
	}
	return transitions
}

func (m *Monitor) logTransition(transition Transition) {
	attrs := []any{
		"component", transition.Component,
		"from_state", transition.FromState,
		"to_state", transition.ToState,
	}
	if transition.Message != "" {
		attrs = append(attrs, "message", transition.Message)
	}
	if transition.Error != "" {
		attrs = append(attrs, "error", transition.Error)
	}
	if transition.Failures > 0 {
		attrs = append(attrs, "consecutive_failures", transition.Failures)
	}
	if IsDegradedState(transition.ToState) {
		m.logger.Warn("component degraded", attrs...)
		return
	}
	m.logger.Info("component state changed", attrs...)
}
