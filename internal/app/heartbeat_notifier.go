package app

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dwizi/ticketbot/internal/connectors"
	"github.com/dwizi/ticketbot/internal/heartbeat"
)

// heartbeatNotifier posts degraded and recovered transitions to an operator channel.
type heartbeatNotifier struct {
	channelID  string
	publishers map[string]connectors.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

func newHeartbeatNotifier(channelID string, publishers map[string]connectors.Publisher, logger *slog.Logger) *heartbeatNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	cleanPublishers := map[string]connectors.Publisher{}
	for key, publisher := range publishers {
		name := strings.ToLower(strings.TrimSpace(key))
		if name == "" || publisher == nil {
			continue
		}
		cleanPublishers[name] = publisher
	}
	return &heartbeatNotifier{
		channelID:  strings.TrimSpace(channelID),
		publishers: cleanPublishers,
		logger:     logger,
		now:        time.Now,
	}
}

func (n *heartbeatNotifier) HandleTransition(ctx context.Context, transition heartbeat.Transition, snapshot heartbeat.Snapshot) {
	if n == nil || n.channelID == "" || len(n.publishers) == 0 {
		return
	}
	eventType := heartbeatTransitionType(transition)
	if eventType == "" {
		return
	}
	message := buildHeartbeatTransitionMessage(eventType, transition, snapshot, n.now())

	for name, publisher := range n.publishers {
		publishCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
		err := publisher.Publish(publishCtx, n.channelID, message)
		cancel()
		if err != nil {
			n.logger.Error("heartbeat publish failed",
				"connector", name,
				"channel_id", n.channelID,
				"component", transition.Component,
				"error", err,
			)
		}
	}
}

func heartbeatTransitionType(transition heartbeat.Transition) string {
	fromDegraded := heartbeat.IsDegradedState(transition.FromState)
	toDegraded := heartbeat.IsDegradedState(transition.ToState)
	switch {
	case !fromDegraded && toDegraded:
		return "degraded"
	case fromDegraded && strings.EqualFold(strings.TrimSpace(transition.ToState), heartbeat.StateHealthy):
		return "recovered"
	default:
		return ""
	}
}

func buildHeartbeatTransitionMessage(eventType string, transition heartbeat.Transition, snapshot heartbeat.Snapshot, at time.Time) string {
	title := "Heartbeat recovered"
	if eventType == "degraded" {
		title = "Heartbeat degraded"
	}
	builder := strings.Builder{}
	builder.WriteString(title)
	builder.WriteString("\n- component: `")
	builder.WriteString(strings.TrimSpace(transition.Component))
	builder.WriteString("`")
	builder.WriteString("\n- state: `")
	from := strings.TrimSpace(transition.FromState)
	if from == "" {
		from = "new"
	}
	builder.WriteString(from)
	builder.WriteString("` -> `")
	builder.WriteString(strings.TrimSpace(transition.ToState))
	builder.WriteString("`")
	if transition.Failures > 1 {
		builder.WriteString("\n- failures: ")
		builder.WriteString(strconv.Itoa(transition.Failures))
	}
	builder.WriteString("\n- overall: `")
	builder.WriteString(strings.TrimSpace(snapshot.Overall))
	builder.WriteString("`")
	if message := strings.TrimSpace(transition.Message); message != "" {
		builder.WriteString("\n- detail: ")
		builder.WriteString(truncateSingleLine(message, 500))
	}
	if errorText := strings.TrimSpace(transition.Error); errorText != "" {
		builder.WriteString("\n- error: ")
		builder.WriteString(truncateSingleLine(errorText, 500))
	}
	builder.WriteString("\n- at: ")
	builder.WriteString(at.UTC().Format(time.RFC3339))
	return builder.String()
}

func truncateSingleLine(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return strings.TrimSpace(text[:limit]) + "..."
}
