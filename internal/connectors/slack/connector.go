// Package slack connects the ticket dispatcher to Slack over Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/dwizi/ticketbot/internal/dispatch"
	"github.com/dwizi/ticketbot/internal/format"
	"github.com/dwizi/ticketbot/internal/heartbeat"
)

var componentName = heartbeat.ConnectorComponent("slack")

// maxConcurrentMessages bounds the messages handled at once, so a slow tracker lookup in one channel
// does not hold up the others.
const maxConcurrentMessages = 8

type Config struct {
	BotToken string // xoxb-... bot token
	AppToken string // xapp-... app-level token for Socket Mode
	BotEmoji string
	BotIcon  string
	ErrorsTo string // channel that receives tracker outage notices
	Debug    bool
}

type MessageHandler interface {
	Handle(ctx context.Context, msg dispatch.Message, sender dispatch.Sender) (dispatch.Result, error)
}

type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

type Connector struct {
	api       poster
	client    *slackapi.Client
	socket    *socketmode.Client
	handler   MessageHandler
	logger    *slog.Logger
	reporter  heartbeat.Reporter
	botUserID string
	connected atomic.Bool
	botEmoji  string
	botIcon   string
	errorsTo  string
}

func New(cfg Config, handler MessageHandler, logger *slog.Logger) (*Connector, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if !strings.HasPrefix(cfg.AppToken, "xapp-") {
		return nil, fmt.Errorf("app token must start with xapp-")
	}

	client := slackapi.New(
		cfg.BotToken,
		slackapi.OptionDebug(cfg.Debug),
		slackapi.OptionAppLevelToken(cfg.AppToken),
	)
	connector := newConnector(cfg, client, handler, logger)
	connector.client = client
	connector.socket = socketmode.New(client, socketmode.OptionDebug(cfg.Debug))
	return connector, nil
}

func newConnector(cfg Config, api poster, handler MessageHandler, logger *slog.Logger) *Connector {
	return &Connector{
		api:      api,
		handler:  handler,
		logger:   logger,
		botEmoji: strings.TrimSpace(cfg.BotEmoji),
		botIcon:  strings.TrimSpace(cfg.BotIcon),
		errorsTo: strings.TrimSpace(cfg.ErrorsTo),
	}
}

func (c *Connector) Name() string {
	return "slack"
}

func (c *Connector) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	c.reporter = reporter
}

// Start runs the Socket Mode session until ctx is canceled.
func (c *Connector) Start(ctx context.Context) error {
	c.report(func(r heartbeat.Reporter) { r.Starting(componentName, "starting") })

	auth, err := c.client.AuthTestContext(ctx)
	if err != nil {
		c.report(func(r heartbeat.Reporter) { r.Degrade(componentName, "auth test failed", err) })
		return fmt.Errorf("slack auth test: %w", err)
	}
	c.botUserID = auth.UserID
	c.logger.Info("connector started", "mode", "socket", "bot_user_id", c.botUserID)

	go c.beatWhileConnected(ctx, 30*time.Second)
	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		c.eventLoop(loopCtx, c.socket.Events)
	}()

	err = c.socket.RunContext(ctx)
	stopLoop()
	<-loopDone
	if ctx.Err() != nil {
		c.report(func(r heartbeat.Reporter) { r.Stopped(componentName, "stopped") })
		c.logger.Info("connector stopped")
		return nil
	}
	c.report(func(r heartbeat.Reporter) { r.Degrade(componentName, "socket mode ended", err) })
	return fmt.Errorf("slack socket mode: %w", err)
}

// eventLoop reads Socket Mode events until ctx is done or events closes, then waits for in-flight
// messages. Connection events are handled inline; messages run on the bounded handler group.
func (c *Connector) eventLoop(ctx context.Context, events <-chan socketmode.Event) {
	var handlers errgroup.Group
	handlers.SetLimit(maxConcurrentMessages)
	defer handlers.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ctx, evt, &handlers)
		}
	}
}

func (c *Connector) handleEvent(ctx context.Context, evt socketmode.Event, handlers *errgroup.Group) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		c.logger.Info("connecting to socket mode")
	case socketmode.EventTypeConnected:
		c.connected.Store(true)
		c.report(func(r heartbeat.Reporter) { r.Beat(componentName, "socket mode connected") })
	case socketmode.EventTypeDisconnect:
		c.connected.Store(false)
		c.logger.Warn("socket mode disconnected")
	case socketmode.EventTypeConnectionError:
		c.connected.Store(false)
		c.report(func(r heartbeat.Reporter) {
			r.Degrade(componentName, "socket mode connection error", fmt.Errorf("%v", evt.Data))
		})
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		handlers.Go(func() error {
			c.handleEventsAPI(ctx, eventsAPIEvent)
			return nil
		})
	}
}

// beatWhileConnected keeps the component fresh on quiet workspaces. Socket Mode answers pings internally,
// so a live connection produces no events of its own.
func (c *Connector) beatWhileConnected(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.connected.Load() {
				c.report(func(r heartbeat.Reporter) { r.Beat(componentName, "socket mode connected") })
			}
		}
	}
}

func (c *Connector) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	if message, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		c.handleMessage(ctx, message)
	}
}

func (c *Connector) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.SubType != "" || ev.BotID != "" {
		return
	}
	if c.botUserID != "" && ev.User == c.botUserID {
		return
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" || ev.Channel == "" {
		return
	}
	c.report(func(r heartbeat.Reporter) { r.Beat(componentName, "message received") })

	result, err := c.handler.Handle(ctx, dispatch.Message{
		Connector:  "slack",
		ChannelID:  ev.Channel,
		UserID:     ev.User,
		Text:       text,
		ReceivedAt: time.Now(),
	}, c)
	if err != nil {
		c.logger.Error("handle slack message failed", "channel_id", ev.Channel, "error", err)
	}
	c.notifyFailures(ctx, ev.Channel, result.Failures)
}

// notifyFailures tells the errors channel about tracker outages. Unknown tickets are not reported.
func (c *Connector) notifyFailures(ctx context.Context, channelID string, failures []dispatch.Failure) {
	if c.errorsTo == "" {
		return
	}
	keys := make([]string, 0, len(failures))
	reasons := map[string]struct{}{}
	for _, failure := range failures {
		if failure.Reason != "auth" && failure.Reason != "unavailable" {
			continue
		}
		keys = append(keys, failure.Key)
		reasons[failure.Reason] = struct{}{}
	}
	if len(keys) == 0 {
		return
	}
	reason := "tracker unavailable"
	if _, ok := reasons["auth"]; ok {
		reason = "tracker authentication failed"
	}
	text := fmt.Sprintf("Could not look up %s mentioned in <#%s>: %s.", strings.Join(keys, ", "), channelID, reason)
	if err := c.Publish(ctx, c.errorsTo, text); err != nil {
		c.logger.Error("post slack error notice failed", "channel_id", c.errorsTo, "error", err)
	}
}

// Publish posts a plain-text message. An empty channel falls back to the errors channel.
func (c *Connector) Publish(ctx context.Context, channelID, text string) error {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		channelID = c.errorsTo
	}
	text = strings.TrimSpace(text)
	if channelID == "" || text == "" {
		return nil
	}
	if _, _, err := c.api.PostMessageContext(ctx, channelID, c.messageOptions(slackapi.MsgOptionText(text, false))...); err != nil {
		return fmt.Errorf("slack post message: %w", err)
	}
	return nil
}

// SendAttachments posts all attachments as a single message.
func (c *Connector) SendAttachments(ctx context.Context, channelID string, attachments []format.Attachment) error {
	if len(attachments) == 0 {
		return nil
	}
	converted := make([]slackapi.Attachment, 0, len(attachments))
	for _, attachment := range attachments {
		converted = append(converted, toSlackAttachment(attachment))
	}
	_, _, err := c.api.PostMessageContext(ctx, channelID, c.messageOptions(slackapi.MsgOptionAttachments(converted...))...)
	if err != nil {
		return fmt.Errorf("slack post message: %w", err)
	}
	return nil
}

func (c *Connector) messageOptions(options ...slackapi.MsgOption) []slackapi.MsgOption {
	if c.botEmoji != "" {
		options = append(options, slackapi.MsgOptionIconEmoji(c.botEmoji))
	} else if c.botIcon != "" {
		options = append(options, slackapi.MsgOptionIconURL(c.botIcon))
	}
	return options
}

func toSlackAttachment(attachment format.Attachment) slackapi.Attachment {
	fields := make([]slackapi.AttachmentField, 0, len(attachment.Fields))
	for _, field := range attachment.Fields {
		fields = append(fields, slackapi.AttachmentField{
			Title: field.Title,
			Value: field.Value,
			Short: field.Short,
		})
	}
	return slackapi.Attachment{
		Color:     attachment.Color,
		Fallback:  attachment.Fallback,
		Title:     attachment.Title,
		TitleLink: attachment.TitleLink,
		Text:      attachment.Text,
		Footer:    attachment.Footer,
		Fields:    fields,
	}
}

func (c *Connector) report(fn func(heartbeat.Reporter)) {
	if c.reporter != nil {
		fn(c.reporter)
	}
}
