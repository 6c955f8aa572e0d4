package discord

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dwizi/ticketbot/internal/dispatch"
	"github.com/dwizi/ticketbot/internal/heartbeat"
)

var componentName = heartbeat.ConnectorComponent("discord")

const (
	// Discord rejects messages with more than 10 embeds or more than 6000 embed characters in total.
	maxEmbedsPerMessage     = 10
	maxEmbedCharsPerMessage = 6000

	// maxConcurrentMessages bounds the MESSAGE_CREATE events handled at once.
	maxConcurrentMessages = 8

	discordIntentGuilds          = 1 << 0
	discordIntentGuildMessages   = 1 << 9
	discordIntentDirectMessages  = 1 << 12
	discordIntentMessageContents = 1 << 15
)

type MessageHandler interface {
	Handle(ctx context.Context, msg dispatch.Message, sender dispatch.Sender) (dispatch.Result, error)
}

type Connector struct {
	token      string
	apiBase    string
	gatewayURL string
	handler    MessageHandler
	httpClient *http.Client
	logger     *slog.Logger
	botUserID  atomic.Value
	reporter   heartbeat.Reporter
	retryDelay time.Duration
}

type Option func(*Connector)

func WithHTTPClient(client *http.Client) Option {
	return func(connector *Connector) {
		if client != nil {
			connector.httpClient = client
		}
	}
}

func New(token, apiBase, gatewayURL string, handler MessageHandler, logger *slog.Logger, opts ...Option) *Connector {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = "https://discord.com/api/v10"
	}
	if strings.TrimSpace(gatewayURL) == "" {
		gatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
	}
	connector := &Connector{
		token:      strings.TrimSpace(token),
		apiBase:    strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		gatewayURL: strings.TrimSpace(gatewayURL),
		handler:    handler,
		httpClient: &http.Client{Timeout: 12 * time.Second},
		logger:     logger,
		retryDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(connector)
		}
	}
	return connector
}

func (c *Connector) Name() string {
	return "discord"
}

func (c *Connector) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	c.reporter = reporter
}

func (c *Connector) setBotUserID(id string) {
	c.botUserID.Store(strings.TrimSpace(id))
}

// selfID is the bot's own user id once READY has been received.
func (c *Connector) selfID() string {
	id, _ := c.botUserID.Load().(string)
	return id
}
