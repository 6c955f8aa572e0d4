package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwizi/ticketbot/internal/format"
	"github.com/dwizi/ticketbot/internal/heartbeat"
	"github.com/dwizi/ticketbot/internal/mention"
	"github.com/dwizi/ticketbot/internal/store"
	"github.com/dwizi/ticketbot/internal/tracker"
)

// MaxAttachments is the most attachments a chat platform accepts in one message.
const MaxAttachments = 20

const (
	DefaultMaxIssues    = 5
	DefaultFetchTimeout = 10 * time.Second
)

var ErrSendFailed = errors.New("send response failed")

type Message struct {
	Connector  string
	ChannelID  string
	UserID     string
	Text       string
	ReceivedAt time.Time
	// Preview replies are not written to the audit store.
	Preview bool
}

type Sender interface {
	SendAttachments(ctx context.Context, channelID string, attachments []format.Attachment) error
}

type History interface {
	ShouldRespond(channel, key string, now time.Time) bool
}

type Recorder interface {
	CreateResponse(ctx context.Context, input store.CreateResponseInput) (store.ResponseRecord, error)
}

// HealthObserver records whether the tracker answered. See heartbeat.Registry.Observe.
type HealthObserver interface {
	Observe(component, message string, err error)
}

type Config struct {
	MaxIssues       int
	FullAttachments bool
	FullMarker      string
	FetchTimeout    time.Duration
}

type Failure struct {
	Key    string
	Reason string
	Err    error
}

type Result struct {
	Mentions    []mention.Mention
	Capped      int
	Suppressed  []string
	Failures    []Failure
	Attachments []format.Attachment
	Sent        bool
}

type Dispatcher struct {
	cfg       Config
	extractor *mention.Extractor
	history   History
	tracker   tracker.Client
	recorder  Recorder
	health    HealthObserver
	logger    *slog.Logger
	metrics   *dispatchMetrics
	now       func() time.Time
}

type Option func(*Dispatcher)

func WithRecorder(recorder Recorder) Option {
	return func(dispatcher *Dispatcher) {
		dispatcher.recorder = recorder
	}
}

func WithHealth(observer HealthObserver) Option {
	return func(dispatcher *Dispatcher) {
		dispatcher.health = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(dispatcher *Dispatcher) {
		if now != nil {
			dispatcher.now = now
		}
	}
}

func New(cfg Config, history History, ticketClient tracker.Client, logger *slog.Logger, opts ...Option) *Dispatcher {
	if cfg.MaxIssues < 1 {
		cfg.MaxIssues = DefaultMaxIssues
	}
	if cfg.MaxIssues > MaxAttachments {
		cfg.MaxIssues = MaxAttachments
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	dispatcher := &Dispatcher{
		cfg:       cfg,
		extractor: mention.NewExtractor(cfg.FullMarker),
		history:   history,
		tracker:   ticketClient,
		logger:    logger,
		metrics:   globalDispatchMetrics(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(dispatcher)
		}
	}
	return dispatcher
}

// Handle answers the ticket mentions in one chat message. Tickets that fail to resolve are left out of
// the reply; only a failure to post the reply is returned as an error.
func (d *Dispatcher) Handle(ctx context.Context, msg Message, sender Sender) (Result, error) {
	var result Result
	mentions := d.extractor.Extract(msg.Text)
	if len(mentions) == 0 {
		return result, nil
	}
	if len(mentions) > d.cfg.MaxIssues {
		result.Capped = len(mentions) - d.cfg.MaxIssues
		mentions = mentions[:d.cfg.MaxIssues]
		d.logger.Debug("ticket mentions capped", "channel_id", msg.ChannelID, "kept", len(mentions), "dropped", result.Capped)
	}
	result.Mentions = mentions
	d.metrics.recordMentions("capped", result.Capped)

	now := msg.ReceivedAt
	if now.IsZero() {
		now = d.now()
	}
	allowed := make([]mention.Mention, 0, len(mentions))
	for _, item := range mentions {
		if !d.history.ShouldRespond(msg.ChannelID, item.Key, now) {
			result.Suppressed = append(result.Suppressed, item.Key)
			d.logger.Debug("ticket mention suppressed", "channel_id", msg.ChannelID, "ticket", item.Key)
			continue
		}
		allowed = append(allowed, item)
	}
	d.metrics.recordMentions("suppressed", len(result.Suppressed))
	d.metrics.recordMentions("allowed", len(allowed))
	if len(allowed) == 0 {
		return result, nil
	}

	tickets := d.fetchAll(ctx, allowed)
	d.observeTracker(ctx, tickets)
	for index, item := range allowed {
		fetched := tickets[index]
		if fetched.err != nil {
			reason := tracker.Classify(fetched.err)
			result.Failures = append(result.Failures, Failure{Key: item.Key, Reason: reason, Err: fetched.err})
			d.logger.Warn("ticket fetch failed", "channel_id", msg.ChannelID, "ticket", item.Key, "reason", reason, "error", fetched.err)
			continue
		}
		full := item.IsFull && d.cfg.FullAttachments
		result.Attachments = append(result.Attachments, format.Render(fetched.ticket, full))
	}
	if len(result.Attachments) == 0 {
		return result, nil
	}

	if err := sender.SendAttachments(ctx, msg.ChannelID, result.Attachments); err != nil {
		d.logger.Error("send ticket summary failed", "channel_id", msg.ChannelID, "attachment_count", len(result.Attachments), "error", err)
		return result, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	result.Sent = true
	d.metrics.recordResponse()
	d.logger.Info("ticket summary sent", "connector", msg.Connector, "channel_id", msg.ChannelID, "attachment_count", len(result.Attachments))
	d.record(ctx, msg, allowed, tickets)
	return result, nil
}

// observeTracker reports a tracker outage when any fetch failed with an auth or availability error.
// Otherwise any answered fetch, not found included, marks the tracker healthy again.
func (d *Dispatcher) observeTracker(ctx context.Context, tickets []fetchResult) {
	if d.health == nil || ctx.Err() != nil {
		return
	}
	answered := false
	for _, fetched := range tickets {
		switch reason := tracker.Classify(fetched.err); reason {
		case "auth", "unavailable":
			d.health.Observe(heartbeat.ComponentTracker, "ticket fetch failed: "+reason, fetched.err)
			return
		case "", "not_found":
			answered = true
		}
	}
	if answered {
		d.health.Observe(heartbeat.ComponentTracker, "ticket fetch succeeded", nil)
	}
}

type fetchResult struct {
	ticket tracker.Ticket
	err    error
}

// fetchAll resolves every key concurrently; each slot holds that key's own outcome.
func (d *Dispatcher) fetchAll(ctx context.Context, mentions []mention.Mention) []fetchResult {
	results := make([]fetchResult, len(mentions))
	var group errgroup.Group
	for index, item := range mentions {
		index, item := index, item
		group.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, d.cfg.FetchTimeout)
			defer cancel()
			started := time.Now()
			ticket, err := d.tracker.FetchTicket(fetchCtx, item.Key)
			if err == nil && strings.TrimSpace(ticket.Key) == "" {
				ticket.Key = item.Key
			}
			d.metrics.recordFetch(started, tracker.Classify(err))
			results[index] = fetchResult{ticket: ticket, err: err}
			return nil
		})
	}
	_ = group.Wait()
	return results
}

func (d *Dispatcher) record(ctx context.Context, msg Message, mentions []mention.Mention, tickets []fetchResult) {
	if d.recorder == nil || msg.Preview {
		return
	}
	for index, item := range mentions {
		if tickets[index].err != nil {
			continue
		}
		_, err := d.recorder.CreateResponse(ctx, store.CreateResponseInput{
			Connector: msg.Connector,
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
			TicketKey: item.Key,
			Full:      item.IsFull && d.cfg.FullAttachments,
		})
		if err != nil {
			d.logger.Error("record response failed", "channel_id", msg.ChannelID, "ticket", item.Key, "error", err)
		}
	}
}
