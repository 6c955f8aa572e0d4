package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dwizi/ticketbot/internal/dispatch"
	"github.com/dwizi/ticketbot/internal/format"
)

type lookupRequest struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
}

// captureSender keeps the reply instead of posting it anywhere.
type captureSender struct {
	attachments []format.Attachment
}

func (s *captureSender) SendAttachments(ctx context.Context, channelID string, attachments []format.Attachment) error {
	s.attachments = append(s.attachments, attachments...)
	return nil
}

// handleLookup runs a message through the dispatcher as if it came from chat and returns the reply.
// Lookups keep their own suppression history under "api:"-prefixed channels.
func (r *router) handleLookup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if r.deps.Dispatcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dispatcher is unavailable"})
		return
	}

	var payload lookupRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	channelID := strings.TrimSpace(payload.ChannelID)
	if channelID == "" {
		channelID = "api"
	}

	sender := &captureSender{}
	result, err := r.deps.Dispatcher.Handle(req.Context(), dispatch.Message{
		Connector:  "api",
		ChannelID:  "api:" + channelID,
		UserID:     strings.TrimSpace(payload.UserID),
		Text:       text,
		ReceivedAt: time.Now(),
		Preview:    true,
	}, sender)
	if err != nil && !errors.Is(err, dispatch.ErrSendFailed) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	mentions := make([]string, 0, len(result.Mentions))
	for _, item := range result.Mentions {
		mentions = append(mentions, item.Key)
	}
	failures := make([]map[string]string, 0, len(result.Failures))
	for _, failure := range result.Failures {
		failures = append(failures, map[string]string{"key": failure.Key, "reason": failure.Reason})
	}
	suppressed := result.Suppressed
	if suppressed == nil {
		suppressed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mentions":    mentions,
		"capped":      result.Capped,
		"suppressed":  suppressed,
		"failures":    failures,
		"attachments": sender.attachments,
	})
}
