package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dwizi/ticketbot/internal/store"
)

func (r *router) handleResponses(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if r.deps.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "response audit is disabled"})
		return
	}
	query := req.URL.Query()
	limit := 50
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 {
			limit = parsed
		}
	}
	items, err := r.deps.Store.ListResponses(req.Context(), store.ListResponsesInput{
		Connector: query.Get("connector"),
		ChannelID: query.Get("channel_id"),
		TicketKey: query.Get("ticket"),
		Limit:     limit,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, map[string]any{
			"id":              item.ID,
			"connector":       item.Connector,
			"channel_id":      item.ChannelID,
			"user_id":         item.UserID,
			"ticket":          item.TicketKey,
			"full":            item.Full,
			"created_at_unix": item.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": payload,
		"count": len(payload),
	})
}
