package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResponseRecord is one ticket summary the bot posted. Records are an audit trail only.
type ResponseRecord struct {
	ID        string
	Connector string
	ChannelID string
	UserID    string
	TicketKey string
	Full      bool
	CreatedAt time.Time
}

type CreateResponseInput struct {
	Connector string
	ChannelID string
	UserID    string
	TicketKey string
	Full      bool
}

type ListResponsesInput struct {
	Connector string
	ChannelID string
	TicketKey string
	Limit     int
}

func (s *Store) CreateResponse(ctx context.Context, input CreateResponseInput) (ResponseRecord, error) {
	record := ResponseRecord{
		ID:        "resp_" + uuid.NewString(),
		Connector: strings.ToLower(strings.TrimSpace(input.Connector)),
		ChannelID: strings.TrimSpace(input.ChannelID),
		UserID:    strings.TrimSpace(input.UserID),
		TicketKey: strings.ToUpper(strings.TrimSpace(input.TicketKey)),
		Full:      input.Full,
		CreatedAt: time.Now().UTC(),
	}
	if record.Connector == "" || record.ChannelID == "" || record.TicketKey == "" {
		return ResponseRecord{}, fmt.Errorf("missing required response fields")
	}

	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO responses (id, connector, channel_id, user_id, ticket_key, is_full, created_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Connector,
		record.ChannelID,
		nullIfEmpty(record.UserID),
		record.TicketKey,
		boolToInt(record.Full),
		record.CreatedAt.Unix(),
	); err != nil {
		return ResponseRecord{}, fmt.Errorf("insert response: %w", err)
	}
	return record, nil
}

func (s *Store) ListResponses(ctx context.Context, input ListResponsesInput) ([]ResponseRecord, error) {
	limit := input.Limit
	if limit < 1 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	whereParts := []string{"1=1"}
	args := make([]any, 0, 4)

	if connector := strings.ToLower(strings.TrimSpace(input.Connector)); connector != "" {
		whereParts = append(whereParts, "connector = ?")
		args = append(args, connector)
	}
	if channelID := strings.TrimSpace(input.ChannelID); channelID != "" {
		whereParts = append(whereParts, "channel_id = ?")
		args = append(args, channelID)
	}
	if ticketKey := strings.ToUpper(strings.TrimSpace(input.TicketKey)); ticketKey != "" {
		whereParts = append(whereParts, "ticket_key = ?")
		args = append(args, ticketKey)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, connector, channel_id, COALESCE(user_id, ''), ticket_key, is_full, created_at_unix
		 FROM responses
		 WHERE `+strings.Join(whereParts, " AND ")+`
		 ORDER BY created_at_unix DESC, rowid DESC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	records := make([]ResponseRecord, 0, limit)
	for rows.Next() {
		var record ResponseRecord
		var full int
		var createdAtUnix int64
		if err := rows.Scan(
			&record.ID,
			&record.Connector,
			&record.ChannelID,
			&record.UserID,
			&record.TicketKey,
			&full,
			&createdAtUnix,
		); err != nil {
			return nil, err
		}
		record.Full = full == 1
		if createdAtUnix > 0 {
			record.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
