package discord

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dwizi/ticketbot/internal/format"
)

type gatewayEnvelope struct {
	Op int             `json:"op"`
	T  string          `json:"t"`
	S  *int64          `json:"s"`
	D  json.RawMessage `json:"d"`
}

type discordHello struct {
	HeartbeatIntervalMS int64 `json:"heartbeat_interval"`
}

type discordReady struct {
	User discordAuthor `json:"user"`
}

type discordMessageCreate struct {
	ID        string        `json:"id"`
	ChannelID string        `json:"channel_id"`
	GuildID   string        `json:"guild_id"`
	Content   string        `json:"content"`
	Author    discordAuthor `json:"author"`
}

type discordAuthor struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Bot        bool   `json:"bot"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	URL         string              `json:"url,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordMessagePayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func toEmbed(attachment format.Attachment) discordEmbed {
	embed := discordEmbed{
		Title:       clip(attachment.Title, 256),
		URL:         attachment.TitleLink,
		Description: clip(attachment.Text, 4096),
		Color:       parseColor(attachment.Color),
	}
	if footer := strings.TrimSpace(attachment.Footer); footer != "" {
		embed.Footer = &discordEmbedFooter{Text: clip(footer, 2048)}
	}
	for _, field := range attachment.Fields {
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name:   clip(field.Title, 256),
			Value:  clip(field.Value, 1024),
			Inline: field.Short,
		})
	}
	return embed
}

// parseColor turns "#rrggbb" into the integer Discord expects. Anything else yields 0.
func parseColor(hex string) int {
	value, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(hex), "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(value)
}

// clip trims content to limit characters, cutting on rune boundaries.
func clip(content string, limit int) string {
	trimmed := strings.TrimSpace(content)
	if utf8.RuneCountInString(trimmed) <= limit {
		return trimmed
	}
	runes := []rune(trimmed)
	return strings.TrimSpace(string(runes[:limit-3])) + "..."
}

// embedSize counts the characters Discord totals against its per-message embed limit.
func embedSize(embed discordEmbed) int {
	size := utf8.RuneCountInString(embed.Title) + utf8.RuneCountInString(embed.Description)
	if embed.Footer != nil {
		size += utf8.RuneCountInString(embed.Footer.Text)
	}
	for _, field := range embed.Fields {
		size += utf8.RuneCountInString(field.Name) + utf8.RuneCountInString(field.Value)
	}
	return size
}
