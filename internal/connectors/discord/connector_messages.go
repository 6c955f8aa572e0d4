package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dwizi/ticketbot/internal/dispatch"
	"github.com/dwizi/ticketbot/internal/format"
)

func (c *Connector) handleMessageCreate(ctx context.Context, message discordMessageCreate) {
	if message.Author.Bot {
		return
	}
	if self := c.selfID(); self != "" && message.Author.ID == self {
		return
	}
	text := strings.TrimSpace(message.Content)
	if text == "" || strings.TrimSpace(message.ChannelID) == "" {
		return
	}
	_, err := c.handler.Handle(ctx, dispatch.Message{
		Connector:  "discord",
		ChannelID:  message.ChannelID,
		UserID:     message.Author.ID,
		Text:       text,
		ReceivedAt: time.Now(),
	}, c)
	if err != nil {
		c.logger.Error("handle discord message failed", "channel_id", message.ChannelID, "message_id", message.ID, "error", err)
	}
}

// SendAttachments posts attachments as embeds. Discord caps embeds per message by count and by total
// characters, so larger batches are split into consecutive messages.
func (c *Connector) SendAttachments(ctx context.Context, channelID string, attachments []format.Attachment) error {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return fmt.Errorf("discord channel id is required")
	}
	for _, embeds := range chunkEmbeds(attachments) {
		if err := c.sendChannelMessage(ctx, channelID, discordMessagePayload{Embeds: embeds}); err != nil {
			return err
		}
	}
	return nil
}

// chunkEmbeds groups embeds in order, starting a new message before either per-message limit would be
// exceeded. An embed over the character limit on its own is still sent, alone.
func chunkEmbeds(attachments []format.Attachment) [][]discordEmbed {
	var (
		chunks  [][]discordEmbed
		current []discordEmbed
		chars   int
	)
	for _, attachment := range attachments {
		embed := toEmbed(attachment)
		size := embedSize(embed)
		if len(current) > 0 && (len(current) == maxEmbedsPerMessage || chars+size > maxEmbedCharsPerMessage) {
			chunks = append(chunks, current)
			current, chars = nil, 0
		}
		current = append(current, embed)
		chars += size
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func (c *Connector) sendChannelMessage(ctx context.Context, channelID string, body discordMessagePayload) error {
	endpoint := fmt.Sprintf("%s/channels/%s/messages", c.apiBase, channelID)
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", "ticketbot/0.1")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("discord send message failed: status=%d body=%s", res.StatusCode, string(bodyBytes))
	}
	return nil
}
