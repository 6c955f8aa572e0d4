package format

import (
	"fmt"
	"strings"

	"github.com/dwizi/ticketbot/internal/tracker"
)

// Status colors mirror the tracker's own label colors.
const (
	ColorOpen       = "#4a6785"
	ColorInProgress = "#ffd351"
	ColorDone       = "#14892c"
)

const unassignedFooter = "This ticket is currently unassigned."

type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Attachment is a transport-neutral rich message block.
type Attachment struct {
	Fallback  string  `json:"fallback"`
	Title     string  `json:"title"`
	TitleLink string  `json:"title_link,omitempty"`
	Text      string  `json:"text,omitempty"`
	Footer    string  `json:"footer,omitempty"`
	Color     string  `json:"color"`
	Fields    []Field `json:"fields,omitempty"`
}

// Render builds the attachment for a ticket. Short attachments carry the title link, priority, status and assignee;
// full attachments add the description and the time tracking summary when the ticket has them.
func Render(ticket tracker.Ticket, full bool) Attachment {
	title := fmt.Sprintf("[%s] - %s", ticket.Key, strings.TrimSpace(ticket.Title))
	attachment := Attachment{
		Fallback:  title,
		Title:     title,
		TitleLink: strings.TrimSpace(ticket.URL),
		Footer:    unassignedFooter,
		Color:     StatusColor(ticket.Status),
	}
	if assignee := strings.TrimSpace(ticket.Assignee); assignee != "" {
		attachment.Footer = "Assigned to " + assignee
	}
	if priority := strings.TrimSpace(ticket.Priority); priority != "" {
		attachment.Fields = append(attachment.Fields, Field{Title: "Priority", Value: priority, Short: true})
	}
	if status := strings.TrimSpace(ticket.Status); status != "" {
		attachment.Fields = append(attachment.Fields, Field{Title: "Status", Value: status, Short: true})
	}
	if !full {
		return attachment
	}

	attachment.Text = strings.TrimSpace(ticket.Description)
	if summary := timeTrackingSummary(ticket.TimeTracking); summary != "" {
		attachment.Fields = append(attachment.Fields, Field{Title: "Time Tracking", Value: summary})
	}
	return attachment
}

func StatusColor(status string) string {
	normalized := strings.ToLower(strings.TrimSpace(status))
	switch {
	case strings.Contains(normalized, "open"):
		return ColorOpen
	case strings.Contains(normalized, "progress"):
		return ColorInProgress
	default:
		return ColorDone
	}
}

func timeTrackingSummary(tracking tracker.TimeTracking) string {
	if tracking.Empty() {
		return ""
	}
	parts := make([]string, 0, 3)
	if value := strings.TrimSpace(tracking.OriginalEstimate); value != "" {
		parts = append(parts, "Original estimate "+value)
	}
	if value := strings.TrimSpace(tracking.RemainingEstimate); value != "" {
		parts = append(parts, "Remaining "+value)
	}
	if value := strings.TrimSpace(tracking.TimeSpent); value != "" {
		parts = append(parts, "Logged "+value)
	}
	return strings.Join(parts, " / ")
}
