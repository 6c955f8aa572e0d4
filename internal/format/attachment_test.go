package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwizi/ticketbot/internal/tracker"
)

func sampleTicket() tracker.Ticket {
	return tracker.Ticket{
		Key:         "TICK-1337",
		Title:       "Checkout times out",
		URL:         "https://jira.example.com/browse/TICK-1337",
		Priority:    "Critical",
		Status:      "In Progress",
		Assignee:    "Ada Lovelace",
		Description: "Payments provider is slow.",
		TimeTracking: tracker.TimeTracking{
			OriginalEstimate:  "3d",
			RemainingEstimate: "1d",
		},
	}
}

func TestRenderShort(t *testing.T) {
	attachment := Render(sampleTicket(), false)

	assert.Equal(t, Attachment{
		Fallback:  "[TICK-1337] - Checkout times out",
		Title:     "[TICK-1337] - Checkout times out",
		TitleLink: "https://jira.example.com/browse/TICK-1337",
		Footer:    "Assigned to Ada Lovelace",
		Color:     ColorInProgress,
		Fields: []Field{
			{Title: "Priority", Value: "Critical", Short: true},
			{Title: "Status", Value: "In Progress", Short: true},
		},
	}, attachment)
}

func TestRenderFull(t *testing.T) {
	attachment := Render(sampleTicket(), true)

	assert.Equal(t, "Payments provider is slow.", attachment.Text)
	require.Len(t, attachment.Fields, 3)
	assert.Equal(t, Field{Title: "Time Tracking", Value: "Original estimate 3d / Remaining 1d"}, attachment.Fields[2])
}

func TestRenderFullOmitsMissingOptionalFields(t *testing.T) {
	ticket := sampleTicket()
	ticket.Description = "  "
	ticket.TimeTracking = tracker.TimeTracking{}
	ticket.Priority = ""
	ticket.Assignee = ""

	attachment := Render(ticket, true)

	assert.Empty(t, attachment.Text)
	assert.Equal(t, []Field{{Title: "Status", Value: "In Progress", Short: true}}, attachment.Fields)
	assert.Equal(t, "This ticket is currently unassigned.", attachment.Footer)
}

func TestRenderFullWithOnlyTimeSpent(t *testing.T) {
	ticket := sampleTicket()
	ticket.TimeTracking = tracker.TimeTracking{TimeSpent: "4h"}

	attachment := Render(ticket, true)

	assert.Equal(t, "Logged 4h", attachment.Fields[len(attachment.Fields)-1].Value)
}

func TestStatusColor(t *testing.T) {
	cases := map[string]string{
		"Open":        ColorOpen,
		"Reopened":    ColorOpen,
		"opened":      ColorOpen,
		"In Progress": ColorInProgress,
		"IN PROGRESS": ColorInProgress,
		"Done":        ColorDone,
		"":            ColorDone,
	}
	for status, expected := range cases {
		assert.Equal(t, expected, StatusColor(status), "status %q", status)
	}
}
