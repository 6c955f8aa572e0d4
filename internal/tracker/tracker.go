package tracker

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotFound    = errors.New("ticket not found")
	ErrAuthFailure = errors.New("tracker authentication failed")
	ErrUnavailable = errors.New("tracker unavailable")
)

// Ticket is a read-only snapshot of the fields a chat summary needs.
type Ticket struct {
	Key          string
	Title        string
	URL          string
	Priority     string
	Status       string
	Assignee     string
	Description  string
	TimeTracking TimeTracking
}

type TimeTracking struct {
	OriginalEstimate  string
	RemainingEstimate string
	TimeSpent         string
}

func (t TimeTracking) Empty() bool {
	return strings.TrimSpace(t.OriginalEstimate) == "" &&
		strings.TrimSpace(t.RemainingEstimate) == "" &&
		strings.TrimSpace(t.TimeSpent) == ""
}

type Client interface {
	FetchTicket(ctx context.Context, key string) (Ticket, error)
}

// Classify returns the failure label for a fetch error: not_found, auth, unavailable or unknown.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAuthFailure):
		return "auth"
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "unavailable"
	default:
		return "unknown"
	}
}

func statusError(status int) error {
	switch {
	case status == 404:
		return ErrNotFound
	case status == 401 || status == 403:
		return ErrAuthFailure
	default:
		return ErrUnavailable
	}
}
