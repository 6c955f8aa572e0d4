package tracker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJiraServer(t *testing.T, issueCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rest/api/2/project":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": "10000", "key": "TICK", "name": "Ticketing"},
				{"id": "10001", "key": "OPS", "name": "Operations"},
			})
		case "/rest/api/2/issue/TICK-1":
			issueCalls.Add(1)
			assert.Contains(t, r.URL.Query().Get("fields"), "timetracking")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":  "20001",
				"key": "TICK-1",
				"fields": map[string]any{
					"summary":     "Login page returns 500",
					"description": "Users cannot sign in since the deploy.",
					"priority":    map[string]any{"name": "High"},
					"status":      map[string]any{"name": "In Progress"},
					"assignee":    map[string]any{"name": "ada", "displayName": "Ada Lovelace"},
					"timetracking": map[string]any{
						"originalEstimate":  "2d",
						"remainingEstimate": "1d",
						"timeSpent":         "1d",
					},
				},
			})
		case "/rest/api/2/issue/OPS-2":
			issueCalls.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":     "20002",
				"key":    "OPS-2",
				"fields": map[string]any{"summary": "Rotate certificates", "status": map[string]any{"name": "Open"}},
			})
		case "/rest/api/2/issue/TICK-404":
			issueCalls.Add(1)
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errorMessages":["Issue does not exist or you do not have permission to see it."]}`)
		case "/rest/api/2/issue/TICK-401":
			issueCalls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestJira(t *testing.T, serverURL string) *Jira {
	t.Helper()
	client, err := NewJira(JiraConfig{Server: serverURL, Username: "bot", APIToken: "secret"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return client
}

func TestJiraFetchTicketMapsFields(t *testing.T) {
	var calls atomic.Int32
	server := newTestJiraServer(t, &calls)
	client := newTestJira(t, server.URL)

	ticket, err := client.FetchTicket(context.Background(), "TICK-1")
	require.NoError(t, err)

	assert.Equal(t, Ticket{
		Key:         "TICK-1",
		Title:       "Login page returns 500",
		URL:         server.URL + "/browse/TICK-1",
		Priority:    "High",
		Status:      "In Progress",
		Assignee:    "Ada Lovelace",
		Description: "Users cannot sign in since the deploy.",
		TimeTracking: TimeTracking{
			OriginalEstimate:  "2d",
			RemainingEstimate: "1d",
			TimeSpent:         "1d",
		},
	}, ticket)
}

func TestJiraFetchTicketOptionalFieldsMissing(t *testing.T) {
	var calls atomic.Int32
	server := newTestJiraServer(t, &calls)
	client := newTestJira(t, server.URL)

	ticket, err := client.FetchTicket(context.Background(), "OPS-2")
	require.NoError(t, err)

	assert.Equal(t, "Open", ticket.Status)
	assert.Empty(t, ticket.Priority)
	assert.Empty(t, ticket.Assignee)
	assert.True(t, ticket.TimeTracking.Empty())
}

func TestJiraFetchTicketClassifiesErrors(t *testing.T) {
	var calls atomic.Int32
	server := newTestJiraServer(t, &calls)
	client := newTestJira(t, server.URL)

	_, err := client.FetchTicket(context.Background(), "TICK-404")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "not_found", Classify(err))

	_, err = client.FetchTicket(context.Background(), "TICK-401")
	require.ErrorIs(t, err, ErrAuthFailure)
	assert.Equal(t, "auth", Classify(err))
}

func TestJiraUnknownProjectSkipsRequest(t *testing.T) {
	var calls atomic.Int32
	server := newTestJiraServer(t, &calls)
	client := newTestJira(t, server.URL)

	assert.True(t, client.KnowsProject("NOPE-1"), "all projects are accepted before the first refresh")
	require.NoError(t, client.RefreshProjects(context.Background()))
	assert.True(t, client.KnowsProject("OPS-9"))

	_, err := client.FetchTicket(context.Background(), "NOPE-1")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(0), calls.Load())
}

func TestJiraUnavailableServer(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	serverURL := server.URL
	server.Close()
	client := newTestJira(t, serverURL)

	_, err := client.FetchTicket(context.Background(), "TICK-1")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "unavailable", Classify(err))
}

func TestNewJiraRequiresServer(t *testing.T) {
	_, err := NewJira(JiraConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestBearerTransportSetsHeader(t *testing.T) {
	var header string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[]`)
	}))
	defer server.Close()

	client, err := NewJira(JiraConfig{Server: server.URL, BearerToken: "pat-123"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, client.RefreshProjects(context.Background()))

	assert.Equal(t, "Bearer pat-123", header)
	assert.False(t, client.KnowsProject("TICK-1"))
}
