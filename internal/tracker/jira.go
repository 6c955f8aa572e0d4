package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	jira "github.com/andygrunwald/go-jira"

	"github.com/dwizi/ticketbot/internal/mention"
)

const jiraIssueFields = "summary,description,priority,status,timetracking,assignee"

type JiraConfig struct {
	Server      string
	Username    string
	APIToken    string
	BearerToken string
	Timeout     time.Duration
}

// Jira fetches tickets from a Jira server and only queries projects the server is known to have.
type Jira struct {
	client *jira.Client
	server string
	logger *slog.Logger

	mu       sync.RWMutex
	projects map[string]struct{}
}

func NewJira(cfg JiraConfig, logger *slog.Logger) (*Jira, error) {
	server := strings.TrimRight(strings.TrimSpace(cfg.Server), "/")
	if server == "" {
		return nil, fmt.Errorf("jira server is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	switch {
	case strings.TrimSpace(cfg.BearerToken) != "":
		httpClient.Transport = &bearerTransport{token: strings.TrimSpace(cfg.BearerToken)}
	case strings.TrimSpace(cfg.Username) != "":
		transport := jira.BasicAuthTransport{
			Username: strings.TrimSpace(cfg.Username),
			Password: strings.TrimSpace(cfg.APIToken),
		}
		httpClient = transport.Client()
		httpClient.Timeout = timeout
	}

	client, err := jira.NewClient(httpClient, server+"/")
	if err != nil {
		return nil, fmt.Errorf("create jira client: %w", err)
	}
	return &Jira{
		client: client,
		server: server,
		logger: logger,
	}, nil
}

func (j *Jira) Name() string {
	return "jira"
}

// RefreshProjects reloads the set of project keys the server knows about.
func (j *Jira) RefreshProjects(ctx context.Context) error {
	list, res, err := j.client.Project.GetListWithContext(ctx)
	if err != nil {
		return fmt.Errorf("list jira projects: %w: %w", jiraError(res), err)
	}
	projects := make(map[string]struct{}, len(*list))
	for _, project := range *list {
		key := strings.ToUpper(strings.TrimSpace(project.Key))
		if key != "" {
			projects[key] = struct{}{}
		}
	}
	j.mu.Lock()
	j.projects = projects
	j.mu.Unlock()
	j.logger.Info("jira projects loaded", "project_count", len(projects))
	return nil
}

// KnowsProject reports whether key belongs to a known project. Every project is accepted until the
// project list has been loaded once.
func (j *Jira) KnowsProject(key string) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.projects == nil {
		return true
	}
	_, ok := j.projects[mention.ProjectKey(key)]
	return ok
}

func (j *Jira) FetchTicket(ctx context.Context, key string) (Ticket, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if !j.KnowsProject(key) {
		return Ticket{}, fmt.Errorf("jira project of %s is unknown: %w", key, ErrNotFound)
	}

	issue, res, err := j.client.Issue.GetWithContext(ctx, key, &jira.GetQueryOptions{Fields: jiraIssueFields})
	if err != nil {
		return Ticket{}, fmt.Errorf("fetch jira issue %s: %w: %w", key, jiraError(res), err)
	}
	if issue == nil || issue.Fields == nil {
		return Ticket{}, fmt.Errorf("fetch jira issue %s: empty response: %w", key, ErrUnavailable)
	}
	return j.mapToTicket(key, issue), nil
}

func (j *Jira) mapToTicket(key string, issue *jira.Issue) Ticket {
	fields := issue.Fields
	ticket := Ticket{
		Key:         key,
		Title:       strings.TrimSpace(fields.Summary),
		URL:         j.server + "/browse/" + key,
		Description: strings.TrimSpace(fields.Description),
	}
	if issue.Key != "" {
		ticket.Key = issue.Key
		ticket.URL = j.server + "/browse/" + issue.Key
	}
	if fields.Priority != nil {
		ticket.Priority = strings.TrimSpace(fields.Priority.Name)
	}
	if fields.Status != nil {
		ticket.Status = strings.TrimSpace(fields.Status.Name)
	}
	if fields.Assignee != nil {
		ticket.Assignee = strings.TrimSpace(fields.Assignee.DisplayName)
		if ticket.Assignee == "" {
			ticket.Assignee = strings.TrimSpace(fields.Assignee.Name)
		}
	}
	if fields.TimeTracking != nil {
		ticket.TimeTracking = TimeTracking{
			OriginalEstimate:  strings.TrimSpace(fields.TimeTracking.OriginalEstimate),
			RemainingEstimate: strings.TrimSpace(fields.TimeTracking.RemainingEstimate),
			TimeSpent:         strings.TrimSpace(fields.TimeTracking.TimeSpent),
		}
	}
	return ticket
}

func jiraError(res *jira.Response) error {
	if res == nil || res.Response == nil {
		return ErrUnavailable
	}
	return statusError(res.StatusCode)
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return base.RoundTrip(clone)
}
