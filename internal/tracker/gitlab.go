package tracker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/dwizi/ticketbot/internal/mention"
)

const gitlabPriorityLabelPrefix = "priority::"

type GitLabConfig struct {
	BaseURL string
	Token   string
	// Projects maps a ticket project key to a GitLab project path, e.g. "TICK" -> "acme/ticketing".
	Projects map[string]string
}

// GitLab resolves "KEY-N" as issue N of the GitLab project mapped to KEY.
type GitLab struct {
	client   *gitlab.Client
	projects map[string]string
}

func NewGitLab(cfg GitLabConfig) (*GitLab, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("gitlab token is required")
	}
	client, err := newGitLabClient(cfg.BaseURL, strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	projects := make(map[string]string, len(cfg.Projects))
	for key, path := range cfg.Projects {
		key = strings.ToUpper(strings.TrimSpace(key))
		path = strings.Trim(strings.TrimSpace(path), "/")
		if key != "" && path != "" {
			projects[key] = path
		}
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("gitlab project mapping is empty")
	}
	return &GitLab{client: client, projects: projects}, nil
}

func newGitLabClient(baseURL, token string) (*gitlab.Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return gitlab.NewClient(token)
	}
	apiURL := strings.TrimSuffix(baseURL, "/") + "/api/v4"
	return gitlab.NewClient(token, gitlab.WithBaseURL(apiURL))
}

func (g *GitLab) Name() string {
	return "gitlab"
}

func (g *GitLab) FetchTicket(ctx context.Context, key string) (Ticket, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	project, ok := g.projects[mention.ProjectKey(key)]
	if !ok {
		return Ticket{}, fmt.Errorf("no gitlab project mapped for %s: %w", key, ErrNotFound)
	}
	_, number, _ := strings.Cut(key, "-")
	iid, err := strconv.ParseInt(number, 10, 64)
	if err != nil || iid < 1 {
		return Ticket{}, fmt.Errorf("invalid gitlab issue number in %s: %w", key, ErrNotFound)
	}

	issue, res, err := g.client.Issues.GetIssue(project, int(iid), nil, gitlab.WithContext(ctx))
	if err != nil {
		return Ticket{}, fmt.Errorf("fetching issue %s from gitlab: %w: %w", key, gitlabError(res), err)
	}
	if issue == nil {
		return Ticket{}, fmt.Errorf("fetching issue %s from gitlab: empty response: %w", key, ErrUnavailable)
	}
	return g.mapToTicket(key, issue), nil
}

func (g *GitLab) mapToTicket(key string, issue *gitlab.Issue) Ticket {
	ticket := Ticket{
		Key:         key,
		Title:       strings.TrimSpace(issue.Title),
		URL:         strings.TrimSpace(issue.WebURL),
		Status:      strings.TrimSpace(issue.State),
		Description: strings.TrimSpace(issue.Description),
	}
	for _, label := range issue.Labels {
		if strings.HasPrefix(strings.ToLower(label), gitlabPriorityLabelPrefix) {
			ticket.Priority = strings.TrimSpace(label[len(gitlabPriorityLabelPrefix):])
			break
		}
	}

	var assignees []string
	for _, assignee := range issue.Assignees {
		if assignee == nil {
			continue
		}
		name := strings.TrimSpace(assignee.Name)
		if name == "" {
			name = strings.TrimSpace(assignee.Username)
		}
		if name != "" {
			assignees = append(assignees, name)
		}
	}
	if len(assignees) == 0 && issue.Assignee != nil {
		if name := strings.TrimSpace(issue.Assignee.Name); name != "" {
			assignees = append(assignees, name)
		}
	}
	ticket.Assignee = strings.Join(assignees, ", ")

	if issue.TimeStats != nil {
		ticket.TimeTracking = TimeTracking{
			OriginalEstimate: strings.TrimSpace(issue.TimeStats.HumanTimeEstimate),
			TimeSpent:        strings.TrimSpace(issue.TimeStats.HumanTotalTimeSpent),
		}
	}
	return ticket
}

func gitlabError(res *gitlab.Response) error {
	if res == nil || res.Response == nil {
		return ErrUnavailable
	}
	return statusError(res.StatusCode)
}
