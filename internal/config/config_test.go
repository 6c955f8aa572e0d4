package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Handler: HandlerConfig{
			MaxIssues:         5,
			ResponseThreshold: 900,
			TicketCacheSize:   5,
			FullAttachments:   true,
			FullMarker:        "!",
		},
		Tracker:  TrackerConfig{Provider: "jira", TimeoutSeconds: 10, ProjectRefresh: "@every 1h"},
		Jira:     JiraConfig{Server: "https://jira.example.com", Username: "bot", APIToken: "secret"},
		Slack:    SlackConfig{BotToken: "xoxb-1", AppToken: "xapp-1"},
		LogLevel: "info",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Handler.MaxIssues)
	assert.Equal(t, 900, cfg.Handler.ResponseThreshold)
	assert.Equal(t, 15*time.Minute, cfg.Handler.Threshold())
	assert.Equal(t, 5, cfg.Handler.TicketCacheSize)
	assert.True(t, cfg.Handler.FullAttachments)
	assert.Equal(t, "!", cfg.Handler.FullMarker)
	assert.Equal(t, "jira", cfg.Tracker.Provider)
	assert.Equal(t, 10*time.Second, cfg.Tracker.Timeout())
	assert.Equal(t, "@every 1h", cfg.Tracker.ProjectRefresh)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "", cfg.AuditDB)
	assert.Equal(t, 120, cfg.StaleSec)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "https://discord.com/api/v10", cfg.Discord.APIBase)
	assert.Equal(t, "env", cfg.SourceEnv)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TICKETBOT_HANDLER_MAX_ISSUES", "3")
	t.Setenv("TICKETBOT_HANDLER_RESPONSE_THRESHOLD", "60")
	t.Setenv("TICKETBOT_HANDLER_FULL_ATTACHMENTS", "false")
	t.Setenv("TICKETBOT_TRACKER_PROVIDER", "GitLab")
	t.Setenv("TICKETBOT_SLACK_BOT_TOKEN", " xoxb-abc ")
	t.Setenv("TICKETBOT_DISCORD_API_BASE", "http://localhost:9999/api/")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Handler.MaxIssues)
	assert.Equal(t, time.Minute, cfg.Handler.Threshold())
	assert.False(t, cfg.Handler.FullAttachments)
	assert.Equal(t, "gitlab", cfg.Tracker.Provider)
	assert.Equal(t, "xoxb-abc", cfg.Slack.BotToken)
	assert.Equal(t, "http://localhost:9999/api", cfg.Discord.APIBase)
}

func TestLoadFromINIFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	content := "[handler]\nmax_issues = 7\nticket_cache_size = 9\n\n[jira]\nserver = https://jira.example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("TICKETBOT_HANDLER_MAX_ISSUES", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Handler.MaxIssues, "environment wins over the file")
	assert.Equal(t, 9, cfg.Handler.TicketCacheSize)
	assert.Equal(t, "https://jira.example.com", cfg.Jira.Server)
	assert.Equal(t, path, cfg.SourceEnv)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRanges(t *testing.T) {
	cases := map[string]func(*Config){
		"handler.max_issues":         func(c *Config) { c.Handler.MaxIssues = 21 },
		"handler.response_threshold": func(c *Config) { c.Handler.ResponseThreshold = -1 },
		"handler.ticket_cache_size":  func(c *Config) { c.Handler.TicketCacheSize = 0 },
		"handler.full_marker":        func(c *Config) { c.Handler.FullMarker = " " },
		"tracker.timeout_seconds":    func(c *Config) { c.Tracker.TimeoutSeconds = 0 },
		"tracker.provider":           func(c *Config) { c.Tracker.Provider = "redmine" },
		"tracker.project_refresh":    func(c *Config) { c.Tracker.ProjectRefresh = "hourly" },
		"jira.server":                func(c *Config) { c.Jira.Server = "" },
		"jira.username":              func(c *Config) { c.Jira.APIToken = "" },
		"slack.app_token":            func(c *Config) { c.Slack.AppToken = "xoxb-wrong" },
		"discord.token":              func(c *Config) { c.Slack = SlackConfig{} },
		"log.level":                  func(c *Config) { c.LogLevel = "trace" },
	}
	for option, mutate := range cases {
		t.Run(option, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), option)
		})
	}
}

func TestValidateMaxIssuesBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Handler.MaxIssues = 20
	require.NoError(t, cfg.Validate())
	cfg.Handler.MaxIssues = 0
	require.ErrorIs(t, cfg.Validate(), ErrInvalid)
}

func TestValidateBearerTokenReplacesBasicAuth(t *testing.T) {
	cfg := validConfig()
	cfg.Jira.Username = ""
	cfg.Jira.APIToken = ""
	cfg.Jira.BearerToken = "pat"
	require.NoError(t, cfg.Validate())
}

func TestValidateGitLab(t *testing.T) {
	cfg := validConfig()
	cfg.Tracker.Provider = "gitlab"
	cfg.GitLab = GitLabConfig{Token: "glpat", ProjectsCSV: "tick=acme/ticketing, OPS = /acme/ops/"}
	require.NoError(t, cfg.Validate())

	projects, err := cfg.GitLabProjects()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"TICK": "acme/ticketing", "OPS": "acme/ops"}, projects)

	cfg.GitLab.ProjectsCSV = "TICK"
	err = cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "gitlab.projects")
}
