package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dwizi/ticketbot/internal/scheduler"
)

const EnvPrefix = "TICKETBOT"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Handler   HandlerConfig
	Tracker   TrackerConfig
	Jira      JiraConfig
	GitLab    GitLabConfig
	Slack     SlackConfig
	Discord   DiscordConfig
	HTTPAddr  string
	AuditDB   string
	StaleSec  int
	LogLevel  string
	SourceEnv string
}

type HandlerConfig struct {
	MaxIssues         int
	ResponseThreshold int
	TicketCacheSize   int
	FullAttachments   bool
	FullMarker        string
}

type TrackerConfig struct {
	Provider       string // jira | gitlab
	TimeoutSeconds int
	ProjectRefresh string
}

type JiraConfig struct {
	Server      string
	Username    string
	APIToken    string
	BearerToken string
}

type GitLabConfig struct {
	BaseURL     string
	Token       string
	ProjectsCSV string
}

type SlackConfig struct {
	BotToken string
	AppToken string
	BotEmoji string
	BotIcon  string
	ErrorsTo string
	Debug    bool
}

type DiscordConfig struct {
	Token      string
	APIBase    string
	GatewayURL string
}

func defaults(v *viper.Viper) {
	v.SetDefault("handler.max_issues", 5)
	v.SetDefault("handler.response_threshold", 900)
	v.SetDefault("handler.ticket_cache_size", 5)
	v.SetDefault("handler.full_attachments", true)
	v.SetDefault("handler.full_marker", "!")
	v.SetDefault("tracker.provider", "jira")
	v.SetDefault("tracker.timeout_seconds", 10)
	v.SetDefault("tracker.project_refresh", "@every 1h")
	v.SetDefault("jira.server", "")
	v.SetDefault("jira.username", "")
	v.SetDefault("jira.api_token", "")
	v.SetDefault("jira.bearer_token", "")
	v.SetDefault("gitlab.base_url", "https://gitlab.com")
	v.SetDefault("gitlab.token", "")
	v.SetDefault("gitlab.projects", "")
	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.app_token", "")
	v.SetDefault("slack.bot_emoji", "")
	v.SetDefault("slack.bot_icon", "")
	v.SetDefault("slack.errors_to", "")
	v.SetDefault("slack.debug", false)
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.api_base", "https://discord.com/api/v10")
	v.SetDefault("discord.gateway_url", "wss://gateway.discord.gg/?v=10&encoding=json")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("audit.db_path", "")
	v.SetDefault("heartbeat.stale_seconds", 120)
	v.SetDefault("log.level", "info")
}

// Load reads the optional config file at path, then a .env file when present, then TICKETBOT_* variables.
// Environment variables win over the file.
func Load(path string) (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	source := "env"
	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		source = path
	}

	return Config{
		Handler: HandlerConfig{
			MaxIssues:         v.GetInt("handler.max_issues"),
			ResponseThreshold: v.GetInt("handler.response_threshold"),
			TicketCacheSize:   v.GetInt("handler.ticket_cache_size"),
			FullAttachments:   v.GetBool("handler.full_attachments"),
			FullMarker:        v.GetString("handler.full_marker"),
		},
		Tracker: TrackerConfig{
			Provider:       strings.ToLower(strings.TrimSpace(v.GetString("tracker.provider"))),
			TimeoutSeconds: v.GetInt("tracker.timeout_seconds"),
			ProjectRefresh: strings.TrimSpace(v.GetString("tracker.project_refresh")),
		},
		Jira: JiraConfig{
			Server:      strings.TrimSpace(v.GetString("jira.server")),
			Username:    strings.TrimSpace(v.GetString("jira.username")),
			APIToken:    strings.TrimSpace(v.GetString("jira.api_token")),
			BearerToken: strings.TrimSpace(v.GetString("jira.bearer_token")),
		},
		GitLab: GitLabConfig{
			BaseURL:     strings.TrimSpace(v.GetString("gitlab.base_url")),
			Token:       strings.TrimSpace(v.GetString("gitlab.token")),
			ProjectsCSV: v.GetString("gitlab.projects"),
		},
		Slack: SlackConfig{
			BotToken: strings.TrimSpace(v.GetString("slack.bot_token")),
			AppToken: strings.TrimSpace(v.GetString("slack.app_token")),
			BotEmoji: strings.TrimSpace(v.GetString("slack.bot_emoji")),
			BotIcon:  strings.TrimSpace(v.GetString("slack.bot_icon")),
			ErrorsTo: strings.TrimSpace(v.GetString("slack.errors_to")),
			Debug:    v.GetBool("slack.debug"),
		},
		Discord: DiscordConfig{
			Token:      strings.TrimSpace(v.GetString("discord.token")),
			APIBase:    strings.TrimRight(strings.TrimSpace(v.GetString("discord.api_base")), "/"),
			GatewayURL: strings.TrimSpace(v.GetString("discord.gateway_url")),
		},
		HTTPAddr:  strings.TrimSpace(v.GetString("http.addr")),
		AuditDB:   strings.TrimSpace(v.GetString("audit.db_path")),
		StaleSec:  v.GetInt("heartbeat.stale_seconds"),
		LogLevel:  strings.ToLower(strings.TrimSpace(v.GetString("log.level"))),
		SourceEnv: source,
	}, nil
}

// Validate checks ranges and required credentials. Every problem is reported, each naming its option.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Handler.MaxIssues < 1 || c.Handler.MaxIssues > 20 {
		add("handler.max_issues must be between 1 and 20, got %d", c.Handler.MaxIssues)
	}
	if c.Handler.ResponseThreshold < 0 {
		add("handler.response_threshold must be >= 0, got %d", c.Handler.ResponseThreshold)
	}
	if c.Handler.TicketCacheSize < 1 {
		add("handler.ticket_cache_size must be >= 1, got %d", c.Handler.TicketCacheSize)
	}
	if strings.TrimSpace(c.Handler.FullMarker) == "" {
		add("handler.full_marker must not be empty")
	}
	if c.Tracker.TimeoutSeconds < 1 {
		add("tracker.timeout_seconds must be >= 1, got %d", c.Tracker.TimeoutSeconds)
	}

	switch c.Tracker.Provider {
	case "jira":
		if c.Jira.Server == "" {
			add("jira.server is required")
		}
		if c.Jira.BearerToken == "" && (c.Jira.Username == "" || c.Jira.APIToken == "") {
			add("jira.username and jira.api_token, or jira.bearer_token, are required")
		}
		if c.Tracker.ProjectRefresh != "" {
			if _, err := scheduler.ParseSchedule(c.Tracker.ProjectRefresh); err != nil {
				add("tracker.project_refresh: %v", err)
			}
		}
	case "gitlab":
		if c.GitLab.Token == "" {
			add("gitlab.token is required")
		}
		if _, err := c.GitLabProjects(); err != nil {
			add("%v", err)
		}
	default:
		add("tracker.provider must be jira or gitlab, got %q", c.Tracker.Provider)
	}

	if c.Slack.BotToken == "" && c.Discord.Token == "" {
		add("slack.bot_token or discord.token is required")
	}
	if c.Slack.BotToken != "" && !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		add("slack.app_token must start with xapp-")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		add("log.level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// GitLabProjects parses gitlab.projects, a CSV of KEY=group/project pairs.
func (c Config) GitLabProjects() (map[string]string, error) {
	projects := map[string]string{}
	for _, part := range strings.Split(c.GitLab.ProjectsCSV, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, path, ok := strings.Cut(part, "=")
		key = strings.ToUpper(strings.TrimSpace(key))
		path = strings.Trim(strings.TrimSpace(path), "/")
		if !ok || key == "" || path == "" {
			return nil, fmt.Errorf("gitlab.projects entry %q must look like KEY=group/project", part)
		}
		projects[key] = path
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("gitlab.projects must map at least one project key")
	}
	return projects, nil
}

func (c HandlerConfig) Threshold() time.Duration {
	return time.Duration(c.ResponseThreshold) * time.Second
}

func (c TrackerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
