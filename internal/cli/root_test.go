package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dwizi/ticketbot/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot(testLogger(), new(slog.LevelVar))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ticketbot.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNewRootIncludesExpectedSubcommands(t *testing.T) {
	root := NewRoot(testLogger(), nil)
	for _, name := range []string{"serve", "check-config", "audit", "version"} {
		if _, _, err := root.Find([]string{name}); err != nil {
			t.Fatalf("expected subcommand %q to exist: %v", name, err)
		}
	}
}

func TestCheckConfigReportsSummary(t *testing.T) {
	path := writeConfig(t, `
tracker:
  provider: gitlab
gitlab:
  token: glpat-test
  projects: TICK=acme/ticketing
discord:
  token: discord-token
handler:
  max_issues: 3
`)

	out, err := execute(t, "check-config", "-c", path)
	if err != nil {
		t.Fatalf("check-config failed: %v", err)
	}
	for _, want := range []string{"config ok", "tracker=gitlab", "[discord]", "max_issues=3", "threshold=15m0s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output %q", want, out)
		}
	}
}

func TestCheckConfigRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
tracker:
  provider: jira
handler:
  max_issues: 0
`)

	_, err := execute(t, "check-config", "--config", path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"handler.max_issues", "jira.server", "slack.bot_token or discord.token"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in error %q", want, err.Error())
		}
	}
}

func TestAuditListsRecordedResponses(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.sqlite")
	sqlStore, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	if err := sqlStore.AutoMigrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, input := range []store.CreateResponseInput{
		{Connector: "slack", ChannelID: "C1", UserID: "U1", TicketKey: "TICK-1"},
		{Connector: "slack", ChannelID: "C2", UserID: "U2", TicketKey: "TICK-2", Full: true},
	} {
		if _, err := sqlStore.CreateResponse(ctx, input); err != nil {
			t.Fatalf("create response: %v", err)
		}
	}
	sqlStore.Close()

	path := writeConfig(t, "audit:\n  db_path: "+dbPath+"\n")
	out, err := execute(t, "audit", "-c", path, "--channel", "C2")
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if !strings.Contains(out, "TICK-2") || strings.Contains(out, "TICK-1") {
		t.Fatalf("expected only TICK-2 in output:\n%s", out)
	}
	if !strings.Contains(out, "TICKET") {
		t.Fatalf("expected header row in output:\n%s", out)
	}
}

func TestAuditRequiresDatabasePath(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	if _, err := execute(t, "audit", "-c", path); err == nil {
		t.Fatal("expected missing audit.db_path error")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug") != slog.LevelDebug || parseLevel("warn") != slog.LevelWarn || parseLevel("bogus") != slog.LevelInfo {
		t.Fatal("unexpected level mapping")
	}
}
