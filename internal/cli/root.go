package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwizi/ticketbot/internal/app"
	"github.com/dwizi/ticketbot/internal/config"
	"github.com/dwizi/ticketbot/internal/store"
)

const version = "0.1.0"

// NewRoot builds the command tree. level is adjusted to log.level once config is loaded.
func NewRoot(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "ticketbot",
		Short:         "Ticketbot answers ticket mentions in chat with tracker summaries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, toml, json or ini)")

	root.AddCommand(newServeCommand(logger, level, &configPath))
	root.AddCommand(newCheckConfigCommand(&configPath))
	root.AddCommand(newAuditCommand(&configPath))
	root.AddCommand(newVersionCommand())

	return root
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newServeCommand(logger *slog.Logger, level *slog.LevelVar, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run chat connectors and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if level != nil {
				level.Set(parseLevel(cfg.LogLevel))
			}
			logger.Info("config loaded", "source", cfg.SourceEnv, "tracker", cfg.Tracker.Provider)

			runtime, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer runtime.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runtime.Run(ctx)
		},
	}
}

func newCheckConfigCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			connectors := []string{}
			if cfg.Slack.BotToken != "" {
				connectors = append(connectors, "slack")
			}
			if cfg.Discord.Token != "" {
				connectors = append(connectors, "discord")
			}
			cmd.Printf("config ok (source=%s tracker=%s connectors=%v max_issues=%d threshold=%s)\n",
				cfg.SourceEnv,
				cfg.Tracker.Provider,
				connectors,
				cfg.Handler.MaxIssues,
				cfg.Handler.Threshold(),
			)
			return nil
		},
	}
}

func newAuditCommand(configPath *string) *cobra.Command {
	var (
		channelID string
		connector string
		ticket    string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent ticket responses from the audit database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.AuditDB == "" {
				return fmt.Errorf("%w: audit.db_path is not set", config.ErrInvalid)
			}
			sqlStore, err := store.New(cfg.AuditDB)
			if err != nil {
				return err
			}
			defer sqlStore.Close()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := sqlStore.AutoMigrate(ctx); err != nil {
				return err
			}
			records, err := sqlStore.ListResponses(ctx, store.ListResponsesInput{
				Connector: connector,
				ChannelID: channelID,
				TicketKey: ticket,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			return printResponses(cmd, records)
		},
	}
	cmd.Flags().StringVar(&channelID, "channel", "", "filter by channel id")
	cmd.Flags().StringVar(&connector, "connector", "", "filter by connector (slack, discord)")
	cmd.Flags().StringVar(&ticket, "ticket", "", "filter by ticket key")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func printResponses(cmd *cobra.Command, records []store.ResponseRecord) error {
	if len(records) == 0 {
		cmd.Println("no responses recorded")
		return nil
	}
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "TIME\tCONNECTOR\tCHANNEL\tUSER\tTICKET\tFULL")
	for _, record := range records {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%t\n",
			record.CreatedAt.UTC().Format(time.RFC3339),
			record.Connector,
			record.ChannelID,
			record.UserID,
			record.TicketKey,
			record.Full,
		)
	}
	return writer.Flush()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}

func parseLevel(value string) slog.Level {
	switch value {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
