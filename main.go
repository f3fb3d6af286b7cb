package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"word-finder/bot"
	"word-finder/config"
	"word-finder/feed"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "finder",
		Short: "Word finder: definitions, fun facts and date facts, ordered by what you engage with",
		Long: `finder looks up a word and fills a feed with a definition, a fun fact
and a date fact. It learns which kinds of card you dwell on and like, and
orders future feeds accordingly.

Run "finder serve" for the Telegram bot, HTTP API and daily home feed.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.GetConfigPath(), "Path to the YAML config file")

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newFeedCmd(&configPath))
	rootCmd.AddCommand(newStatsCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot, HTTP API and home feed scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, os.Stdout)
			if err != nil {
				return err
			}

			// Set up context for graceful shutdown
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg)
			if err != nil {
				slog.Error("failed to initialize", "error", err)
				return err
			}
			defer app.Close()

			return app.serve(ctx)
		},
	}
}

func newFeedCmd(configPath *string) *cobra.Command {
	var slots int

	cmd := &cobra.Command{
		Use:   "feed [word]",
		Short: "Build one feed and print it",
		Long:  "Build a feed for WORD, or the home feed when no word is given, and print the cards.",
		Example: `  finder feed serendipity
  finder feed --slots 3`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, os.Stderr)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			app, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			var query string
			if len(args) == 1 {
				query = args[0]
			}

			_, err = app.builder.Build(ctx, feed.Params{Target: "cli", Query: query, Slots: slots}, &textRenderer{w: cmd.OutOrStdout()})
			return err
		},
	}

	cmd.Flags().IntVarP(&slots, "slots", "n", 0, "Number of cards (defaults to feed_slots)")
	return cmd
}

func newStatsCmd(configPath *string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show learned engagement and delivered card counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, os.Stderr)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			app, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			return printStats(ctx, cmd.OutOrStdout(), app, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output the raw metrics record as JSON")
	return cmd
}

func printStats(ctx context.Context, w io.Writer, app *App, jsonOutput bool) error {
	record := app.tracker.Snapshot()

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}

	fmt.Fprintln(w, bot.FormatStats(record, app.tracker.Rank()))

	counts, err := app.db.CountCardsByType(ctx)
	if err != nil {
		return fmt.Errorf("count cards: %w", err)
	}
	if len(counts) > 0 {
		fmt.Fprintln(w, "\nDelivered cards:")
		for _, c := range counts {
			fmt.Fprintf(w, "  %-12s %d\n", c.Type, c.Count)
		}
	}
	return nil
}

// loadConfig reads the config and installs the JSON logger writing to w.
func loadConfig(path string, w io.Writer) (*config.Config, error) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, nil)))

	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Error("config file not found", "path", path)
		} else {
			slog.Error("failed to load config", "path", path, "error", err)
		}
		return nil, err
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.Info("config loaded", "path", path)
	return cfg, nil
}
