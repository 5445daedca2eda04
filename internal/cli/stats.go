package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"quiz-offline-service/internal/app"
	"quiz-offline-service/internal/config"
	"quiz-offline-service/internal/infra/memory"
	"quiz-offline-service/internal/logging"
)

// NewStatsCmd prints the aggregate stats of a user from the configured progress store.
func NewStatsCmd(configPath *string) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print progress stats for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd.OutOrStdout(), *configPath, userID)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id whose progress to read")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runStats(ctx context.Context, out io.Writer, configPath, userID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	store, err := b.progressStore()
	if err != nil {
		return err
	}
	return printStats(ctx, out, store, userID)
}

// printStats needs no question bank: stats derive from stored records alone.
func printStats(ctx context.Context, out io.Writer, store app.ProgressStore, userID string) error {
	service := app.NewProgressService(store, nil, memory.NewSessionStore(), nil)
	stats, err := service.Stats(ctx, userID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(raw))
	return err
}
