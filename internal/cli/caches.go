package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"quiz-offline-service/internal/config"
	"quiz-offline-service/internal/logging"
	"quiz-offline-service/internal/offline"
)

// NewCachesCmd inspects and garbage-collects cache namespaces in shared storage.
func NewCachesCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caches",
		Short: "Inspect offline cache namespaces",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cache namespaces, marking the current one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd.Context(), *configPath, func(ctx context.Context, cfg config.Config, storage offline.Storage) error {
				return listCaches(ctx, cmd.OutOrStdout(), storage, currentNamespace(cfg))
			})
		},
	})

	var all bool
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every namespace except the current one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd.Context(), *configPath, func(ctx context.Context, cfg config.Config, storage offline.Storage) error {
				keep := currentNamespace(cfg)
				if all {
					keep = ""
				}
				return purgeCaches(ctx, cmd.OutOrStdout(), storage, keep)
			})
		},
	}
	purge.Flags().BoolVar(&all, "all", false, "delete the current namespace too")
	cmd.AddCommand(purge)
	return cmd
}

func currentNamespace(cfg config.Config) string {
	return offline.Namespace(cfg.Offline.AppName, cfg.Offline.Version, time.Now())
}

func withStorage(ctx context.Context, configPath string, fn func(context.Context, config.Config, offline.Storage) error) error {
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
	if cfg.Offline.Storage == "memory" {
		logger.Warn("memory cache storage is per process; nothing is shared with a running server")
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	storage, err := b.cacheStorage()
	if err != nil {
		return err
	}
	return fn(ctx, cfg, storage)
}

func listCaches(ctx context.Context, out io.Writer, storage offline.Storage, current string) error {
	names, err := storage.Keys(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		cache, err := storage.Open(ctx, name)
		if err != nil {
			return err
		}
		keys, err := cache.Keys(ctx)
		if err != nil {
			return err
		}
		marker := " "
		if name == current {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\t%d entries\n", marker, name, len(keys))
	}
	return nil
}

// purgeCaches deletes every namespace but keep; an empty keep deletes all.
func purgeCaches(ctx context.Context, out io.Writer, storage offline.Storage, keep string) error {
	names, err := storage.Keys(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == keep {
			continue
		}
		if _, err := storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete %s: %w", name, err)
		}
		fmt.Fprintf(out, "deleted %s\n", name)
	}
	return nil
}
