package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-offline-service/internal/app"
	"quiz-offline-service/internal/config"
	"quiz-offline-service/internal/logging"
	"quiz-offline-service/internal/metrics"
	transport "quiz-offline-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the offline quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
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

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	rec := metrics.NewRecorder(prometheus.NewRegistry())

	storage, err := b.cacheStorage()
	if err != nil {
		return err
	}
	host, err := newHost(ctx, cfg.Offline, storage, logger, rec)
	if err != nil {
		return err
	}

	questions, err := b.questionBank(host)
	if err != nil {
		return err
	}
	store, err := b.progressStore()
	if err != nil {
		return err
	}
	service := app.NewProgressService(store, questions, b.sessions(), logger.Named("progress"), app.WithMetrics(rec))

	offlineHandler, err := transport.NewOfflineHandler(host, cfg.Offline.ShellOrigin, cfg.Offline.APIOrigin, cfg.Offline.APIPrefix, logger.Named("proxy"))
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", rec.Handler())
	mux.HandleFunc("/ws", transport.NewWSHandler(service, logger.Named("ws")).ServeWS)
	transport.NewProgressHandler(service, questions, logger.Named("http")).Register(mux)
	offlineHandler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	go func() {
		logger.Info("starting quiz service",
			zap.String("addr", server.Addr),
			zap.String("namespace", host.Active().Namespace()),
			zap.String("progressStore", cfg.Progress.Store),
			zap.String("cacheStorage", cfg.Offline.Storage))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
