package cli

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quiz-offline-service/internal/app"
	"quiz-offline-service/internal/config"
	"quiz-offline-service/internal/infra/backend"
	"quiz-offline-service/internal/infra/memory"
	pginfra "quiz-offline-service/internal/infra/postgres"
	redisinfra "quiz-offline-service/internal/infra/redis"
	sqliteinfra "quiz-offline-service/internal/infra/sqlite"
	"quiz-offline-service/internal/metrics"
	"quiz-offline-service/internal/offline"
	transport "quiz-offline-service/internal/transport/http"
)

// serviceClientID is the offline host client the service's own question requests
// are dispatched as.
const serviceClientID = "service"

// backends holds the connections a command opened from the config.
type backends struct {
	cfg    config.Config
	logger *zap.Logger

	redis  *redis.Client
	pool   *pgxpool.Pool
	sqlite *sqliteinfra.ProgressStore
}

// openBackends connects only to the stores the config selects.
func openBackends(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{cfg: cfg, logger: logger}

	needsRedis := cfg.Offline.Storage == "redis" || cfg.Progress.Store == "redis" || cfg.Questions.Cache == "redis"
	if needsRedis || cfg.Redis.Addr != "" {
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis addr not configured")
		}
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	needsPostgres := cfg.Progress.Store == "postgres" || cfg.Questions.Source == "postgres"
	if needsPostgres {
		if cfg.Postgres.URL == "" {
			b.Close()
			return nil, fmt.Errorf("postgres url not configured")
		}
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			b.Close()
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.pool = pool
	}

	if cfg.Progress.Store == "sqlite" {
		store, err := sqliteinfra.Open(cfg.Progress.SQLitePath)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.sqlite = store
	}
	return b, nil
}

func (b *backends) Close() {
	if b.sqlite != nil {
		if err := b.sqlite.Close(); err != nil {
			b.logger.Warn("close sqlite", zap.Error(err))
		}
	}
	if b.pool != nil {
		b.pool.Close()
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			b.logger.Warn("close redis", zap.Error(err))
		}
	}
}

func (b *backends) cacheStorage() (offline.Storage, error) {
	switch b.cfg.Offline.Storage {
	case "memory":
		return memory.NewCacheStorage(), nil
	case "redis":
		return redisinfra.NewCacheStorage(b.redis), nil
	default:
		return nil, fmt.Errorf("unsupported offline storage %q", b.cfg.Offline.Storage)
	}
}

func (b *backends) progressStore() (app.ProgressStore, error) {
	switch b.cfg.Progress.Store {
	case "memory":
		return memory.NewProgressStore(), nil
	case "redis":
		return redisinfra.NewProgressStore(b.redis), nil
	case "postgres":
		return pginfra.NewProgressStore(b.pool), nil
	case "sqlite":
		return b.sqlite, nil
	default:
		return nil, fmt.Errorf("unsupported progress store %q", b.cfg.Progress.Store)
	}
}

func (b *backends) sessions() app.SessionRepository {
	if b.redis != nil {
		return redisinfra.NewSessionStore(b.redis, config.Duration(b.cfg.Redis.SessionTTL, 10*time.Minute))
	}
	return memory.NewSessionStore()
}

// questionBank builds the cached question bank over the configured source. The
// backend source reads through the offline host so it keeps working offline.
func (b *backends) questionBank(host *offline.Host) (transport.QuestionBank, error) {
	var loader memory.QuestionLoader
	switch b.cfg.Questions.Source {
	case "backend":
		loader = backend.NewClient(
			offline.ClientFetcher{Host: host, ClientID: serviceClientID},
			apiRoot(b.cfg.Offline),
			b.logger.Named("backend"))
	case "postgres":
		loader = pginfra.NewQuestionLoader(b.pool)
	default:
		return nil, fmt.Errorf("unsupported question source %q", b.cfg.Questions.Source)
	}

	ttl := config.Duration(b.cfg.Questions.TTL, 10*time.Minute)
	switch b.cfg.Questions.Cache {
	case "memory":
		return memory.NewQuestionRepository(loader, ttl), nil
	case "redis":
		return redisinfra.NewQuestionRepository(b.redis, loader, ttl), nil
	default:
		return nil, fmt.Errorf("unsupported question cache %q", b.cfg.Questions.Cache)
	}
}

// newHost registers the current worker version on a fresh offline host.
func newHost(ctx context.Context, cfg config.Offline, storage offline.Storage, logger *zap.Logger, rec *metrics.Recorder) (*offline.Host, error) {
	network := &http.Client{Timeout: 30 * time.Second}
	host := offline.NewHost(network, logger.Named("offline"),
		offline.WithClientIdleTimeout(config.Duration(cfg.ClientIdleTimeout, 30*time.Minute)))
	worker := offline.NewWorker(storage, network, workerOptions(cfg, time.Now()), logger.Named("worker"), rec)
	if err := host.Register(ctx, worker); err != nil {
		return nil, fmt.Errorf("register offline worker: %w", err)
	}
	return host, nil
}

// workerOptions turns the configured paths into absolute upstream URLs.
func workerOptions(cfg config.Offline, now time.Time) offline.Options {
	shell := strings.TrimRight(cfg.ShellOrigin, "/")
	abs := func(p string) string {
		if p == "" || strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
			return p
		}
		return shell + "/" + strings.TrimLeft(p, "/")
	}

	precache := make([]string, 0, len(cfg.Precache)+1)
	for _, p := range cfg.Precache {
		precache = append(precache, abs(p))
	}
	if cfg.PrecacheQuestions {
		precache = append(precache, apiRoot(cfg)+"/questions")
	}

	return offline.Options{
		Namespace:         offline.Namespace(cfg.AppName, cfg.Version, now),
		Precache:          precache,
		AppShellURL:       abs(cfg.AppShell),
		OfflineURL:        abs(cfg.OfflinePage),
		PlaceholderURL:    abs(cfg.ImagePlaceholder),
		APIPrefix:         cfg.APIPrefix,
		CacheNavigations:  cfg.CacheNavigations,
		NavigationTimeout: config.Duration(cfg.NavigationTimeout, 0),
		WaitForClients:    cfg.WaitForClients,
	}
}

// apiRoot is the API origin plus prefix. The origin defaults to the shell origin.
func apiRoot(cfg config.Offline) string {
	base := strings.TrimRight(cfg.ShellOrigin, "/")
	if cfg.APIOrigin != "" {
		base = strings.TrimRight(cfg.APIOrigin, "/")
	}
	if prefix := strings.Trim(cfg.APIPrefix, "/"); prefix != "" {
		return base + "/" + prefix
	}
	return base
}
