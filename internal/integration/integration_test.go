package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap/zaptest"

	"quiz-offline-service/internal/app"
	"quiz-offline-service/internal/domain"
	pginfra "quiz-offline-service/internal/infra/postgres"
	"quiz-offline-service/internal/infra/postgres/migrations"
	infraredis "quiz-offline-service/internal/infra/redis"
	"quiz-offline-service/internal/offline"
)

func TestProgressEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateDB(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pginfra.NewQuestionLoader(pool)
	if err := loader.SaveQuestions(ctx, sampleQuestions()); err != nil {
		t.Fatalf("save questions: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	questions := infraredis.NewQuestionRepository(redisClient, loader, 5*time.Minute)
	store := pginfra.NewProgressStore(pool)
	newService := func() *app.ProgressService {
		return app.NewProgressService(store, questions,
			infraredis.NewSessionStore(redisClient, 5*time.Minute), zaptest.NewLogger(t))
	}
	service := newService()

	for i := 0; i < app.MasteryThreshold; i++ {
		correct, err := service.SubmitByID(ctx, "u1", "saa-Q001", []string{"a1"})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if !correct {
			t.Fatalf("expected a1 to be correct")
		}
	}
	if _, err := service.SubmitByID(ctx, "u1", "saa-Q002", []string{"b1"}); err != nil {
		t.Fatalf("submit multiple: %v", err)
	}

	// a fresh process sees the persisted progress
	restarted := newService()
	stats, err := restarted.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Correct != 1 || stats.Incorrect != 1 || stats.Total != 2 || stats.Attempts != 6 || stats.Mastered != 1 {
		t.Fatalf("unexpected stats after restart %+v", stats)
	}
	progress, err := restarted.Progress(ctx, "u1", "saa-Q002")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if !progress.Selection.Submitted || progress.Selection.Correct {
		t.Fatalf("expected restored incorrect submission, got %+v", progress.Selection)
	}

	if err := restarted.ResetAll(ctx, "u1"); err != nil {
		t.Fatalf("reset all: %v", err)
	}
	stats, err = service.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats after reset: %v", err)
	}
	if stats.Total != 0 || stats.Mastered != 0 {
		t.Fatalf("expected empty progress after reset, got %+v", stats)
	}

	q, err := loader.LoadQuestion(ctx, "saa-Q002")
	if err != nil {
		t.Fatalf("load by questionId: %v", err)
	}
	if q.ID != "doc-2" || len(q.Answers) != 3 {
		t.Fatalf("unexpected question %+v", q)
	}
}

type toggleNetwork struct {
	down atomic.Bool
}

func (n *toggleNetwork) Do(req *http.Request) (*http.Response, error) {
	if n.down.Load() {
		return nil, errors.New("network unreachable")
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestRedisCacheStorageServesRestartedWorker(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()
	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>"+r.URL.Path+"</html>")
	}))
	defer upstream.Close()

	network := &toggleNetwork{}
	opts := func(ns string) offline.Options {
		return offline.Options{
			Namespace:   ns,
			Precache:    []string{upstream.URL + "/"},
			AppShellURL: upstream.URL + "/index.html",
			OfflineURL:  upstream.URL + "/offline.html",
			APIPrefix:   "/api",
		}
	}

	first := offline.NewHost(network, zaptest.NewLogger(t))
	if err := first.Register(ctx, offline.NewWorker(infraredis.NewCacheStorage(redisClient), network, opts("quiz-app-v1"), zaptest.NewLogger(t), nil)); err != nil {
		t.Fatalf("register v1: %v", err)
	}

	// a second instance deploys v2 while the network is still up, then loses it
	second := offline.NewHost(network, zaptest.NewLogger(t))
	storage := infraredis.NewCacheStorage(redisClient)
	if err := second.Register(ctx, offline.NewWorker(storage, network, opts("quiz-app-v2"), zaptest.NewLogger(t), nil)); err != nil {
		t.Fatalf("register v2: %v", err)
	}
	names, err := storage.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(names) != 1 || names[0] != "quiz-app-v2" {
		t.Fatalf("expected only quiz-app-v2 after activation, got %v", names)
	}

	network.down.Store(true)
	req, err := http.NewRequest(http.MethodGet, upstream.URL+"/quiz/7", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	resp, err := second.Fetch(ctx, "page-1", req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.Header.Get(offline.SourceHeader) != offline.SourceAppShell || string(body) != "<html>/index.html</html>" {
		t.Fatalf("expected app shell from redis, got %s %q", resp.Header.Get(offline.SourceHeader), body)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:         "doc-1",
			QuestionID: "saa-Q001",
			Text:       "Which service provides object storage?",
			Type:       domain.QuestionSingle,
			Domain:     "Storage",
			Answers: []domain.Answer{
				{ID: "a1", Text: "Amazon S3", IsCorrect: true},
				{ID: "a2", Text: "Amazon EC2"},
			},
		},
		{
			ID:         "doc-2",
			QuestionID: "saa-Q002",
			Text:       "Pick the two serverless services.",
			Type:       domain.QuestionMultiple,
			Domain:     "Compute",
			Answers: []domain.Answer{
				{ID: "b1", Text: "AWS Lambda", IsCorrect: true},
				{ID: "b2", Text: "AWS Fargate", IsCorrect: true},
				{ID: "b3", Text: "Amazon EC2"},
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
