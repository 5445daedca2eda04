package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Offline   Offline   `yaml:"offline"`
	Progress  Progress  `yaml:"progress"`
	Questions Questions `yaml:"questions"`
	Redis     Redis     `yaml:"redis"`
	Postgres  Postgres  `yaml:"postgres"`
}

type Server struct {
	Port         string `yaml:"port" env:"QUIZ_PORT"`
	ReadTimeout  string `yaml:"readTimeout" env:"QUIZ_READ_TIMEOUT"`
	WriteTimeout string `yaml:"writeTimeout" env:"QUIZ_WRITE_TIMEOUT"`
}

type Logging struct {
	Level  string `yaml:"level" env:"QUIZ_LOG_LEVEL"`
	Format string `yaml:"format" env:"QUIZ_LOG_FORMAT"`
}

// Offline configures the cache manager and the upstreams it fronts.
type Offline struct {
	AppName           string   `yaml:"appName" env:"QUIZ_APP_NAME"`
	Version           string   `yaml:"version" env:"QUIZ_CACHE_VERSION"`
	ShellOrigin       string   `yaml:"shellOrigin" env:"QUIZ_SHELL_ORIGIN"`
	APIOrigin         string   `yaml:"apiOrigin" env:"QUIZ_API_ORIGIN"`
	APIPrefix         string   `yaml:"apiPrefix" env:"QUIZ_API_PREFIX"`
	Precache          []string `yaml:"precache" env:"QUIZ_PRECACHE" envSeparator:","`
	AppShell          string   `yaml:"appShell" env:"QUIZ_APP_SHELL"`
	OfflinePage       string   `yaml:"offlinePage" env:"QUIZ_OFFLINE_PAGE"`
	ImagePlaceholder  string   `yaml:"imagePlaceholder" env:"QUIZ_IMAGE_PLACEHOLDER"`
	PrecacheQuestions bool     `yaml:"precacheQuestions" env:"QUIZ_PRECACHE_QUESTIONS"`
	CacheNavigations  bool     `yaml:"cacheNavigations" env:"QUIZ_CACHE_NAVIGATIONS"`
	NavigationTimeout string   `yaml:"navigationTimeout" env:"QUIZ_NAVIGATION_TIMEOUT"`
	WaitForClients    bool     `yaml:"waitForClients" env:"QUIZ_WAIT_FOR_CLIENTS"`
	ClientIdleTimeout string   `yaml:"clientIdleTimeout" env:"QUIZ_CLIENT_IDLE_TIMEOUT"`
	// Storage selects the cache namespace backend: "memory" or "redis".
	Storage string `yaml:"storage" env:"QUIZ_CACHE_STORAGE"`
}

// Progress selects the attempt store backend: "memory", "redis", "postgres" or "sqlite".
type Progress struct {
	Store      string `yaml:"store" env:"QUIZ_PROGRESS_STORE"`
	SQLitePath string `yaml:"sqlitePath" env:"QUIZ_SQLITE_PATH"`
}

// Questions configures where the question bank comes from ("backend" or "postgres")
// and how it is cached ("memory" or "redis").
type Questions struct {
	Source string `yaml:"source" env:"QUIZ_QUESTIONS_SOURCE"`
	TTL    string `yaml:"ttl" env:"QUIZ_QUESTIONS_TTL"`
	Cache  string `yaml:"cache" env:"QUIZ_QUESTIONS_CACHE"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"QUIZ_REDIS_ADDR"`
	Password string `yaml:"password" env:"QUIZ_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"QUIZ_REDIS_DB"`
	// SessionTTL bounds how long an idle live session is remembered.
	SessionTTL string `yaml:"sessionTTL" env:"QUIZ_REDIS_SESSION_TTL"`
}

type Postgres struct {
	URL string `yaml:"url" env:"QUIZ_POSTGRES_URL"`
}

// Load reads YAML config from path and applies QUIZ_* environment overrides.
// A missing file is not an error; defaults and the environment still apply.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return cfg, err
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Offline.AppName == "" {
		c.Offline.AppName = "quiz-app"
	}
	if c.Offline.ShellOrigin == "" {
		c.Offline.ShellOrigin = "http://localhost:3000"
	}
	if c.Offline.APIPrefix == "" {
		c.Offline.APIPrefix = "/api"
	}
	if c.Offline.AppShell == "" {
		c.Offline.AppShell = "/index.html"
	}
	if c.Offline.OfflinePage == "" {
		c.Offline.OfflinePage = "/offline.html"
	}
	if c.Offline.Precache == nil {
		c.Offline.Precache = []string{
			"/",
			"/index.html",
			"/manifest.json",
			"/static/js/main.js",
			"/static/css/main.css",
			"/favicon.ico",
			"/apple-icon-180.png",
		}
	}
	if c.Offline.Storage == "" {
		c.Offline.Storage = "memory"
	}
	if c.Progress.Store == "" {
		c.Progress.Store = "memory"
	}
	if c.Questions.Source == "" {
		c.Questions.Source = "backend"
	}
	if c.Questions.Cache == "" {
		c.Questions.Cache = "memory"
	}
	if c.Progress.SQLitePath == "" {
		c.Progress.SQLitePath = "data/progress.db"
	}
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
