// Package config loads application configuration from environment variables.
// All variables use the COURSE_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Deployment environments. Development loads content strictly.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all application configuration.
type Config struct {
	Env      string
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Content  ContentConfig
	Quiz     QuizConfig
	Session  SessionConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int
	Host string
	// WSOrigins lists extra origins allowed to open session WebSockets.
	WSOrigins []string
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL disables
// analytics events.
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

// CacheConfig holds Dragonfly/Redis connection settings. An empty URL keeps
// sessions in memory.
type CacheConfig struct {
	URL string
}

// ContentConfig points at the course content directory. Strict defaults to
// true in development.
type ContentConfig struct {
	Path   string
	Strict bool
}

// QuizConfig holds quiz defaults.
type QuizConfig struct {
	PassingScore int
}

// SessionConfig holds learner session settings.
type SessionConfig struct {
	TTLMinutes int
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables with COURSE_ prefix.
func Load() (*Config, error) {
	env := envStr("COURSE_ENV", EnvProduction)
	cfg := &Config{
		Env: env,
		Server: ServerConfig{
			Port:      envInt("COURSE_SERVER_PORT", 8080),
			Host:      envStr("COURSE_SERVER_HOST", "0.0.0.0"),
			WSOrigins: envList("COURSE_WS_ORIGINS"),
		},
		Database: DatabaseConfig{
			URL:      envStr("COURSE_DATABASE_URL", ""),
			MaxConns: envInt("COURSE_DATABASE_MAX_CONNS", 10),
			MinConns: envInt("COURSE_DATABASE_MIN_CONNS", 2),
		},
		Cache: CacheConfig{
			URL: envStr("COURSE_CACHE_URL", ""),
		},
		Content: ContentConfig{
			Path:   envStr("COURSE_CONTENT_PATH", "./content"),
			Strict: envBool("COURSE_CONTENT_STRICT", env == EnvDevelopment),
		},
		Quiz: QuizConfig{
			PassingScore: envInt("COURSE_QUIZ_PASSING_SCORE", 70),
		},
		Session: SessionConfig{
			TTLMinutes: envInt("COURSE_SESSION_TTL", 120),
		},
		Log: LogConfig{
			Level:  envStr("COURSE_LOG_LEVEL", "info"),
			Format: envStr("COURSE_LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate checks that configuration values are in range.
func (c *Config) Validate() error {
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return fmt.Errorf("COURSE_ENV must be 'development' or 'production', got %q", c.Env)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("COURSE_SERVER_PORT out of range: %d", c.Server.Port)
	}

	if c.Quiz.PassingScore < 1 || c.Quiz.PassingScore > 100 {
		return fmt.Errorf("COURSE_QUIZ_PASSING_SCORE must be between 1 and 100, got %d", c.Quiz.PassingScore)
	}

	if c.Session.TTLMinutes <= 0 {
		return fmt.Errorf("COURSE_SESSION_TTL must be positive, got %d", c.Session.TTLMinutes)
	}

	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("COURSE_DATABASE_MIN_CONNS (%d) exceeds COURSE_DATABASE_MAX_CONNS (%d)",
			c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("COURSE_LOG_FORMAT must be 'json' or 'text', got %q", c.Log.Format)
	}

	return nil
}

// StrictContent reports whether content defects should abort start-up.
func (c *Config) StrictContent() bool {
	return c.Content.Strict
}

// SessionTTL returns the idle lifetime of a learner session.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
