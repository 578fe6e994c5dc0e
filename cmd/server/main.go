package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/course-checks/internal/api"
	"github.com/p-n-ai/course-checks/internal/curriculum"
	"github.com/p-n-ai/course-checks/internal/platform/cache"
	"github.com/p-n-ai/course-checks/internal/platform/config"
	"github.com/p-n-ai/course-checks/internal/platform/database"
	"github.com/p-n-ai/course-checks/internal/session"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log, os.Stdout))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      a.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

const sessionSweepInterval = time.Minute

// app is the wired service and the resources it must release.
type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp loads content and connects the optional backends. An empty
// database URL disables analytics events; an empty cache URL keeps sessions
// in memory.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	loader, err := curriculum.NewLoader(cfg.Content.Path, cfg.StrictContent())
	if err != nil {
		return nil, err
	}

	checks := make(map[string]api.HealthChecker)
	var events session.EventLogger = session.NopEventLogger{}
	var store session.Store

	if cfg.Database.URL != "" {
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := database.EnsureSchema(ctx, db.Pool); err != nil {
			a.close()
			return nil, err
		}
		events = session.NewPostgresEventLogger(db.Pool)
		checks["database"] = db
		slog.Info("analytics events enabled")
	}

	if cfg.Cache.URL != "" {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { c.Close() })
		if store, err = session.NewRedisStore(c.Client, cfg.SessionTTL()); err != nil {
			a.close()
			return nil, err
		}
		checks["cache"] = c
		slog.Info("sessions stored in cache")
	}

	if store == nil {
		mem := session.NewMemoryStore(cfg.SessionTTL())
		janitorCtx, cancel := context.WithCancel(ctx)
		a.closers = append(a.closers, cancel)
		go mem.Janitor(janitorCtx, sessionSweepInterval)
		store = mem
	}

	engine := session.NewEngine(session.EngineConfig{
		Content:      loader,
		Store:        store,
		Events:       events,
		PassingScore: cfg.Quiz.PassingScore,
	})

	a.handler = api.NewServer(api.Config{
		Content:        loader,
		Engine:         engine,
		PassingScore:   cfg.Quiz.PassingScore,
		Checks:         checks,
		OriginPatterns: cfg.Server.WSOrigins,
	})
	return a, nil
}

// newLogger builds the process logger from the log settings.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
