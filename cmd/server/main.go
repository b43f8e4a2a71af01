package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-learn/internal/ai"
	"github.com/p-n-ai/pai-learn/internal/api"
	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/events"
	"github.com/p-n-ai/pai-learn/internal/platform/cache"
	"github.com/p-n-ai/pai-learn/internal/platform/config"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/quiz"
	"github.com/p-n-ai/pai-learn/internal/report"
	"github.com/p-n-ai/pai-learn/internal/unlock"
)

const readinessTimeout = 2 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	app, err := build(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// newLogger builds the process logger from LEARN_LOG_LEVEL and LEARN_LOG_FORMAT.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

type app struct {
	mux     *http.ServeMux
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build wires stores, services and routes according to cfg.
func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	checks := map[string]healthChecker{}
	hub := events.NewHub()
	publishers := events.Fanout{hub}

	var (
		chapters course.Store
		store    progress.Store
	)
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		checks["database"] = db
		cs, err := course.NewPostgresStore(db.Pool)
		if err != nil {
			a.close()
			return nil, err
		}
		ps, err := progress.NewPostgresStore(db.Pool)
		if err != nil {
			a.close()
			return nil, err
		}
		chapters, store = cs, ps
		publishers = append(publishers, events.NewPostgresPublisher(db.Pool))
	default:
		chapters, store = course.NewMemoryStore(), progress.NewMemoryStore()
	}

	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = c.Close() })
		checks["cache"] = c
		store = progress.NewCachedStore(store, c, cfg.Cache.TTL)
	}

	if cfg.CoursePath != "" {
		loader, err := course.NewLoader(cfg.CoursePath)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := loader.Seed(ctx, chapters); err != nil {
			a.close()
			return nil, err
		}
		slog.Info("courses seeded", "path", cfg.CoursePath, "courses", len(loader.Definitions()))
	}

	manager, err := quiz.NewManager(quiz.Config{
		Chapters:      chapters,
		Progress:      store,
		Events:        publishers,
		LatePolicy:    quiz.LatePolicy(cfg.Quiz.LatePolicy),
		PassingPolicy: quiz.PassingPolicy(cfg.Quiz.PassingPolicy),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	generator, err := newGenerator(cfg, chapters, publishers)
	if err != nil {
		a.close()
		return nil, err
	}

	a.mux = newMux(checks)
	api.New(api.Deps{
		Chapters:  chapters,
		Tracker:   progress.NewTracker(chapters, store, publishers),
		Resolver:  unlock.NewResolver(chapters, store),
		Quiz:      manager,
		Generator: generator,
		Reports:   report.NewAggregator(chapters, store),
		Hub:       hub,
	}).Register(a.mux)
	return a, nil
}

// newGenerator returns nil when no AI provider is configured.
func newGenerator(cfg *config.Config, chapters course.Store, pub events.Publisher) (*quiz.Generator, error) {
	router := ai.NewRouter()
	if key := cfg.AI.OpenAI.APIKey; key != "" {
		router.Register("openai", ai.NewOpenAIProvider(key,
			ai.WithBaseURL(cfg.AI.OpenAI.BaseURL),
			ai.WithDefaultModel(cfg.AI.OpenAI.Model),
		))
	}
	if key := cfg.AI.DeepSeek.APIKey; key != "" {
		router.Register("deepseek", ai.NewDeepSeekProvider(key))
	}
	if !router.HasProvider() {
		slog.Warn("no AI provider configured, quiz generation disabled")
		return nil, nil
	}

	return quiz.NewGenerator(quiz.GeneratorConfig{
		AI:            router,
		Chapters:      chapters,
		Events:        pub,
		Budget:        ai.NewInMemoryBudget(int64(cfg.AI.CourseTokenBudget)),
		QuestionCount: cfg.Quiz.QuestionCount,
	})
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// newMux creates the HTTP router with health check endpoints. readyz pings
// every dependency in checks.
func newMux(checks map[string]healthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", readyzHandler(checks))
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func readyzHandler(checks map[string]healthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		failed := map[string]string{}
		for name, c := range checks {
			if err := c.HealthCheck(ctx); err != nil {
				slog.Warn("readiness check failed", "dependency", name, "error", err)
				failed[name] = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{"status": "unavailable", "failed": failed})
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}
