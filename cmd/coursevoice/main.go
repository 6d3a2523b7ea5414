// Command coursevoice runs the AI bridge server for embedded e-learning
// widgets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nord-m/coursevoice/internal/config"
	"github.com/nord-m/coursevoice/internal/health"
	"github.com/nord-m/coursevoice/internal/httpapi"
	"github.com/nord-m/coursevoice/internal/observe"
	"github.com/nord-m/coursevoice/internal/session"
	pgstore "github.com/nord-m/coursevoice/internal/session/postgres"
	"github.com/nord-m/coursevoice/internal/transcript"
	"github.com/nord-m/coursevoice/pkg/provider/textgen"
	"github.com/nord-m/coursevoice/pkg/provider/textgen/anyllm"
	"github.com/nord-m/coursevoice/pkg/provider/textgen/gemini"
	"github.com/nord-m/coursevoice/pkg/provider/textgen/mistral"
	"github.com/nord-m/coursevoice/pkg/provider/textgen/openai"
	"github.com/nord-m/coursevoice/pkg/provider/textgen/yandex"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "coursevoice: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "coursevoice: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("coursevoice starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"provider", cfg.Provider.Name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider ──────────────────────────────────────────────────────────────
	provider, err := buildProvider(cfg)
	if err != nil {
		slog.Error("failed to build provider", "err", err)
		return 1
	}
	slog.Info("provider created", "name", provider.Name())

	// ── Session store ─────────────────────────────────────────────────────────
	store, storeCleanup, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to build session store", "err", err)
		return 1
	}
	defer storeCleanup()

	// ── HTTP surface ──────────────────────────────────────────────────────────
	apiOpts := []httpapi.Option{
		httpapi.WithCORSOrigin(cfg.Server.CORSOrigin),
		httpapi.WithMaxMessages(cfg.Session.MaxMessages),
	}
	if len(cfg.Transcript.Glossary) > 0 {
		apiOpts = append(apiOpts, httpapi.WithCorrector(transcript.NewCorrector(cfg.Transcript.Glossary)))
		slog.Info("transcript glossary loaded", "terms", len(cfg.Transcript.Glossary))
	}
	api := httpapi.New(provider, store, apiOpts...)

	checkers := []health.Checker{health.ProviderChecker(provider)}
	if p, ok := store.(health.Pinger); ok {
		checkers = append(checkers, health.StoreChecker(p))
	}

	mux := http.NewServeMux()
	api.Register(mux)
	health.New(checkers...).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	metrics := observe.DefaultMetrics()
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg)

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Postgres keeps expired rows until someone sweeps them.
	if pg, ok := store.(*pgstore.Store); ok {
		g.Go(func() error {
			sweepSessions(gctx, pg, cfg.Session.TTL.Std())
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProvider constructs the text generation provider named in cfg.
func buildProvider(cfg *config.Config) (textgen.Provider, error) {
	p := cfg.Provider

	// An explicit primary without an explicit fallback retries on itself.
	fallback := p.FallbackModel
	if fallback == "" {
		fallback = p.Model
	}

	switch p.Name {
	case "openai":
		var opts []openai.Option
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		if p.Model != "" {
			opts = append(opts, openai.WithModels(p.Model, fallback))
		}
		return openai.New(p.APIKey, opts...)

	case "gemini":
		var opts []gemini.Option
		if p.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(p.BaseURL))
		}
		if p.Model != "" {
			opts = append(opts, gemini.WithModels(p.Model, fallback))
		}
		return gemini.New(p.APIKey, opts...)

	case "mistral":
		var opts []mistral.Option
		if p.BaseURL != "" {
			opts = append(opts, mistral.WithBaseURL(p.BaseURL))
		}
		if p.Model != "" {
			opts = append(opts, mistral.WithModels(p.Model, fallback))
		}
		return mistral.New(p.APIKey, opts...)

	case "yandex":
		var opts []yandex.Option
		if p.BaseURL != "" {
			opts = append(opts, yandex.WithLLMBaseURL(p.BaseURL))
		}
		if p.Model != "" {
			opts = append(opts, yandex.WithModels(p.Model, fallback))
		}
		return yandex.New(p.APIKey, p.FolderID, opts...)

	case "anyllm":
		var opts []anyllmlib.Option
		if p.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(p.APIKey))
		}
		if p.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(p.BaseURL))
		}
		return anyllm.New(p.Vendor, p.Model, opts...)

	default:
		return nil, fmt.Errorf("unknown provider %q", p.Name)
	}
}

// ── Session store wiring ──────────────────────────────────────────────────────

// sweepInterval is how often the in-memory store's janitor runs.
const sweepInterval = time.Minute

func buildStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	ttl := cfg.Session.TTL.Std()

	switch cfg.Session.Backend {
	case config.BackendMemory:
		s := session.NewMemStore(ttl, sweepInterval)
		slog.Info("session store ready", "backend", "memory", "ttl", ttl)
		return s, s.Close, nil

	case config.BackendPostgres:
		s, err := pgstore.New(ctx, cfg.Session.PostgresDSN, ttl)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		slog.Info("session store ready", "backend", "postgres", "ttl", ttl)
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

// sweepSessions periodically deletes expired postgres sessions until ctx is
// cancelled.
func sweepSessions(ctx context.Context, s *pgstore.Store, ttl time.Duration) {
	interval := ttl / 2
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DeleteExpired(ctx)
			if err != nil {
				slog.Warn("session sweep failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("expired sessions removed", "count", n)
			}
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      coursevoice — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Provider", providerLabel(cfg.Provider))
	printRow("Store", string(cfg.Session.Backend))
	printRow("Session TTL", cfg.Session.TTL.Std().String())
	printRow("Glossary", fmt.Sprintf("%d terms", len(cfg.Transcript.Glossary)))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(p config.ProviderConfig) string {
	label := p.Name
	if p.Name == "anyllm" {
		label = p.Name + "/" + p.Vendor
	}
	if p.Model != "" {
		label += " / " + p.Model
	}
	return label
}

func printRow(name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", name, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
