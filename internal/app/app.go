// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	systemclock "github.com/JakeFAU/serp-reporter/internal/clock/system"
	"github.com/JakeFAU/serp-reporter/internal/config"
	"github.com/JakeFAU/serp-reporter/internal/crawl"
	"github.com/JakeFAU/serp-reporter/internal/fetcher/demo"
	"github.com/JakeFAU/serp-reporter/internal/fetcher/headless"
	"github.com/JakeFAU/serp-reporter/internal/fetcher/serp"
	hashsha256 "github.com/JakeFAU/serp-reporter/internal/hash/sha256"
	iduuid "github.com/JakeFAU/serp-reporter/internal/id/uuid"
	"github.com/JakeFAU/serp-reporter/internal/mailer"
	"github.com/JakeFAU/serp-reporter/internal/metrics"
	"github.com/JakeFAU/serp-reporter/internal/policy/ratelimit"
	"github.com/JakeFAU/serp-reporter/internal/progress"
	"github.com/JakeFAU/serp-reporter/internal/progress/sinks"
	"github.com/JakeFAU/serp-reporter/internal/report"
	"github.com/JakeFAU/serp-reporter/internal/session"
	"github.com/JakeFAU/serp-reporter/internal/storage/memory"
	"github.com/JakeFAU/serp-reporter/internal/storage/postgres"
)

// App holds the shared, long-lived services for the crawl service. It is
// initialized once at startup and passed to the commands that need it.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    crawl.ResultStore
	manager  *session.Manager
	compiler *report.Compiler
	renderer *report.Renderer
	sender   mailer.Sender

	closeStore   func()
	closeFetcher func()
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store exposes the configured result store.
func (a *App) Store() crawl.ResultStore {
	return a.store
}

// Manager returns the session manager driving crawl sessions.
func (a *App) Manager() *session.Manager {
	return a.manager
}

// Compiler returns the report compiler.
func (a *App) Compiler() *report.Compiler {
	return a.compiler
}

// Renderer returns the report renderer.
func (a *App) Renderer() *report.Renderer {
	return a.renderer
}

// Sender returns the configured mail sender.
func (a *App) Sender() mailer.Sender {
	return a.sender
}

// NewApp creates and initializes an App from configuration. It is the
// central point for service initialization and fails fast if any critical
// service cannot be built.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closeStore = closeStore

	fetcher, closeFetcher, err := buildFetcher(cfg, logger)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.closeFetcher = closeFetcher

	sender, err := buildSender(cfg, logger)
	if err != nil {
		a.closeFetcher()
		a.closeStore()
		return nil, err
	}
	a.sender = sender

	limiter := ratelimit.New(ratelimit.Config{
		MinDelay:       cfg.RateLimit.MinDelay(),
		MaxDelay:       cfg.RateLimit.MaxDelay(),
		BackoffCeiling: cfg.RateLimit.BackoffCeiling(),
		SuccessReset:   cfg.RateLimit.SuccessReset,
		DomainRPS:      cfg.RateLimit.DomainRPS,
	})

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		a.closeFetcher()
		a.closeStore()
		return nil, fmt.Errorf("register progress collectors: %w", err)
	}
	sink := progress.NewMultiSink(sinks.NewLogSink(logger), promSink)

	a.manager = session.NewManager(
		store,
		fetcher,
		limiter,
		crawl.NewNormalizer(hashsha256.New(), logger),
		sink,
		systemclock.New(),
		iduuid.New(),
		logger,
		session.Config{
			MaxConcurrentSessions: cfg.Crawler.MaxConcurrentSessions,
			DefaultMaxResults:     cfg.Crawler.MaxResultsDefault,
			MaxResultsCeiling:     cfg.Crawler.MaxResultsCeiling,
			GlobalDedup:           cfg.Crawler.GlobalDedup,
			SearchDomain:          searchDomain(cfg.Crawler.SearchBaseURL),
		},
	)

	renderer, err := report.NewRenderer()
	if err != nil {
		a.closeFetcher()
		a.closeStore()
		return nil, err
	}
	a.renderer = renderer
	a.compiler = report.NewCompiler(store, systemclock.New())

	logger.Info("application services initialized",
		zap.String("db_provider", cfg.DB.Provider),
		zap.String("crawler_provider", cfg.Crawler.Provider),
		zap.Bool("smtp_configured", cfg.SMTP.Host != ""),
	)
	return a, nil
}

// Close gracefully shuts down services, waiting for in-flight sessions
// until ctx expires.
func (a *App) Close(ctx context.Context) {
	if err := a.manager.Close(ctx); err != nil {
		a.logger.Warn("sessions still running at shutdown", zap.Error(err))
	}
	if a.closeFetcher != nil {
		a.closeFetcher()
	}
	if a.closeStore != nil {
		a.closeStore()
	}
	_ = a.logger.Sync()
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawl.ResultStore, func(), error) {
	switch cfg.DB.Provider {
	case "postgres":
		logger.Info("connecting to postgres")
		store, err := postgres.NewResultStore(ctx, postgres.ResultStoreConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
			MinConns: int32(cfg.DB.MinConns),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize postgres store: %w", err)
		}
		return store, store.Close, nil
	case "memory":
		logger.Info("using in-memory result store, results will not survive restarts")
		store := memory.NewResultStore()
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown db provider: %s", cfg.DB.Provider)
	}
}

func buildFetcher(cfg config.Config, logger *zap.Logger) (crawl.Fetcher, func(), error) {
	switch cfg.Crawler.Provider {
	case "serp":
		f := serp.New(serp.Config{
			BaseURL:   cfg.Crawler.SearchBaseURL,
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   cfg.Crawler.FetchTimeout(),
		})
		return f, func() {}, nil
	case "headless":
		f, err := headless.NewChromedp(headless.Config{
			BaseURL:           cfg.Crawler.SearchBaseURL,
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize headless fetcher: %w", err)
		}
		return f, f.Close, nil
	case "demo":
		logger.Info("using demo fetcher, no network requests will be made")
		return demo.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown crawler provider: %s", cfg.Crawler.Provider)
	}
}

func buildSender(cfg config.Config, logger *zap.Logger) (mailer.Sender, error) {
	if cfg.SMTP.Host == "" {
		return mailer.NewNoopSender(logger), nil
	}
	sender, err := mailer.NewSMTPSender(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
		UseTLS:   cfg.SMTP.UseTLS,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize smtp sender: %w", err)
	}
	return sender, nil
}

// searchDomain extracts the host from the search base URL for rate-limit
// bucketing. Falls back to the raw value when parsing fails.
func searchDomain(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return baseURL
	}
	return u.Host
}
