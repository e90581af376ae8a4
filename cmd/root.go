// Package cmd defines and implements the CLI commands for the serp-reporter
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-reporter/internal/app"
	"github.com/JakeFAU/serp-reporter/internal/config"
	"github.com/JakeFAU/serp-reporter/internal/crawl"
	"github.com/JakeFAU/serp-reporter/internal/logging"
	"github.com/JakeFAU/serp-reporter/internal/mailer"
	"github.com/JakeFAU/serp-reporter/internal/report"
	"github.com/JakeFAU/serp-reporter/internal/session"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

const shutdownGrace = 30 * time.Second

// App is the slice of the application container the commands use. An
// interface so tests can inject a fake.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Store() crawl.ResultStore
	Manager() *session.Manager
	Compiler() *report.Compiler
	Renderer() *report.Renderer
	Sender() mailer.Sender
	Close(ctx context.Context)
}

// newApp is the application factory, a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.NewApp(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serp-reporter",
		Short: "Crawl search results for keywords and email deduplicated reports.",
		Long: `serp-reporter runs keyword crawl sessions against a search engine,
deduplicates the organic results by normalized URL fingerprint, persists
them, and compiles HTML email reports grouped by keyword.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				appInstance.Close(ctx)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newReportCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
