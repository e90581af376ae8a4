package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-reporter/internal/crawl"
	"github.com/JakeFAU/serp-reporter/internal/report"
	"github.com/JakeFAU/serp-reporter/internal/session"
)

func newCrawlCmd() *cobra.Command {
	var (
		name       string
		keywords   []string
		maxResults int
		emailTo    string
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl session to completion",
		Long: `Runs a crawl session for the given keywords synchronously, printing
the outcome. With --email-to, the compiled report is delivered once the
session finishes with results.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, name, keywords, maxResults, emailTo)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "session name (generated when empty)")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "keywords to crawl, comma separated or repeated")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "max results per keyword (0 uses the configured default)")
	cmd.Flags().StringVar(&emailTo, "email-to", "", "deliver the report to this address when the session finishes")
	_ = cmd.MarkFlagRequired("keywords")

	return cmd
}

func runCrawlCommand(cmd *cobra.Command, name string, keywords []string, maxResults int, emailTo string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	finished, err := appInstance.Manager().Run(cmd.Context(), session.Request{
		Name:       name,
		Keywords:   keywords,
		MaxResults: maxResults,
	})
	if err != nil {
		return fmt.Errorf("run session: %w", err)
	}

	logger.Info("session finished",
		zap.String("session_id", finished.ID.String()),
		zap.String("name", finished.Name),
		zap.String("status", string(finished.Status)),
		zap.Int("total_results", finished.TotalResults),
		zap.String("error_text", finished.ErrorText),
	)
	cmd.Printf("session %s %s: %d results\n", finished.ID, finished.Status, finished.TotalResults)

	if finished.Status == crawl.SessionFailed {
		return fmt.Errorf("session failed: %s", finished.ErrorText)
	}
	if emailTo == "" {
		return nil
	}
	return deliverReport(cmd, appInstance, finished.ID.String(), emailTo)
}

// deliverReport compiles and sends the report for a finished session. Shared
// with the report command.
func deliverReport(cmd *cobra.Command, appInstance App, sessionID, to string) error {
	id, err := parseSessionID(sessionID)
	if err != nil {
		return err
	}
	if to == "" {
		to = appInstance.Config().Report.DefaultRecipient
	}
	if to == "" {
		return errors.New("no recipient: pass --to or configure report.default_recipient")
	}

	payload, err := appInstance.Compiler().Compile(cmd.Context(), id)
	if err != nil {
		if errors.Is(err, report.ErrNoResults) {
			return fmt.Errorf("session %s has no results to report", sessionID)
		}
		return fmt.Errorf("compile report: %w", err)
	}
	msg, err := appInstance.Renderer().Render(payload, to)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	delivery, err := appInstance.Sender().Send(cmd.Context(), msg)
	if err != nil {
		return fmt.Errorf("deliver report: %w", err)
	}

	appInstance.Logger().Info("report delivered",
		zap.String("session_id", sessionID),
		zap.String("to", to),
		zap.String("message_id", delivery.MessageID),
		zap.String("status", delivery.Status),
	)
	cmd.Printf("report %s to %s (%s)\n", delivery.Status, to, delivery.MessageID)
	return nil
}
