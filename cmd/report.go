package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var (
		sessionID string
		to        string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Compile and email the report for a finished session",
		Long: `Compiles the deduplicated results of a stored session into an HTML
report grouped by keyword and delivers it over SMTP. With no --to flag the
configured default recipient is used.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return deliverReport(cmd, appInstance, sessionID, to)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "session to report on")
	cmd.Flags().StringVar(&to, "to", "", "recipient address (default: report.default_recipient)")
	_ = cmd.MarkFlagRequired("session-id")

	return cmd
}

func parseSessionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid session id %q", raw)
	}
	return id, nil
}
