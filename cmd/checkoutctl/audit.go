package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wearwise/checkout/internal/platform/audit"
	"github.com/wearwise/checkout/internal/services"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the local checkout audit trail",
	}
	cmd.AddCommand(auditListCmd())
	return cmd
}

func auditListCmd() *cobra.Command {
	var (
		dbPath string
		filter services.AuditLogFilter
		since  time.Duration
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				dbPath = os.Getenv("CHECKOUT_AUDIT_SQLITE_PATH")
			}
			if dbPath == "" {
				return fmt.Errorf("--db or CHECKOUT_AUDIT_SQLITE_PATH is required")
			}
			auditLog, err := audit.Open(dbPath)
			if err != nil {
				return err
			}
			defer auditLog.Close()

			svc, err := services.NewAuditLogService(services.AuditLogServiceDeps{Repository: auditLog})
			if err != nil {
				return err
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			entries, err := svc.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tCORRELATION\tPROVIDER\tSTATUS\tORDER")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format(time.RFC3339), e.Action, e.CorrelationID, e.Provider, e.Status, e.OrderID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the audit SQLite database")
	cmd.Flags().StringVarP(&filter.CorrelationID, "correlation-id", "c", "", "Only entries for this transaction")
	cmd.Flags().StringVarP(&filter.Action, "action", "a", "", "Only entries with this action")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this duration")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 100, "Maximum entries")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}
