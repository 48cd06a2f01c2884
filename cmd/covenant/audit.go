package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/covenant/pkg/cli"
	"mercator-hq/covenant/pkg/conflict"
	"mercator-hq/covenant/pkg/conflict/audit"
)

var auditFlags struct {
	from         string
	format       string
	out          string
	pretty       bool
	severity     string
	conflictType string
	workflow     string
	policyID     string
	since        string
	limit        int
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the conflict audit log",
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export conflict audit records",
	Long: `Export conflict audit records as JSON or CSV.

Records are read from the JSON Lines audit file or the SQLite audit
database configured under conflict.audit, filtered and written oldest first.

Examples:
  # Everything from the audit file as CSV
  covenant audit export --format csv --out conflicts.csv

  # Safety-critical conflicts from the last day, from SQLite
  covenant audit export --from sqlite --severity safety_critical --since 24h`,
	RunE: runAuditExport,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditExportCmd)

	f := auditExportCmd.Flags()
	f.StringVar(&auditFlags.from, "from", "file", "audit store to read (file, sqlite)")
	f.StringVarP(&auditFlags.format, "format", "f", "json", "export format (json, csv)")
	f.StringVar(&auditFlags.out, "out", "", "write to this file instead of stdout")
	f.BoolVar(&auditFlags.pretty, "pretty", false, "indent JSON output")
	f.StringVar(&auditFlags.severity, "severity", "", "only this severity")
	f.StringVar(&auditFlags.conflictType, "type", "", "only this conflict type")
	f.StringVar(&auditFlags.workflow, "workflow", "", "only conflicts in this workflow")
	f.StringVar(&auditFlags.policyID, "policy", "", "only conflicts involving this policy")
	f.StringVar(&auditFlags.since, "since", "", "only conflicts detected after an RFC 3339 time or a duration ago")
	f.IntVar(&auditFlags.limit, "limit", 1000, "newest records to export")
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	exporter, err := audit.NewExporter(auditFlags.format, auditFlags.pretty)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}
	q, err := auditQuery(auditFlags.severity, auditFlags.conflictType, auditFlags.workflow, auditFlags.policyID, auditFlags.since, auditFlags.limit)
	if err != nil {
		return err
	}

	var records []*conflict.Conflict
	switch auditFlags.from {
	case "file":
		all, err := audit.ReadFile(cfg.Conflict.Audit.File.Path)
		if err != nil {
			return err
		}
		records = q.Apply(all)
	case "sqlite":
		sink, err := openAuditDB(cfg.Conflict.Audit.SQLite)
		if err != nil {
			return err
		}
		defer sink.Close()
		if records, err = sink.Query(cmd.Context(), q); err != nil {
			return err
		}
	default:
		return cli.NewConfigError("from", fmt.Sprintf("unsupported audit store %q (supported: file, sqlite)", auditFlags.from))
	}

	var w io.Writer = cmd.OutOrStdout()
	if auditFlags.out != "" {
		f, err := os.Create(auditFlags.out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", auditFlags.out, err)
		}
		defer f.Close()
		w = f
	}
	return exporter.Export(cmd.Context(), records, w)
}

// auditQuery builds an audit filter from flag values.
func auditQuery(severity, conflictType, workflow, policyID, since string, limit int) (audit.Query, error) {
	q := audit.Query{
		Severity:   conflict.Severity(severity),
		Type:       conflict.Type(conflictType),
		WorkflowID: workflow,
		PolicyID:   policyID,
		Limit:      limit,
	}
	if since != "" {
		t, err := parseSince(since, time.Now())
		if err != nil {
			return q, cli.NewConfigError("since", err.Error())
		}
		q.Since = t
	}
	return q, nil
}

// parseSince accepts an RFC 3339 timestamp or a duration back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither an RFC 3339 time nor a duration", s)
	}
	return now.Add(-d), nil
}
