package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/covenant/pkg/cli"
	"mercator-hq/covenant/pkg/conflict"
	"mercator-hq/covenant/pkg/policy"
	"mercator-hq/covenant/pkg/policy/live"
	"mercator-hq/covenant/pkg/policy/source"
	"mercator-hq/covenant/pkg/policy/translate"
)

var scanFlags struct {
	dir            string
	audit          bool
	failOnConflict bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan policies for conflicts once",
	Long: `Run a single conflict scan and print what it finds.

By default the latest version of every policy in the configured repository
is scanned. With --dir the policy documents in a directory are translated
and scanned instead, without touching the repository. The command exits
with status 3 when conflicts are found unless --fail-on-conflict=false.

Examples:
  # Scan the repository
  covenant scan --config covenant.yaml

  # Scan a checkout before merging it
  covenant scan --dir ./policies --output json

  # Append the findings to the configured audit sinks
  covenant scan --audit`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanFlags.dir, "dir", "d", "", "scan policy documents in this directory instead of the repository")
	scanCmd.Flags().BoolVar(&scanFlags.audit, "audit", false, "append findings to the configured audit sinks")
	scanCmd.Flags().BoolVar(&scanFlags.failOnConflict, "fail-on-conflict", true, "exit with status 3 when conflicts are found")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var lister policy.Lister
	if scanFlags.dir != "" {
		lister, err = loadDir(ctx, scanFlags.dir, cfg.Live.Sources.File.Extensions, logger)
		if err != nil {
			return err
		}
	} else {
		repo, err := openRepository(cfg.Repository)
		if err != nil {
			return err
		}
		defer repo.Close()
		lister = repo
	}

	detector, err := conflict.New(nil, lister, logger)
	if err != nil {
		return err
	}
	if scanFlags.audit {
		sinks, closeSinks, err := openAuditSinks(cfg.Conflict.Audit)
		if err != nil {
			return err
		}
		defer closeSinks.Close()
		for _, s := range sinks {
			detector.AddSink(s)
		}
	}

	found, err := detector.ScanOnce(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if err := render(cmd, conflictTable(found)); err != nil {
		return err
	}
	if len(found) > 0 && scanFlags.failOnConflict {
		return fmt.Errorf("%d conflicts found: %w", len(found), cli.ErrViolation)
	}
	return nil
}

// loadDir translates every policy document under dir into a live engine
// and returns its current policies. Documents that fail to translate are
// logged and skipped.
func loadDir(ctx context.Context, dir string, extensions []string, logger *slog.Logger) (policy.Lister, error) {
	fs, err := source.NewFileSource(source.FileConfig{Dir: dir, Extensions: extensions}, logger)
	if err != nil {
		return nil, cli.NewConfigError("dir", err.Error())
	}
	eng, err := live.New(nil, translate.New(), logger)
	if err != nil {
		return nil, err
	}
	eng.AddSource(fs)

	results, err := eng.SyncOnce(ctx)
	if err != nil {
		logger.Warn("some policy documents were skipped", "error", err)
	}
	logger.Debug("policy directory loaded", "dir", dir, "policies", len(results))
	return eng.Current(), nil
}

type conflictTable []*conflict.Conflict

func (t conflictTable) Header() []string {
	return []string{"SEVERITY", "TYPE", "POLICIES", "WORKFLOW", "DETECTED", "DESCRIPTION"}
}

func (t conflictTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, c := range t {
		workflow := c.WorkflowID
		if workflow == "" {
			workflow = "-"
		}
		rows = append(rows, []string{
			string(c.Severity),
			string(c.Type),
			strings.Join(c.PolicyIDs[:], ","),
			workflow,
			c.DetectedAt.UTC().Format(time.RFC3339),
			c.Description,
		})
	}
	return rows
}
