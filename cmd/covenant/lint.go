package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/covenant/pkg/cli"
	"mercator-hq/covenant/pkg/policy"
	"mercator-hq/covenant/pkg/policy/source"
	"mercator-hq/covenant/pkg/policy/translate"
)

var lintFlags struct {
	files  []string
	dir    string
	strict bool
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate policy documents",
	Long: `Translate policy documents and report what is wrong with them.

Errors are documents that cannot be translated: bad YAML, unknown fields,
operators, domains or trigger types. Warnings are documents that translate
but are unlikely to do what was meant, such as a policy with no conditions.

Examples:
  # Lint single file
  covenant lint --file spend.yaml

  # Lint a directory
  covenant lint --dir policies/

  # Strict mode (warnings as errors)
  covenant lint --dir policies/ --strict

  # JSON output for CI/CD
  covenant lint --dir policies/ --output json`,
	RunE: lintPolicies,
}

func init() {
	rootCmd.AddCommand(lintCmd)

	lintCmd.Flags().StringSliceVarP(&lintFlags.files, "file", "f", nil, "policy document to validate (repeatable)")
	lintCmd.Flags().StringVarP(&lintFlags.dir, "dir", "d", "", "directory of policy documents")
	lintCmd.Flags().BoolVar(&lintFlags.strict, "strict", false, "treat warnings as errors")
}

// lintResult is the outcome for one document.
type lintResult struct {
	File     string   `json:"file" yaml:"file"`
	PolicyID string   `json:"policy_id,omitempty" yaml:"policy_id,omitempty"`
	Valid    bool     `json:"valid" yaml:"valid"`
	Errors   []string `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func lintPolicies(cmd *cobra.Command, args []string) error {
	if len(lintFlags.files) == 0 && lintFlags.dir == "" {
		return cli.NewConfigError("file", "either --file or --dir must be specified")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	type doc struct {
		file, id, text string
		readErr        error
	}
	var docs []doc
	for _, path := range lintFlags.files {
		data, err := os.ReadFile(path)
		docs = append(docs, doc{
			file:    path,
			id:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			text:    string(data),
			readErr: err,
		})
	}
	if lintFlags.dir != "" {
		fs, err := source.NewFileSource(source.FileConfig{Dir: lintFlags.dir, Extensions: cfg.Live.Sources.File.Extensions}, logger)
		if err != nil {
			return cli.NewConfigError("dir", err.Error())
		}
		changes, err := fs.FetchChanges(cmd.Context())
		if err != nil {
			return err
		}
		for _, c := range changes {
			rel, _ := c.Metadata["path"].(string)
			docs = append(docs, doc{file: filepath.Join(lintFlags.dir, filepath.FromSlash(rel)), id: c.PolicyID, text: c.RawText})
		}
	}
	if len(docs) == 0 {
		return cli.NewConfigError("dir", "no policy documents found")
	}

	translator := translate.New()
	results := make(lintTable, 0, len(docs))
	var errCount, warnCount int
	for _, d := range docs {
		r := lintResult{File: d.file, PolicyID: d.id, Valid: true}
		if d.readErr != nil {
			r.Errors = []string{d.readErr.Error()}
		} else if p, err := translator.Translate(cmd.Context(), d.text, map[string]any{"policy_id": d.id}); err != nil {
			r.Errors = []string{err.Error()}
		} else {
			r.Warnings = lintWarnings(p)
		}
		if len(r.Errors) > 0 || (lintFlags.strict && len(r.Warnings) > 0) {
			r.Valid = false
		}
		errCount += len(r.Errors)
		warnCount += len(r.Warnings)
		results = append(results, r)
	}

	if err := render(cmd, results); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d error(s), %d warning(s)\n", errCount, warnCount)

	if errCount > 0 || (lintFlags.strict && warnCount > 0) {
		return cli.NewCommandError("lint", fmt.Errorf("validation failed"))
	}
	return nil
}

// lintWarnings flags policies that translate but are probably mistakes.
func lintWarnings(p *policy.Policy) []string {
	var warnings []string
	if len(p.Conditions) == 0 {
		warnings = append(warnings, "no conditions: the policy is always active")
	}
	if len(p.Triggers) == 0 && len(p.Instructions) == 0 {
		warnings = append(warnings, "no triggers or instructions: activation has no effect")
	}
	if p.IsTemplate && p.TemplateID != "" {
		warnings = append(warnings, fmt.Sprintf("template declares template_id %q", p.TemplateID))
	}
	return warnings
}

type lintTable []lintResult

func (t lintTable) Header() []string {
	return []string{"FILE", "RESULT", "MESSAGE"}
}

func (t lintTable) Rows() [][]string {
	var rows [][]string
	for _, r := range t {
		if len(r.Errors) == 0 && len(r.Warnings) == 0 {
			rows = append(rows, []string{r.File, "ok", ""})
			continue
		}
		for _, e := range r.Errors {
			rows = append(rows, []string{r.File, "error", e})
		}
		for _, w := range r.Warnings {
			rows = append(rows, []string{r.File, "warning", w})
		}
	}
	return rows
}
