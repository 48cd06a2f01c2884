package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/covenant/pkg/cli"
	"mercator-hq/covenant/pkg/policy"
	"mercator-hq/covenant/pkg/policy/source"
	"mercator-hq/covenant/pkg/policy/translate"
)

var policyFlags struct {
	industry       string
	compliance     string
	functionalArea string
	domain         string
	templates      bool
	nonTemplates   bool

	title string

	policyID    string
	versionHint string
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage the policy repository",
	Long: `Manage the policy repository and publish policy changes.

Subcommands:
  list     - List stored policy versions
  history  - Show the version history of one policy
  import   - Translate a directory of documents and store them
  clone    - Create a policy from a stored template
  publish  - Queue a policy document on the Redis change source

Examples:
  # Finance policies
  covenant policy list --domain finance

  # Versions of one policy
  covenant policy history spend-limit

  # Store every document under ./policies
  covenant policy import ./policies

  # Instantiate the HIPAA template
  covenant policy clone hipaa-template clinic-hipaa --title "Clinic HIPAA"

  # Hand a new document to running engines
  covenant policy publish spend.yaml --policy-id spend-limit`,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored policy versions",
	Args:  cobra.NoArgs,
	RunE:  runPolicyList,
}

var policyHistoryCmd = &cobra.Command{
	Use:   "history <policy-id>",
	Short: "Show the version history of a policy",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyHistory,
}

var policyImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Store every policy document in a directory",
	Long: `Translate every policy document under a directory and store it in the
repository. A document whose policy already exists is stored as the next
patch version unless the document declares its own version.`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicyImport,
}

var policyCloneCmd = &cobra.Command{
	Use:   "clone <template-id> <new-policy-id>",
	Short: "Create a policy from a stored template",
	Args:  cobra.ExactArgs(2),
	RunE:  runPolicyClone,
}

var policyPublishCmd = &cobra.Command{
	Use:   "publish <file>",
	Short: "Queue a policy document for running engines",
	Long: `Push a policy document onto the Redis change list configured under
live.sources.redis. Every engine draining that list applies it on its next
poll.`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicyPublish,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyListCmd, policyHistoryCmd, policyImportCmd, policyCloneCmd, policyPublishCmd)

	lf := policyListCmd.Flags()
	lf.StringVar(&policyFlags.industry, "industry", "", "only this industry")
	lf.StringVar(&policyFlags.compliance, "compliance", "", "only this compliance framework")
	lf.StringVar(&policyFlags.functionalArea, "functional-area", "", "only this functional area")
	lf.StringVar(&policyFlags.domain, "domain", "", "only this domain")
	lf.BoolVar(&policyFlags.templates, "templates", false, "only templates")
	lf.BoolVar(&policyFlags.nonTemplates, "no-templates", false, "exclude templates")
	policyListCmd.MarkFlagsMutuallyExclusive("templates", "no-templates")

	policyCloneCmd.Flags().StringVar(&policyFlags.title, "title", "", "title of the new policy")

	pf := policyPublishCmd.Flags()
	pf.StringVar(&policyFlags.policyID, "policy-id", "", "policy ID (default: file name without extension)")
	pf.StringVar(&policyFlags.versionHint, "version", "", "publish as this exact version")
}

func runPolicyList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := openRepository(cfg.Repository)
	if err != nil {
		return err
	}
	defer repo.Close()

	filter := policy.Filter{
		Industry:            policyFlags.industry,
		ComplianceFramework: policyFlags.compliance,
		FunctionalArea:      policyFlags.functionalArea,
		Domain:              policy.Domain(policyFlags.domain),
	}
	switch {
	case policyFlags.templates:
		filter.IsTemplate = boolPtr(true)
	case policyFlags.nonTemplates:
		filter.IsTemplate = boolPtr(false)
	}

	policies, err := repo.ListPolicies(cmd.Context(), filter)
	if err != nil {
		return err
	}
	return render(cmd, policyTable(policies))
}

func runPolicyHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := openRepository(cfg.Repository)
	if err != nil {
		return err
	}
	defer repo.Close()

	history, err := repo.VersionHistory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return fmt.Errorf("%s: %w", args[0], policy.ErrPolicyNotFound)
	}
	return render(cmd, historyTable(history))
}

func runPolicyImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	repo, err := openRepository(cfg.Repository)
	if err != nil {
		return err
	}
	defer repo.Close()

	fs, err := source.NewFileSource(source.FileConfig{Dir: args[0], Extensions: cfg.Live.Sources.File.Extensions}, logger)
	if err != nil {
		return cli.NewConfigError("dir", err.Error())
	}
	changes, err := fs.FetchChanges(cmd.Context())
	if err != nil {
		return err
	}

	progress := cli.NewProgressReporter(cmd.ErrOrStderr(), "policies")
	progress.Start(int64(len(changes)))
	translator := translate.New()
	var (
		stored []*policy.Policy
		errs   []error
	)
	for i, change := range changes {
		p, err := importOne(cmd.Context(), repo, translator, change)
		if err != nil {
			errs = append(errs, err)
		} else {
			stored = append(stored, p)
		}
		progress.Update(int64(i + 1))
	}
	progress.Finish()

	if err := render(cmd, policyTable(stored)); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// importOne translates change and stores it as the next version.
func importOne(ctx context.Context, repo policy.Repository, translator policy.Translator, change policy.PolicyChange) (*policy.Policy, error) {
	p, err := translator.Translate(ctx, change.RawText, change.Metadata)
	if err != nil {
		return nil, &policy.TranslationError{PolicyID: change.PolicyID, Source: change.Source, Cause: err}
	}
	p.ID = change.PolicyID
	p.RawSource = change.RawText

	if doc, perr := translate.Parse([]byte(change.RawText)); perr == nil && doc.Version != "" {
		p.Version = doc.Version
	} else {
		latest, err := repo.GetPolicy(ctx, p.ID, "")
		switch {
		case err == nil:
			p.Version = policy.IncrementPatch(latest.Version)
		case errors.Is(err, policy.ErrPolicyNotFound):
			p.Version = policy.DefaultVersion
		default:
			return nil, err
		}
	}
	if _, err := repo.SavePolicy(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func runPolicyClone(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := openRepository(cfg.Repository)
	if err != nil {
		return err
	}
	defer repo.Close()

	var overrides policy.TemplateOverrides
	if policyFlags.title != "" {
		overrides.Title = &policyFlags.title
	}
	p, err := repo.CloneTemplate(cmd.Context(), args[0], args[1], overrides)
	if err != nil {
		return err
	}
	return render(cmd, policyTable{p})
}

func runPolicyPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy: %w", err)
	}
	// Fail here rather than in every engine that pops the change.
	if _, err := translate.New().Translate(cmd.Context(), string(data), nil); err != nil {
		return err
	}

	id := policyFlags.policyID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	change := policy.PolicyChange{
		PolicyID:    id,
		RawText:     string(data),
		Source:      "publish:" + filepath.Base(path),
		VersionHint: policyFlags.versionHint,
	}

	client := newRedisClient(cfg.Live.Sources.Redis)
	defer client.Close()
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	if err := source.Publish(ctx, client, cfg.Live.Sources.Redis.Key, change); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Published %s (%s)\n", id, change.Fingerprint()[:12])
	return nil
}

func boolPtr(b bool) *bool { return &b }

type policyTable []*policy.Policy

func (t policyTable) Header() []string {
	return []string{"POLICY", "VERSION", "DOMAIN", "SCOPE", "TEMPLATE", "TITLE"}
}

func (t policyTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, p := range t {
		rows = append(rows, []string{
			p.ID,
			p.Version,
			string(p.Domain),
			string(p.Scope),
			strconv.FormatBool(p.IsTemplate),
			p.Title,
		})
	}
	return rows
}

type historyTable []policy.VersionEntry

func (t historyTable) Header() []string {
	return []string{"VERSION", "RECORD", "CREATED"}
}

func (t historyTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, e := range t {
		rows = append(rows, []string{e.Version, e.RecordID, e.CreatedAt.UTC().Format(time.RFC3339)})
	}
	return rows
}
