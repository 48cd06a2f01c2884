package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mercator-hq/covenant/pkg/cli"
	"mercator-hq/covenant/pkg/guardrail"
	"mercator-hq/covenant/pkg/policy"
	"mercator-hq/covenant/pkg/policy/engine"
	"mercator-hq/covenant/pkg/policy/translate"
	"mercator-hq/covenant/pkg/telemetry/logging"
)

var evaluateFlags struct {
	policies  []string
	state     string
	context   string
	guardrail bool
	agentID   string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate policies against an agent state",
	Long: `Evaluate one or more policy documents against an agent state.

The state (and optional evaluation context) is a JSON or YAML object; "-"
reads it from stdin. Without --guardrail every policy's enforcement result
is printed. With --guardrail the results are turned into a single decision
and the command exits with status 3 when the action is blocked.

Examples:
  # Per-policy enforcement results
  covenant evaluate --policy spend.yaml --state state.json

  # Guardrail decision for agent planner-7
  covenant evaluate -p spend.yaml -p pii.yaml --state state.json --guardrail --agent planner-7`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringSliceVarP(&evaluateFlags.policies, "policy", "p", nil, "policy document (repeatable)")
	evaluateCmd.Flags().StringVarP(&evaluateFlags.state, "state", "s", "", "agent state file, or - for stdin")
	evaluateCmd.Flags().StringVar(&evaluateFlags.context, "context", "", "evaluation context file")
	evaluateCmd.Flags().BoolVar(&evaluateFlags.guardrail, "guardrail", false, "print a guardrail decision instead of per-policy results")
	evaluateCmd.Flags().StringVar(&evaluateFlags.agentID, "agent", "", "agent ID passed to the guardrail")
	_ = evaluateCmd.MarkFlagRequired("policy")
	_ = evaluateCmd.MarkFlagRequired("state")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	translator := translate.New()
	policies := make([]*policy.Policy, 0, len(evaluateFlags.policies))
	for _, path := range evaluateFlags.policies {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy: %w", err)
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		p, err := translator.Translate(cmd.Context(), string(data), map[string]any{"policy_id": stem})
		if err != nil {
			return &policy.TranslationError{PolicyID: stem, Source: "file:" + path, Cause: err}
		}
		policies = append(policies, p)
	}

	state, err := readObject(cmd.InOrStdin(), evaluateFlags.state)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	var evalCtx map[string]any
	if evaluateFlags.context != "" {
		if evalCtx, err = readObject(cmd.InOrStdin(), evaluateFlags.context); err != nil {
			return fmt.Errorf("failed to read context: %w", err)
		}
	}

	if !evaluateFlags.guardrail {
		results := engine.EvaluateAll(engine.NewEvaluator(logger), policies, state, evalCtx)
		return render(cmd, enforcementTable(results))
	}

	tuning := maps.Clone(cfg.Guardrail.TuningContext)
	if tuning == nil {
		tuning = make(map[string]any, len(evalCtx))
	}
	maps.Copy(tuning, evalCtx)
	g, err := guardrail.New(&guardrail.Config{
		NearMissThreshold: cfg.Guardrail.NearMissThreshold,
		TuningContext:     tuning,
	}, logger)
	if err != nil {
		return err
	}
	for _, p := range policies {
		g.ApplyPolicyUpdate(p)
	}

	resp := g.MonitorAction(evaluateFlags.agentID, state)
	logger.DebugContext(logging.WithAgentID(cmd.Context(), evaluateFlags.agentID), "guardrail decision",
		"action", resp.Action,
		"applied_policies", resp.AppliedPolicies,
	)
	if err := render(cmd, (*decision)(resp)); err != nil {
		return err
	}
	if resp.Action == guardrail.ActionBlock {
		return fmt.Errorf("action blocked: %w", cli.ErrViolation)
	}
	return nil
}

// readObject decodes a JSON or YAML object from path, or from stdin for "-".
func readObject(stdin io.Reader, path string) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	obj := map[string]any{}
	if err := yaml.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%s is not a JSON or YAML object: %w", path, err)
	}
	return obj, nil
}

type enforcementTable []*engine.EnforcementResult

func (t enforcementTable) Header() []string {
	return []string{"POLICY", "STATUS", "ALLOWED", "CONDITIONS", "TRIGGERS"}
}

func (t enforcementTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		triggers := make([]string, len(r.TriggeredActions))
		for i, tr := range r.TriggeredActions {
			triggers[i] = tr.ActionName
		}
		rows = append(rows, []string{
			r.PolicyID,
			string(r.Status),
			strconv.FormatBool(r.IsAllowed),
			fmt.Sprintf("%d/%d", r.SatisfiedConditions, r.TotalConditions),
			strings.Join(triggers, ", "),
		})
	}
	return rows
}

// decision renders a guardrail response as a one-row table.
type decision guardrail.Response

func (d *decision) Header() []string {
	return []string{"ACTION", "REASON", "POLICIES", "TARGET"}
}

func (d *decision) Rows() [][]string {
	return [][]string{{
		string(d.Action),
		d.Reason,
		strings.Join(d.AppliedPolicies, ","),
		d.TargetRoute,
	}}
}
