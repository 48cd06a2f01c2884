// Package translate turns structured policy documents into policy.Policy
// values.
//
// A document is YAML or JSON:
//
//	title: Daily spend limit
//	domain: finance
//	scope: team
//	conditions:
//	  - parameter: spend.daily
//	    operator: ">"
//	    value: 10000
//	triggers:
//	  - type: on_activation
//	    action: block_payment
//	exceptions:
//	  - condition: "role == cfo"
//	    override: ignore
//	instructions:
//	  - Route payments above the limit to finance review.
//
// Operators accept every alias understood by policy.ParseOperator. Unknown
// fields are rejected so that typos do not silently disable a condition.
package translate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mercator-hq/covenant/pkg/policy"
)

// ErrInvalidDocument is wrapped by every decoding failure.
var ErrInvalidDocument = errors.New("invalid policy document")

type document struct {
	ID             string         `yaml:"id"`
	PolicyID       string         `yaml:"policy_id"`
	Version        string         `yaml:"version"`
	Title          string         `yaml:"title"`
	Domain         string         `yaml:"domain"`
	Scope          string         `yaml:"scope"`
	Industry       string         `yaml:"industry"`
	ComplianceType string         `yaml:"compliance_type"`
	FunctionalArea string         `yaml:"functional_area"`
	IsTemplate     bool           `yaml:"is_template"`
	TemplateID     string         `yaml:"template_id"`
	EffectiveDate  string         `yaml:"effective_date"`
	Conditions     []conditionDoc `yaml:"conditions"`
	Triggers       []triggerDoc   `yaml:"triggers"`
	Exceptions     []exceptionDoc `yaml:"exceptions"`
	Instructions   []string       `yaml:"instructions"`
	Rationale      string         `yaml:"rationale"`
}

type conditionDoc struct {
	Parameter   string `yaml:"parameter"`
	Operator    string `yaml:"operator"`
	Value       any    `yaml:"value"`
	Description string `yaml:"description"`
}

type triggerDoc struct {
	Type       string         `yaml:"type"`
	Action     string         `yaml:"action"`
	ActionName string         `yaml:"action_name"`
	Parameters map[string]any `yaml:"parameters"`
}

type exceptionDoc struct {
	Condition      string `yaml:"condition"`
	Override       string `yaml:"override"`
	OverrideAction string `yaml:"override_action"`
	Priority       int    `yaml:"priority"`
}

// DocumentTranslator implements policy.Translator for structured documents.
// Metadata keys "title", "domain" and "scope" fill fields the document
// leaves empty.
type DocumentTranslator struct {
	// DefaultDomain and DefaultScope apply when neither the document nor the
	// metadata sets them.
	DefaultDomain policy.Domain
	DefaultScope  policy.Scope
}

// New returns a translator defaulting to the governance domain and global scope.
func New() *DocumentTranslator {
	return &DocumentTranslator{
		DefaultDomain: policy.DomainGovernance,
		DefaultScope:  policy.ScopeGlobal,
	}
}

// Translate decodes rawText. The result is validated.
func (t *DocumentTranslator) Translate(ctx context.Context, rawText string, metadata map[string]any) (*policy.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := Parse([]byte(rawText))
	if err != nil {
		return nil, err
	}

	if p.Title == "" {
		p.Title = metaString(metadata, "title")
	}
	if p.Domain == "" {
		p.Domain = policy.Domain(metaString(metadata, "domain"))
	}
	if p.Domain == "" {
		p.Domain = t.DefaultDomain
	}
	if p.Scope == "" {
		p.Scope = policy.Scope(metaString(metadata, "scope"))
	}
	if p.Scope == "" {
		p.Scope = t.DefaultScope
	}
	if p.ID == "" {
		p.ID = metaString(metadata, "policy_id")
	}
	if p.ID == "" {
		// Validation needs an ID. The live engine replaces it with the change's policy_id.
		p.ID = "document"
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return p, nil
}

// Parse decodes a single YAML or JSON policy document without applying
// defaults or validation.
func Parse(data []byte) (*policy.Policy, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc.policy()
}

func (d *document) policy() (*policy.Policy, error) {
	p := &policy.Policy{
		ID:                  d.ID,
		Version:             d.Version,
		Title:               strings.TrimSpace(d.Title),
		Domain:              policy.Domain(strings.ToLower(strings.TrimSpace(d.Domain))),
		Scope:               policy.Scope(strings.ToLower(strings.TrimSpace(d.Scope))),
		Industry:            d.Industry,
		ComplianceFramework: d.ComplianceType,
		FunctionalArea:      d.FunctionalArea,
		IsTemplate:          d.IsTemplate,
		TemplateID:          d.TemplateID,
		Instructions:        d.Instructions,
		Rationale:           d.Rationale,
	}
	if p.ID == "" {
		p.ID = d.PolicyID
	}

	if d.EffectiveDate != "" {
		ts, err := parseDate(d.EffectiveDate)
		if err != nil {
			return nil, fmt.Errorf("%w: effective_date: %v", ErrInvalidDocument, err)
		}
		p.EffectiveDate = ts
	}

	for i, c := range d.Conditions {
		op, err := policy.ParseOperator(c.Operator)
		if err != nil {
			return nil, fmt.Errorf("%w: conditions[%d]: %v", ErrInvalidDocument, i, err)
		}
		p.Conditions = append(p.Conditions, policy.Condition{
			Parameter:   strings.TrimSpace(c.Parameter),
			Operator:    op,
			Value:       c.Value,
			Description: c.Description,
		})
	}

	for _, tr := range d.Triggers {
		action := tr.Action
		if action == "" {
			action = tr.ActionName
		}
		p.Triggers = append(p.Triggers, policy.Trigger{
			Type:       policy.TriggerType(strings.ToLower(strings.TrimSpace(tr.Type))),
			ActionName: action,
			Parameters: tr.Parameters,
		})
	}

	for _, ex := range d.Exceptions {
		override := ex.Override
		if override == "" {
			override = ex.OverrideAction
		}
		p.Exceptions = append(p.Exceptions, policy.Exception{
			Condition: ex.Condition,
			Override:  policy.OverrideAction(strings.ToLower(strings.TrimSpace(override))),
			Priority:  ex.Priority,
		})
	}
	return p, nil
}

func parseDate(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", s)
	}
	return ts.UTC(), nil
}

func metaString(metadata map[string]any, key string) string {
	if v, ok := metadata[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
