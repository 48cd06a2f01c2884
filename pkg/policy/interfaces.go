package policy

import (
	"context"
	"time"
)

// Translator turns raw policy text into a structured Policy.
//
// Implementations may be slow or non-deterministic. Callers override the
// returned policy's ID, RawSource and Version.
type Translator interface {
	Translate(ctx context.Context, rawText string, metadata map[string]any) (*Policy, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, rawText string, metadata map[string]any) (*Policy, error)

// Translate calls f.
func (f TranslatorFunc) Translate(ctx context.Context, rawText string, metadata map[string]any) (*Policy, error) {
	return f(ctx, rawText, metadata)
}

// ChangeSource yields pending policy changes. FetchChanges returns each
// change at most once; an empty slice means nothing is pending.
type ChangeSource interface {
	FetchChanges(ctx context.Context) ([]PolicyChange, error)
}

// Consumer receives hot-swapped policies. ApplyPolicyUpdate upserts by
// policy ID and must be safe for concurrent use.
type Consumer interface {
	ApplyPolicyUpdate(p *Policy)
}

// ActivePolicyLister is implemented by consumers that can report the exact
// set of policies they currently enforce.
type ActivePolicyLister interface {
	ListActivePolicies() []*Policy
}

// Filter narrows ListPolicies. Empty fields match everything.
type Filter struct {
	Industry            string
	ComplianceFramework string
	FunctionalArea      string
	Domain              Domain
	IsTemplate          *bool
}

// Matches reports whether p satisfies every set field of f.
func (f Filter) Matches(p *Policy) bool {
	if f.Industry != "" && p.Industry != f.Industry {
		return false
	}
	if f.ComplianceFramework != "" && p.ComplianceFramework != f.ComplianceFramework {
		return false
	}
	if f.FunctionalArea != "" && p.FunctionalArea != f.FunctionalArea {
		return false
	}
	if f.Domain != "" && p.Domain != f.Domain {
		return false
	}
	if f.IsTemplate != nil && p.IsTemplate != *f.IsTemplate {
		return false
	}
	return true
}

// TemplateOverrides are the fields CloneTemplate may replace on the copy.
// Nil fields keep the template's value.
type TemplateOverrides struct {
	Title               *string
	Domain              *Domain
	Scope               *Scope
	Industry            *string
	ComplianceFramework *string
	FunctionalArea      *string
	Conditions          []Condition
	Instructions        []string
	Rationale           *string
}

// Apply writes the set overrides onto p.
func (o TemplateOverrides) Apply(p *Policy) {
	if o.Title != nil {
		p.Title = *o.Title
	}
	if o.Domain != nil {
		p.Domain = *o.Domain
	}
	if o.Scope != nil {
		p.Scope = *o.Scope
	}
	if o.Industry != nil {
		p.Industry = *o.Industry
	}
	if o.ComplianceFramework != nil {
		p.ComplianceFramework = *o.ComplianceFramework
	}
	if o.FunctionalArea != nil {
		p.FunctionalArea = *o.FunctionalArea
	}
	if o.Conditions != nil {
		p.Conditions = append([]Condition(nil), o.Conditions...)
	}
	if o.Instructions != nil {
		p.Instructions = append([]string(nil), o.Instructions...)
	}
	if o.Rationale != nil {
		p.Rationale = *o.Rationale
	}
}

// VersionEntry is one row of a policy's version history.
type VersionEntry struct {
	RecordID  string    `json:"record_id"`
	PolicyID  string    `json:"policy_id"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Lister lists stored policies. The conflict detector needs nothing more.
type Lister interface {
	ListPolicies(ctx context.Context, filter Filter) ([]*Policy, error)
}

// Repository stores every version of every policy.
type Repository interface {
	Lister

	// SavePolicy stores p as a new version and returns its record ID.
	SavePolicy(ctx context.Context, p *Policy) (string, error)

	// GetPolicy returns the given version, or the most recently saved one when
	// version is empty. Returns ErrPolicyNotFound when nothing matches.
	GetPolicy(ctx context.Context, policyID, version string) (*Policy, error)

	// CloneTemplate copies a template into a new non-template policy at version 1.0.0.
	CloneTemplate(ctx context.Context, templateID, newPolicyID string, overrides TemplateOverrides) (*Policy, error)

	// VersionHistory returns every saved version of policyID, oldest first.
	VersionHistory(ctx context.Context, policyID string) ([]VersionEntry, error)

	Close() error
}
