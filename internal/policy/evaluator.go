// Package policy evaluates governance policies against a project context.
//
// Policy order is significant: override approval checks stop at the first
// matching policy that blocks or gates the override. Later policies are not
// consulted even when they also match.
package policy

import (
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/config"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/errclass"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/logging"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/metrics"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

// Policy is a compiled, immutable policy.
type Policy struct {
	Name          string
	Description   string
	Enabled       bool
	Condition     Condition
	Actions       model.PolicyActions
	Notifications map[string]any
}

// Result is the outcome of applying all enabled policies to a context.
type Result struct {
	EnforcedTemplates    []string `json:"enforced_templates"`
	RecommendedTemplates []string `json:"recommended_templates"`
	PoliciesApplied      []string `json:"policies_applied"`
	Violations           []string `json:"violations"`
}

// OverrideDecision constrains a template override. Allowed=false means the
// override is blocked; RequiresApproval means it is gated.
type OverrideDecision struct {
	Allowed          bool           `json:"allowed"`
	RequiresApproval bool           `json:"requires_approval,omitempty"`
	ApproverRoles    []string       `json:"approver_roles,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	Policy           string         `json:"policy"`
	Notifications    map[string]any `json:"notifications,omitempty"`
}

// Evaluator holds the compiled policy set. Safe for concurrent use.
type Evaluator struct {
	policies []Policy
	log      *logging.Logger
	metrics  *metrics.Registry
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the evaluator's logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Evaluator) { e.log = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// New compiles policy configurations. A condition that cannot be compiled
// fails with E_CONFIG_INVALID.
func New(cfgs []config.PolicyConfig, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logging.OrGlobal(e.log)

	for _, pc := range cfgs {
		cond, err := ParseCondition(pc.Conditions)
		if err != nil {
			return nil, errclass.ErrConfigInvalid.WithMessagef("policy %q: conditions: %v", pc.Name, err)
		}
		e.policies = append(e.policies, Policy{
			Name:          pc.Name,
			Description:   pc.Description,
			Enabled:       pc.IsEnabled(),
			Condition:     cond,
			Actions:       pc.Actions,
			Notifications: pc.Notifications,
		})
	}
	return e, nil
}

// Policies returns the compiled policies in configuration order.
func (e *Evaluator) Policies() []Policy {
	out := make([]Policy, len(e.policies))
	copy(out, e.policies)
	return out
}

// Matches reports whether p is enabled and its condition matches ctx.
func (p *Policy) Matches(ctx model.ProjectContext) bool {
	return p.Enabled && p.Condition.Match(ctx)
}

// Apply evaluates every enabled policy and accumulates the actions of those
// that match. Template lists are de-duplicated, keeping first-seen order.
func (e *Evaluator) Apply(ctx model.ProjectContext) Result {
	res := Result{
		EnforcedTemplates:    []string{},
		RecommendedTemplates: []string{},
		PoliciesApplied:      []string{},
		Violations:           []string{},
	}
	for i := range e.policies {
		p := &e.policies[i]
		if !p.Matches(ctx) {
			continue
		}
		e.log.Debug("policy matched", map[string]any{"policy": p.Name})
		e.metrics.RecordPolicyMatch(p.Name)
		res.PoliciesApplied = append(res.PoliciesApplied, p.Name)
		res.EnforcedTemplates = appendUnique(res.EnforcedTemplates, p.Actions.EnforceTemplates...)
		res.RecommendedTemplates = appendUnique(res.RecommendedTemplates, p.Actions.RecommendTemplates...)
	}
	return res
}

// CheckOverrideApproval returns the constraint placed on overriding
// templateName by the first matching policy that blocks or gates overrides.
// It returns nil when no policy constrains the override.
func (e *Evaluator) CheckOverrideApproval(templateName, fromSource, toSource string, ctx model.ProjectContext) *OverrideDecision {
	for i := range e.policies {
		p := &e.policies[i]
		if !p.Matches(ctx) {
			continue
		}
		switch {
		case p.Actions.BlockOverride:
			e.log.Info("override blocked by policy", map[string]any{
				"policy": p.Name, "template": templateName, "from": fromSource, "to": toSource,
			})
			return &OverrideDecision{
				Allowed:       false,
				Reason:        "Policy '" + p.Name + "' blocks override",
				Policy:        p.Name,
				Notifications: p.Notifications,
			}
		case p.Actions.RequireApproval:
			e.log.Info("override requires approval", map[string]any{
				"policy": p.Name, "template": templateName, "from": fromSource, "to": toSource,
			})
			return &OverrideDecision{
				Allowed:          true,
				RequiresApproval: true,
				ApproverRoles:    append([]string(nil), p.Actions.ApproverRoles...),
				Reason:           "Policy '" + p.Name + "' requires approval for overrides",
				Policy:           p.Name,
				Notifications:    p.Notifications,
			}
		}
	}
	return nil
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		dup := false
		for _, have := range dst {
			if have == item {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, item)
		}
	}
	return dst
}
