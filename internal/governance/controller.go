// Package governance orchestrates policy evaluation, template resolution,
// locks and the audit trail for project initialization and overrides.
package governance

import (
	"context"
	"fmt"

	"github.com/xuezhouyang/spec-kit-catpaw/internal/audit"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/integrity"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/lock"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/policy"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/errclass"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/logging"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/metrics"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/webhook"
)

// Resolver resolves a template name to content.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*model.Template, error)
}

// Notifier delivers governance events to external systems.
type Notifier interface {
	Send(event webhook.Event, async bool) error
}

// Controller runs the governance workflows. The lock store and audit log are
// the only state it touches, always through their own APIs.
type Controller struct {
	policies *policy.Evaluator
	resolver Resolver
	locks    *lock.Store
	audit    *audit.Log
	notifier Notifier
	metrics  *metrics.Registry
	log      *logging.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier sets the webhook notifier. Notification failures are logged only.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the controller's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// New creates a controller.
func New(policies *policy.Evaluator, resolver Resolver, locks *lock.Store, auditLog *audit.Log, opts ...Option) *Controller {
	c := &Controller{
		policies: policies,
		resolver: resolver,
		locks:    locks,
		audit:    auditLog,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.OrGlobal(c.log)
	return c
}

// InitRequest describes a project being initialized.
type InitRequest struct {
	Name      string
	Tags      []string
	TechStack []string
	Team      string
	Actor     string
}

// InitResult is the outcome of InitializeProject.
type InitResult struct {
	Context   model.ProjectContext `json:"context"`
	Policy    policy.Result        `json:"policy"`
	Templates []*model.Template    `json:"templates"`
	Warnings  []string             `json:"warnings"`
	Drift     []integrity.Report   `json:"drift,omitempty"`
}

// BuildContext returns the policy context for a project.
func BuildContext(req InitRequest) model.ProjectContext {
	ctx := model.ProjectContext{
		model.ContextProjectName: req.Name,
		model.ContextProjectTags: nonNil(req.Tags),
		model.ContextTechStack:   nonNil(req.TechStack),
	}
	if req.Team != "" {
		ctx[model.ContextTeam] = req.Team
	}
	return ctx
}

// InitializeProject applies policies to the project context and resolves
// every enforced and recommended template. Locked templates and resolution
// failures become warnings; the run continues with the remaining templates.
// Audit failures abort the run, returning what was resolved so far.
func (c *Controller) InitializeProject(ctx context.Context, req InitRequest) (*InitResult, error) {
	pctx := BuildContext(req)
	decision := c.policies.Apply(pctx)
	res := &InitResult{
		Context:   pctx,
		Policy:    decision,
		Templates: []*model.Template{},
		Warnings:  []string{},
	}

	names := dedupe(decision.EnforcedTemplates, decision.RecommendedTemplates)
	c.log.Info("initializing project", map[string]any{
		"project": req.Name, "policies": decision.PoliciesApplied, "templates": names,
	})

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("initialize %s: %w", req.Name, err)
		}

		lk, err := c.locks.Info(name)
		if err != nil {
			return res, fmt.Errorf("check lock %s: %w", name, err)
		}
		if lk != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("template %s is locked: %s (by %s)", name, lk.Reason, lk.LockedBy))
		}

		tmpl, err := c.resolver.Resolve(ctx, name)
		if err != nil {
			c.log.Warn("template resolution failed", map[string]any{"template": name, "error": err.Error()})
			res.Warnings = append(res.Warnings, fmt.Sprintf("failed to resolve %s: %v", name, err))
			continue
		}

		if lk != nil {
			report := integrity.Check(tmpl, lk)
			if report.Drifted {
				res.Drift = append(res.Drift, report)
				res.Warnings = append(res.Warnings, integrity.VerifyAgainstLock(tmpl, lk).Error())
			}
		}

		if _, err := c.audit.RecordDownload(req.Actor, req.Team, name, tmpl.Source, tmpl.Version, tmpl.SHA256()); err != nil {
			return res, fmt.Errorf("record download of %s: %w", name, err)
		}
		c.notify(webhook.Event{
			Event:    webhook.EventTemplateDownload,
			Template: name,
			Actor:    req.Actor,
			Team:     req.Team,
			Metadata: map[string]any{"source": tmpl.Source, "sha256": string(tmpl.SHA256())},
		})
		res.Templates = append(res.Templates, tmpl)
	}
	return res, nil
}

// OverrideRequest asks to switch the source of a template.
type OverrideRequest struct {
	Template  string
	NewSource string
	Reason    string
	Actor     string
	Context   model.ProjectContext
}

// OverrideResult is the structured outcome of OverrideTemplate. Outcome is
// empty on success.
type OverrideResult struct {
	Success       bool                  `json:"success"`
	Outcome       model.OverrideOutcome `json:"outcome,omitempty"`
	Template      string                `json:"template"`
	FromSource    string                `json:"from_source"`
	ToSource      string                `json:"to_source"`
	Reason        string                `json:"reason,omitempty"`
	Policy        string                `json:"policy,omitempty"`
	ApproverRoles []string              `json:"approver_roles,omitempty"`
	Lock          *model.Lock           `json:"lock,omitempty"`
	Event         *model.AuditEvent     `json:"audit_event,omitempty"`
}

// Err maps a refused override to its error class, or nil on success.
func (r *OverrideResult) Err() error {
	switch r.Outcome {
	case model.OutcomeTemplateLocked:
		return errclass.ErrTemplateLocked.WithMessagef("%s is locked by %s: %s", r.Template, r.Lock.LockedBy, r.Lock.Reason)
	case model.OutcomePolicyBlocked:
		return errclass.ErrPolicyBlocked.WithMessagef("%s: %s", r.Template, r.Reason)
	case model.OutcomeApprovalRequired:
		return errclass.ErrApprovalRequired.WithMessagef("%s: policy %s requires approval from %v", r.Template, r.Policy, r.ApproverRoles)
	}
	return nil
}

// OverrideTemplate records the intent to take req.Template from req.NewSource.
// An active lock refuses the override before policies are consulted. A
// blocking policy writes a policy_violation event; an approval gate writes
// nothing. The source configuration itself is not modified.
func (c *Controller) OverrideTemplate(ctx context.Context, req OverrideRequest) (*OverrideResult, error) {
	current, err := c.resolver.Resolve(ctx, req.Template)
	if err != nil {
		return nil, fmt.Errorf("resolve current %s: %w", req.Template, err)
	}
	res := &OverrideResult{
		Template:   req.Template,
		FromSource: current.Source,
		ToSource:   req.NewSource,
	}
	team := teamOf(req.Context)

	lk, err := c.locks.Info(req.Template)
	if err != nil {
		return nil, fmt.Errorf("check lock %s: %w", req.Template, err)
	}
	if lk != nil {
		res.Outcome = model.OutcomeTemplateLocked
		res.Lock = lk
		res.Reason = lk.Reason
		c.metrics.RecordOverride(string(res.Outcome))
		return res, nil
	}

	if d := c.policies.CheckOverrideApproval(req.Template, current.Source, req.NewSource, req.Context); d != nil {
		res.Policy = d.Policy
		res.Reason = d.Reason
		if !d.Allowed {
			ev, err := c.audit.RecordViolation(req.Actor, team, req.Template, "template_override", d.Reason, d.Policy)
			if err != nil {
				return nil, fmt.Errorf("record policy violation: %w", err)
			}
			res.Outcome = model.OutcomePolicyBlocked
			res.Event = &ev
			c.metrics.RecordOverride(string(res.Outcome))
			c.notify(webhook.Event{
				Event:         webhook.EventPolicyViolation,
				Template:      req.Template,
				Actor:         req.Actor,
				Team:          team,
				Policy:        d.Policy,
				Reason:        d.Reason,
				FromSource:    current.Source,
				ToSource:      req.NewSource,
				Notifications: d.Notifications,
			})
			return res, nil
		}
		if d.RequiresApproval {
			res.Outcome = model.OutcomeApprovalRequired
			res.ApproverRoles = d.ApproverRoles
			c.metrics.RecordOverride(string(res.Outcome))
			c.notify(webhook.Event{
				Event:         webhook.EventApprovalRequired,
				Template:      req.Template,
				Actor:         req.Actor,
				Team:          team,
				Policy:        d.Policy,
				Reason:        d.Reason,
				FromSource:    current.Source,
				ToSource:      req.NewSource,
				ApproverRoles: d.ApproverRoles,
				Notifications: d.Notifications,
			})
			return res, nil
		}
	}

	ev, err := c.audit.RecordOverride(req.Actor, team, req.Template, current.Source, req.NewSource, req.Reason, nil)
	if err != nil {
		return nil, fmt.Errorf("record override: %w", err)
	}
	res.Success = true
	res.Reason = req.Reason
	res.Event = &ev
	c.metrics.RecordOverride("allowed")
	c.log.Info("template overridden", map[string]any{
		"template": req.Template, "from": current.Source, "to": req.NewSource, "actor": req.Actor,
	})
	c.notify(webhook.Event{
		Event:      webhook.EventTemplateOverride,
		Template:   req.Template,
		Actor:      req.Actor,
		Team:       team,
		Reason:     req.Reason,
		FromSource: current.Source,
		ToSource:   req.NewSource,
	})
	return res, nil
}

func (c *Controller) notify(ev webhook.Event) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Send(ev, true); err != nil {
		c.log.Warn("webhook notification failed", map[string]any{"event": string(ev.Event), "error": err.Error()})
	}
}

func teamOf(ctx model.ProjectContext) string {
	if s, ok := ctx[model.ContextTeam].(string); ok {
		return s
	}
	return ""
}

func dedupe(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range lists {
		for _, name := range l {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
