package model

// PolicyActions is the action set of a policy.
type PolicyActions struct {
	EnforceTemplates   []string `json:"enforce_templates,omitempty" yaml:"enforce_templates"`
	RecommendTemplates []string `json:"recommend_templates,omitempty" yaml:"recommend_templates"`
	BlockOverride      bool     `json:"block_override,omitempty" yaml:"block_override"`
	RequireApproval    bool     `json:"require_approval,omitempty" yaml:"require_approval"`
	ApproverRoles      []string `json:"approver_roles,omitempty" yaml:"approver_roles"`
}

// OverrideOutcome is the structured reason an override did not go through.
type OverrideOutcome string

const (
	OutcomeTemplateLocked   OverrideOutcome = "template_locked"
	OutcomePolicyBlocked    OverrideOutcome = "policy_blocked"
	OutcomeApprovalRequired OverrideOutcome = "approval_required"
)
