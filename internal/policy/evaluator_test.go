package policy_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuezhouyang/spec-kit-catpaw/internal/policy"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/config"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/errclass"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/metrics"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

func boolPtr(b bool) *bool { return &b }

func financePolicies() []config.PolicyConfig {
	return []config.PolicyConfig{
		{
			Name: "finance",
			Conditions: map[string]any{
				"project_tags": []any{"finance"},
			},
			Actions: model.PolicyActions{
				EnforceTemplates:   []string{"constitution", "security"},
				RecommendTemplates: []string{"plan"},
			},
		},
		{
			Name: "everyone",
			Actions: model.PolicyActions{
				EnforceTemplates:   []string{"constitution"},
				RecommendTemplates: []string{"tasks"},
			},
		},
		{
			Name:    "disabled",
			Enabled: boolPtr(false),
			Actions: model.PolicyActions{EnforceTemplates: []string{"legacy"}},
		},
	}
}

func TestApply_UnionOfMatchingPolicies(t *testing.T) {
	reg := metrics.NewRegistry()
	ev, err := policy.New(financePolicies(), policy.WithMetrics(reg))
	require.NoError(t, err)

	res := ev.Apply(model.ProjectContext{"project_tags": []string{"finance"}})
	assert.Equal(t, []string{"finance", "everyone"}, res.PoliciesApplied)
	assert.Equal(t, []string{"constitution", "security"}, res.EnforcedTemplates)
	assert.Equal(t, []string{"plan", "tasks"}, res.RecommendedTemplates)
	assert.Empty(t, res.Violations)
	assert.NotContains(t, res.EnforcedTemplates, "legacy")

	n, err := testutil.GatherAndCount(reg.Gatherer(), "speckit_policy_matches_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestApply_NonMatchingContext(t *testing.T) {
	ev, err := policy.New(financePolicies())
	require.NoError(t, err)

	res := ev.Apply(model.ProjectContext{"project_tags": []string{"retail"}})
	assert.Equal(t, []string{"everyone"}, res.PoliciesApplied)
	assert.Equal(t, []string{"constitution"}, res.EnforcedTemplates)
}

func TestNew_InvalidCondition(t *testing.T) {
	_, err := policy.New([]config.PolicyConfig{{
		Name:       "bad",
		Conditions: map[string]any{"team": map[string]any{"regex": ".*"}},
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errclass.ErrConfigInvalid)
}

func TestCheckOverrideApproval_NoConstraint(t *testing.T) {
	ev, err := policy.New(financePolicies())
	require.NoError(t, err)

	assert.Nil(t, ev.CheckOverrideApproval("plan", "corporate", "team", model.ProjectContext{}))
}

func TestCheckOverrideApproval_Block(t *testing.T) {
	ev, err := policy.New([]config.PolicyConfig{{
		Name:          "lockdown",
		Actions:       model.PolicyActions{BlockOverride: true},
		Notifications: map[string]any{"slack": "#governance"},
	}})
	require.NoError(t, err)

	d := ev.CheckOverrideApproval("plan", "corporate", "team", nil)
	require.NotNil(t, d)
	assert.False(t, d.Allowed)
	assert.False(t, d.RequiresApproval)
	assert.Equal(t, "lockdown", d.Policy)
	assert.Equal(t, "Policy 'lockdown' blocks override", d.Reason)
	assert.Equal(t, "#governance", d.Notifications["slack"])
}

func TestCheckOverrideApproval_RequireApproval(t *testing.T) {
	ev, err := policy.New([]config.PolicyConfig{{
		Name:    "gated",
		Actions: model.PolicyActions{RequireApproval: true, ApproverRoles: []string{"architect"}},
	}})
	require.NoError(t, err)

	d := ev.CheckOverrideApproval("plan", "corporate", "team", nil)
	require.NotNil(t, d)
	assert.True(t, d.Allowed)
	assert.True(t, d.RequiresApproval)
	assert.Equal(t, []string{"architect"}, d.ApproverRoles)
}

func TestCheckOverrideApproval_FirstMatchWins(t *testing.T) {
	ev, err := policy.New([]config.PolicyConfig{
		{Name: "recommend-only", Actions: model.PolicyActions{RecommendTemplates: []string{"plan"}}},
		{Name: "gated", Actions: model.PolicyActions{RequireApproval: true}},
		{Name: "blocked", Actions: model.PolicyActions{BlockOverride: true}},
	})
	require.NoError(t, err)

	d := ev.CheckOverrideApproval("plan", "a", "b", nil)
	require.NotNil(t, d)
	assert.Equal(t, "gated", d.Policy, "policies without override actions are skipped; first gating policy wins")
}

func TestCheckOverrideApproval_SkipsDisabledAndUnmatched(t *testing.T) {
	ev, err := policy.New([]config.PolicyConfig{
		{Name: "off", Enabled: boolPtr(false), Actions: model.PolicyActions{BlockOverride: true}},
		{Name: "finance-only", Conditions: map[string]any{"team": "finance"}, Actions: model.PolicyActions{BlockOverride: true}},
	})
	require.NoError(t, err)

	assert.Nil(t, ev.CheckOverrideApproval("plan", "a", "b", model.ProjectContext{"team": "web"}))
}
