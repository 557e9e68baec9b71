package governance_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuezhouyang/spec-kit-catpaw/internal/audit"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/governance"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/lock"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/policy"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/config"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/errclass"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/webhook"
)

type stubResolver struct {
	content map[string]string
	source  string
}

func (s *stubResolver) Resolve(_ context.Context, name string) (*model.Template, error) {
	c, ok := s.content[name]
	if !ok {
		return nil, errclass.ErrResolutionFailed.WithMessagef("no content for %s", name)
	}
	src := s.source
	if src == "" {
		src = "corporate"
	}
	return model.NewTemplate(name, src, []byte(c)), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []webhook.Event
}

func (n *recordingNotifier) Send(ev webhook.Event, _ bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) types() []webhook.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []webhook.EventType
	for _, e := range n.events {
		out = append(out, e.Event)
	}
	return out
}

type fixture struct {
	ctrl     *governance.Controller
	locks    *lock.Store
	audit    *audit.Log
	notifier *recordingNotifier
}

func newFixture(t *testing.T, policies []config.PolicyConfig, res governance.Resolver) *fixture {
	t.Helper()
	dir := t.TempDir()
	ev, err := policy.New(policies)
	require.NoError(t, err)
	locks, err := lock.NewStore(filepath.Join(dir, "template-lock.yaml"))
	require.NoError(t, err)
	log := audit.NewLog(filepath.Join(dir, "audit.log"))
	n := &recordingNotifier{}
	return &fixture{
		ctrl:     governance.New(ev, res, locks, log, governance.WithNotifier(n)),
		locks:    locks,
		audit:    log,
		notifier: n,
	}
}

func countEvents(t *testing.T, l *audit.Log, et model.AuditEventType) int {
	t.Helper()
	events, err := l.Query(audit.Filter{EventType: et})
	require.NoError(t, err)
	return len(events)
}

func allEvents(t *testing.T, l *audit.Log) []model.AuditEvent {
	t.Helper()
	events, err := l.Query(audit.Filter{})
	require.NoError(t, err)
	return events
}

var financePolicy = config.PolicyConfig{
	Name:       "finance",
	Conditions: map[string]any{"project_tags": []any{"finance"}},
	Actions: model.PolicyActions{
		EnforceTemplates:   []string{"constitution", "security"},
		RecommendTemplates: []string{"plan", "constitution"},
	},
}

func TestInitializeProject_ResolvesAndAudits(t *testing.T) {
	res := &stubResolver{content: map[string]string{"constitution": "C", "security": "S", "plan": "P"}}
	f := newFixture(t, []config.PolicyConfig{financePolicy}, res)

	out, err := f.ctrl.InitializeProject(context.Background(), governance.InitRequest{
		Name: "billing", Tags: []string{"finance"}, Team: "payments", Actor: "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"finance"}, out.Policy.PoliciesApplied)
	require.Len(t, out.Templates, 3)
	assert.Equal(t, "constitution", out.Templates[0].Name)
	assert.Empty(t, out.Warnings)
	assert.Equal(t, "billing", out.Context[model.ContextProjectName])

	downloads, err := f.audit.Query(audit.Filter{EventType: model.EventTemplateDownload})
	require.NoError(t, err)
	require.Len(t, downloads, 3)
	assert.Equal(t, "alice", downloads[0].User)
	assert.Equal(t, "payments", downloads[0].Team)
	assert.Equal(t, "corporate", downloads[0].Action["source"])
	assert.Len(t, f.notifier.types(), 3)
}

func TestInitializeProject_PartialFailureContinues(t *testing.T) {
	res := &stubResolver{content: map[string]string{"constitution": "C", "plan": "P"}}
	f := newFixture(t, []config.PolicyConfig{financePolicy}, res)

	out, err := f.ctrl.InitializeProject(context.Background(), governance.InitRequest{
		Name: "billing", Tags: []string{"finance"}, Actor: "alice",
	})
	require.NoError(t, err)
	require.Len(t, out.Templates, 2)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "security")
	assert.Equal(t, 2, countEvents(t, f.audit, model.EventTemplateDownload))
}

func TestInitializeProject_LockedWarnsAndDetectsDrift(t *testing.T) {
	res := &stubResolver{content: map[string]string{"constitution": "new", "security": "S", "plan": "P"}}
	f := newFixture(t, []config.PolicyConfig{financePolicy}, res)
	_, err := f.locks.Lock("constitution", "1.0", model.HashContent([]byte("old")), "bob", "compliance freeze", nil)
	require.NoError(t, err)

	out, err := f.ctrl.InitializeProject(context.Background(), governance.InitRequest{
		Name: "billing", Tags: []string{"finance"}, Actor: "alice",
	})
	require.NoError(t, err)

	require.Len(t, out.Templates, 3, "locked templates are still resolved")
	require.Len(t, out.Warnings, 2)
	assert.Contains(t, out.Warnings[0], "compliance freeze")
	assert.Contains(t, out.Warnings[1], "E_HASH_MISMATCH")
	require.Len(t, out.Drift, 1)
	assert.Equal(t, "constitution", out.Drift[0].Template)
}

func TestInitializeProject_NoPolicyMatch(t *testing.T) {
	f := newFixture(t, []config.PolicyConfig{financePolicy}, &stubResolver{})

	out, err := f.ctrl.InitializeProject(context.Background(), governance.InitRequest{
		Name: "web", Tags: []string{"retail"}, Actor: "alice",
	})
	require.NoError(t, err)
	assert.Empty(t, out.Templates)
	assert.Empty(t, out.Policy.PoliciesApplied)
	assert.Empty(t, allEvents(t, f.audit))
}

func TestInitializeProject_AuditFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	ev, err := policy.New([]config.PolicyConfig{financePolicy})
	require.NoError(t, err)
	locks, err := lock.NewStore(filepath.Join(dir, "locks.yaml"))
	require.NoError(t, err)
	ctrl := governance.New(ev, &stubResolver{content: map[string]string{"constitution": "C"}}, locks,
		audit.NewLog(filepath.Join(blocker, "audit.log")))

	_, err = ctrl.InitializeProject(context.Background(), governance.InitRequest{
		Name: "billing", Tags: []string{"finance"}, Actor: "alice",
	})
	assert.Error(t, err)
}

func TestInitializeProject_Cancelled(t *testing.T) {
	res := &stubResolver{content: map[string]string{"constitution": "C", "security": "S", "plan": "P"}}
	f := newFixture(t, []config.PolicyConfig{financePolicy}, res)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ctrl.InitializeProject(ctx, governance.InitRequest{Name: "b", Tags: []string{"finance"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOverrideTemplate_Success(t *testing.T) {
	f := newFixture(t, nil, &stubResolver{content: map[string]string{"plan": "P"}})

	out, err := f.ctrl.OverrideTemplate(context.Background(), governance.OverrideRequest{
		Template: "plan", NewSource: "team", Reason: "team conventions", Actor: "alice",
		Context: model.ProjectContext{model.ContextTeam: "payments"},
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Empty(t, out.Outcome)
	assert.NoError(t, out.Err())
	assert.Equal(t, "corporate", out.FromSource)
	assert.Equal(t, "team", out.ToSource)

	events := allEvents(t, f.audit)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventTemplateOverride, events[0].EventType)
	assert.Equal(t, "payments", events[0].Team)
	assert.Equal(t, "corporate", events[0].Action["from_source"])
	assert.Equal(t, "team", events[0].Action["to_source"])
	assert.Equal(t, []webhook.EventType{webhook.EventTemplateOverride}, f.notifier.types())
}

func TestOverrideTemplate_PolicyBlocked(t *testing.T) {
	policies := []config.PolicyConfig{{
		Name:          "no-overrides",
		Actions:       model.PolicyActions{BlockOverride: true},
		Notifications: map[string]any{"email": "gov@example.com"},
	}}
	f := newFixture(t, policies, &stubResolver{content: map[string]string{"plan": "P"}})

	out, err := f.ctrl.OverrideTemplate(context.Background(), governance.OverrideRequest{
		Template: "plan", NewSource: "team", Reason: "x", Actor: "alice",
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, model.OutcomePolicyBlocked, out.Outcome)
	assert.Equal(t, "no-overrides", out.Policy)
	assert.ErrorIs(t, out.Err(), errclass.ErrPolicyBlocked)

	events := allEvents(t, f.audit)
	require.Len(t, events, 1, "exactly one policy_violation event")
	assert.Equal(t, model.EventPolicyViolation, events[0].EventType)
	assert.Equal(t, "no-overrides", events[0].PolicyCheck["policy"])
	assert.Equal(t, "template_override", events[0].Action["action"])
	assert.Equal(t, "Policy 'no-overrides' blocks override", events[0].Action["blocked_reason"])
	assert.Equal(t, "alice", events[0].User)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "gov@example.com", f.notifier.events[0].Notifications["email"])
}

func TestOverrideTemplate_ApprovalRequiredWritesNoAudit(t *testing.T) {
	policies := []config.PolicyConfig{{
		Name:    "gated",
		Actions: model.PolicyActions{RequireApproval: true, ApproverRoles: []string{"architect", "security"}},
	}}
	f := newFixture(t, policies, &stubResolver{content: map[string]string{"plan": "P"}})

	out, err := f.ctrl.OverrideTemplate(context.Background(), governance.OverrideRequest{
		Template: "plan", NewSource: "team", Reason: "x", Actor: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApprovalRequired, out.Outcome)
	assert.Equal(t, []string{"architect", "security"}, out.ApproverRoles)
	assert.Equal(t, "gated", out.Policy)
	assert.ErrorIs(t, out.Err(), errclass.ErrApprovalRequired)
	assert.Empty(t, allEvents(t, f.audit))
	assert.Equal(t, []webhook.EventType{webhook.EventApprovalRequired}, f.notifier.types())
}

func TestOverrideTemplate_LockPreemptsPolicy(t *testing.T) {
	policies := []config.PolicyConfig{{Name: "no-overrides", Actions: model.PolicyActions{BlockOverride: true}}}
	f := newFixture(t, policies, &stubResolver{content: map[string]string{"plan": "P"}})
	_, err := f.locks.Lock("plan", "2.0", "h", "bob", "release freeze", nil)
	require.NoError(t, err)

	out, err := f.ctrl.OverrideTemplate(context.Background(), governance.OverrideRequest{
		Template: "plan", NewSource: "team", Actor: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeTemplateLocked, out.Outcome)
	require.NotNil(t, out.Lock)
	assert.Equal(t, "bob", out.Lock.LockedBy)
	assert.Equal(t, "release freeze", out.Reason)
	assert.ErrorIs(t, out.Err(), errclass.ErrTemplateLocked)
	assert.Empty(t, allEvents(t, f.audit))
}

func TestOverrideTemplate_ExpiredLockDoesNotBlock(t *testing.T) {
	f := newFixture(t, nil, &stubResolver{content: map[string]string{"plan": "P"}})
	past := time.Now().Add(-time.Hour)
	_, err := f.locks.Lock("plan", "2.0", "h", "bob", "old", &past)
	require.NoError(t, err)

	out, err := f.ctrl.OverrideTemplate(context.Background(), governance.OverrideRequest{
		Template: "plan", NewSource: "team", Actor: "alice",
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestOverrideTemplate_ResolutionFailureIsFatal(t *testing.T) {
	f := newFixture(t, nil, &stubResolver{})

	_, err := f.ctrl.OverrideTemplate(context.Background(), governance.OverrideRequest{
		Template: "plan", NewSource: "team", Actor: "alice",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errclass.ErrResolutionFailed))
	assert.Empty(t, allEvents(t, f.audit))
}
