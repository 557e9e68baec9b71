package doctor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuezhouyang/spec-kit-catpaw/internal/doctor"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/lock"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/registry"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/errclass"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

type stubResolver map[string]string

func (s stubResolver) Resolve(_ context.Context, name string) (*model.Template, error) {
	content, ok := s[name]
	if !ok {
		return nil, errclass.ErrTemplateNotFound.WithMessage(name)
	}
	return model.NewTemplate(name, "corp", []byte(content)), nil
}

type fixture struct {
	stateDir string
	srcDir   string
	locks    *lock.Store
	audit    string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		stateDir: filepath.Join(root, ".specify"),
		srcDir:   filepath.Join(root, "templates"),
	}
	require.NoError(t, os.MkdirAll(f.stateDir, 0755))
	require.NoError(t, os.MkdirAll(f.srcDir, 0755))
	var err error
	f.locks, err = lock.NewStore(filepath.Join(f.stateDir, "template-lock.yaml"))
	require.NoError(t, err)
	f.audit = filepath.Join(f.stateDir, "audit.log")
	return f
}

func (f *fixture) registry(extra ...model.TemplateSource) *registry.Registry {
	sources := append([]model.TemplateSource{{
		Name:      "corp",
		Kind:      model.SourceLocal,
		URL:       f.srcDir,
		Priority:  1,
		Templates: []model.TemplateDecl{{Name: "constitution"}, {Name: "plan"}},
	}}, extra...)
	return registry.New(sources)
}

func findings(r *doctor.Result, category string) []doctor.Finding {
	var out []doctor.Finding
	for _, f := range r.Findings {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

func TestDoctor_Check_Healthy(t *testing.T) {
	f := setup(t)
	doc := doctor.New(f.stateDir, f.registry(), f.locks, f.audit, stubResolver{})

	result, err := doc.Check(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	assert.Empty(t, result.Findings)
}

func TestDoctor_Check_Sources(t *testing.T) {
	f := setup(t)
	reg := f.registry(
		model.TemplateSource{Name: "gone", Kind: model.SourceLocal, URL: filepath.Join(f.srcDir, "missing"),
			Templates: []model.TemplateDecl{{Name: "*"}}},
		model.TemplateSource{Name: "mirror", Kind: model.SourceGit, URL: "https://git.example.com/t.git",
			Templates: []model.TemplateDecl{{Name: "*"}}},
		model.TemplateSource{Name: "gh", Kind: model.SourceGitHub, URL: "https://github.com/acme/templates",
			Auth: &model.AuthDescriptor{Type: "token", TokenEnv: "SPECKIT_DOCTOR_TEST_UNSET_TOKEN"}},
	)
	doc := doctor.New(f.stateDir, reg, f.locks, f.audit, stubResolver{})

	result, err := doc.Check(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, result.Healthy)

	got := findings(result, "source")
	require.Len(t, got, 4)
	assert.Contains(t, got[0].Description, "'gone' root directory missing")
	assert.Contains(t, got[1].Description, "plain git remotes cannot be fetched")
	assert.Contains(t, got[2].Description, "'gh' declares no templates")
	assert.Contains(t, got[3].Description, "SPECKIT_DOCTOR_TEST_UNSET_TOKEN is not set")
}

func TestDoctor_Check_LockOnUnservedTemplate(t *testing.T) {
	f := setup(t)
	_, err := f.locks.Lock("tasks", "1.0", "", "alice", "", nil)
	require.NoError(t, err)
	doc := doctor.New(f.stateDir, f.registry(), f.locks, f.audit, stubResolver{})

	result, err := doc.Check(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Healthy, "lock findings are warnings")

	got := findings(result, "lock")
	require.Len(t, got, 2)
	assert.Contains(t, got[0].Description, "no source serves it")
	assert.Equal(t, doctor.SeverityInfo, got[1].Severity)
}

func TestDoctor_Check_MalformedAudit(t *testing.T) {
	f := setup(t)
	lines := `{"timestamp":"2026-01-01T00:00:00Z","event_type":"template_download","user":"a","team":"","action":{}}
not json
{"timestamp":"2026-01-01T00:00:00Z","event_type":"bogus","user":"a","team":"","action":{}}
`
	require.NoError(t, os.WriteFile(f.audit, []byte(lines), 0644))
	doc := doctor.New(f.stateDir, f.registry(), f.locks, f.audit, stubResolver{})

	result, err := doc.Check(context.Background(), false)
	require.NoError(t, err)
	got := findings(result, "audit")
	require.Len(t, got, 2)
	assert.Contains(t, got[0].Description, "line 2")
	assert.Contains(t, got[1].Description, "line 3")
}

func TestDoctor_Check_StrictDetectsDrift(t *testing.T) {
	f := setup(t)
	pinned := model.NewTemplate("constitution", "corp", []byte("v1")).SHA256()
	_, err := f.locks.Lock("constitution", "1.0", pinned, "alice", "", nil)
	require.NoError(t, err)
	_, err = f.locks.Lock("plan", "1.0", "abc", "alice", "", nil)
	require.NoError(t, err)

	doc := doctor.New(f.stateDir, f.registry(), f.locks, f.audit, stubResolver{"constitution": "v2"})

	result, err := doc.Check(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, findings(result, "integrity"), "drift is only checked in strict mode")

	result, err = doc.Check(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	got := findings(result, "integrity")
	require.Len(t, got, 2)
	assert.Equal(t, doctor.SeverityCritical, got[0].Severity)
	assert.Contains(t, got[0].Description, "'constitution' from corp drifted")
	assert.Contains(t, got[1].Description, "cannot resolve locked template 'plan'")
}

func TestDoctor_Check_OrphanTmp(t *testing.T) {
	f := setup(t)
	tmp := filepath.Join(f.stateDir, "templates", ".specify-tmp-123")
	require.NoError(t, os.MkdirAll(filepath.Dir(tmp), 0755))
	require.NoError(t, os.WriteFile(tmp, []byte("x"), 0644))
	doc := doctor.New(f.stateDir, f.registry(), f.locks, f.audit, stubResolver{})

	result, err := doc.Check(context.Background(), false)
	require.NoError(t, err)
	got := findings(result, "tmp")
	require.Len(t, got, 1)
	assert.Equal(t, tmp, got[0].Path)
	assert.True(t, result.Healthy)
}

func TestDoctor_Check_Canceled(t *testing.T) {
	f := setup(t)
	_, err := f.locks.Lock("plan", "1.0", "abc", "alice", "", nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doc := doctor.New(f.stateDir, f.registry(), f.locks, f.audit, stubResolver{})
	_, err = doc.Check(ctx, true)
	assert.ErrorIs(t, err, context.Canceled)
}
