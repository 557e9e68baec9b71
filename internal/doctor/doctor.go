// Package doctor checks the health of a project's governance state.
package doctor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuezhouyang/spec-kit-catpaw/internal/integrity"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/lock"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/registry"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

// Severities, in increasing order.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Path        string `json:"path,omitempty"`
}

// Result contains doctor check results.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

func (r *Result) add(f Finding) {
	r.Findings = append(r.Findings, f)
	if f.Severity == SeverityError || f.Severity == SeverityCritical {
		r.Healthy = false
	}
}

// Resolver resolves template content for drift checks.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*model.Template, error)
}

// Doctor performs governance health checks.
type Doctor struct {
	stateDir  string
	registry  *registry.Registry
	locks     *lock.Store
	auditPath string
	resolver  Resolver
	getenv    func(string) string
}

// New creates a doctor for the state kept under stateDir.
func New(stateDir string, reg *registry.Registry, locks *lock.Store, auditPath string, r Resolver) *Doctor {
	return &Doctor{
		stateDir:  stateDir,
		registry:  reg,
		locks:     locks,
		auditPath: auditPath,
		resolver:  r,
		getenv:    os.Getenv,
	}
}

// Check runs all diagnostic checks. Strict mode also resolves every locked
// template and compares it with its lock.
func (d *Doctor) Check(ctx context.Context, strict bool) (*Result, error) {
	result := &Result{Healthy: true, Findings: []Finding{}}

	d.checkSources(result)
	d.checkLocks(result)
	if err := d.checkAuditLog(result); err != nil {
		return nil, err
	}
	if strict {
		if err := d.checkDrift(ctx, result); err != nil {
			return nil, err
		}
	}
	d.checkOrphanTmp(result)
	return result, nil
}

func (d *Doctor) checkSources(result *Result) {
	sources := d.registry.Sources()
	if len(sources) == 0 {
		result.add(Finding{
			Category:    "source",
			Description: "no template sources configured",
			Severity:    SeverityWarning,
		})
	}
	for _, s := range sources {
		if len(s.Templates) == 0 {
			result.add(Finding{
				Category:    "source",
				Description: fmt.Sprintf("source '%s' declares no templates", s.Name),
				Severity:    SeverityWarning,
			})
		}
		if s.Auth != nil && s.Auth.TokenEnv != "" && d.getenv(s.Auth.TokenEnv) == "" {
			result.add(Finding{
				Category:    "source",
				Description: fmt.Sprintf("source '%s': token variable %s is not set", s.Name, s.Auth.TokenEnv),
				Severity:    SeverityWarning,
			})
		}
		if root, ok := localRoot(s); ok {
			if info, err := os.Stat(root); err != nil || !info.IsDir() {
				result.add(Finding{
					Category:    "source",
					Description: fmt.Sprintf("source '%s' root directory missing", s.Name),
					Severity:    SeverityError,
					Path:        root,
				})
			}
		} else if s.Kind == model.SourceGit {
			result.add(Finding{
				Category:    "source",
				Description: fmt.Sprintf("source '%s': plain git remotes cannot be fetched; use github, gitlab or bitbucket", s.Name),
				Severity:    SeverityError,
			})
		}
	}
}

func localRoot(s model.TemplateSource) (string, bool) {
	if s.Kind == model.SourceLocal || strings.HasPrefix(s.URL, "file://") {
		return strings.TrimPrefix(s.URL, "file://"), true
	}
	if !strings.Contains(s.URL, "://") {
		return s.URL, true
	}
	return "", false
}

func (d *Doctor) checkLocks(result *Result) {
	for _, e := range d.locks.List() {
		if len(d.registry.SourcesFor(e.Name)) == 0 {
			result.add(Finding{
				Category:    "lock",
				Description: fmt.Sprintf("template '%s' is locked but no source serves it", e.Name),
				Severity:    SeverityWarning,
				Path:        d.locks.Path(),
			})
		}
		if e.SHA256 == "" {
			result.add(Finding{
				Category:    "lock",
				Description: fmt.Sprintf("lock on '%s' has no content hash", e.Name),
				Severity:    SeverityInfo,
			})
		}
	}
}

// checkAuditLog reports lines the audit query would skip.
func (d *Doctor) checkAuditLog(result *Result) error {
	f, err := os.Open(d.auditPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	lineNo := 0
	for {
		raw, err := br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read audit log: %w", err)
		}
		eof := err != nil
		if len(raw) > 0 {
			lineNo++
			if line := bytes.TrimSpace(raw); len(line) > 0 && !validEvent(line) {
				result.add(Finding{
					Category:    "audit",
					Description: fmt.Sprintf("malformed audit entry on line %d", lineNo),
					Severity:    SeverityWarning,
					Path:        d.auditPath,
				})
			}
		}
		if eof {
			return nil
		}
	}
}

func validEvent(line []byte) bool {
	var ev model.AuditEvent
	return json.Unmarshal(line, &ev) == nil && ev.EventType.Valid()
}

func (d *Doctor) checkDrift(ctx context.Context, result *Result) error {
	for _, e := range d.locks.List() {
		if err := ctx.Err(); err != nil {
			return err
		}
		tmpl, err := d.resolver.Resolve(ctx, e.Name)
		if err != nil {
			result.add(Finding{
				Category:    "integrity",
				Description: fmt.Sprintf("cannot resolve locked template '%s': %v", e.Name, err),
				Severity:    SeverityError,
			})
			continue
		}
		lk := e.Lock
		if report := integrity.Check(tmpl, &lk); report.Drifted {
			result.add(Finding{
				Category:    "integrity",
				Description: fmt.Sprintf("template '%s' from %s drifted from its lock", e.Name, report.Source),
				Severity:    SeverityCritical,
			})
		}
	}
	return nil
}

func (d *Doctor) checkOrphanTmp(result *Result) {
	filepath.WalkDir(d.stateDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), ".specify-tmp-") {
			result.add(Finding{
				Category:    "tmp",
				Description: fmt.Sprintf("orphan temp file: %s", entry.Name()),
				Severity:    SeverityInfo,
				Path:        path,
			})
		}
		return nil
	})
}
