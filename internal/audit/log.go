// Package audit implements the append-only governance audit log (JSONL).
package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/fsutil"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/logging"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/metrics"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

// Log appends audit events to a JSONL file. Appends are serialized by an
// in-process mutex and an exclusive flock, and synced before returning.
type Log struct {
	path    string
	now     func() time.Time
	log     *logging.Logger
	metrics *metrics.Registry
	mu      sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithLogger sets the logger used for skipped-line warnings.
func WithLogger(lg *logging.Logger) Option {
	return func(l *Log) { l.log = lg }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(l *Log) { l.metrics = m }
}

// NewLog creates an audit log writing to path. The file is created on first append.
func NewLog(path string, opts ...Option) *Log {
	l := &Log{path: path, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	l.log = logging.OrGlobal(l.log)
	return l
}

// Path returns the audit log path.
func (l *Log) Path() string {
	return l.path
}

// Record appends ev as one line. A zero timestamp is filled with the current
// UTC time. Any failure is returned; nothing is retried or rolled back.
func (l *Log) Record(ev model.AuditEvent) (model.AuditEvent, error) {
	if !ev.EventType.Valid() {
		return ev, fmt.Errorf("audit: unknown event type %q", ev.EventType)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if ev.Action == nil {
		ev.Action = map[string]any{}
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return ev, fmt.Errorf("marshal audit event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return ev, fmt.Errorf("create audit dir: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return ev, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	if err := fsutil.LockFile(file); err != nil {
		return ev, fmt.Errorf("flock audit log: %w", err)
	}
	defer fsutil.UnlockFile(file)

	if _, err := file.Write(line); err != nil {
		return ev, fmt.Errorf("write audit event: %w", err)
	}
	if err := file.Sync(); err != nil {
		return ev, fmt.Errorf("sync audit log: %w", err)
	}
	l.metrics.RecordAuditEvent(string(ev.EventType))
	return ev, nil
}

// RecordDownload records that a template was resolved into a project.
func (l *Log) RecordDownload(user, team, template, source, version string, hash model.HashValue) (model.AuditEvent, error) {
	action := map[string]any{
		"template": template,
		"source":   source,
		"sha256":   string(hash),
	}
	if version != "" {
		action["version"] = version
	}
	return l.Record(model.AuditEvent{
		EventType: model.EventTemplateDownload,
		User:      user,
		Team:      team,
		Action:    action,
	})
}

// RecordOverride records a completed template override.
func (l *Log) RecordOverride(user, team, template, fromSource, toSource, reason string, approval map[string]any) (model.AuditEvent, error) {
	return l.Record(model.AuditEvent{
		EventType: model.EventTemplateOverride,
		User:      user,
		Team:      team,
		Action: map[string]any{
			"template":    template,
			"from_source": fromSource,
			"to_source":   toSource,
			"reason":      reason,
		},
		Approval: approval,
	})
}

// RecordViolation records an override that a policy blocked.
func (l *Log) RecordViolation(user, team, template, attempted, reason, policy string) (model.AuditEvent, error) {
	return l.Record(model.AuditEvent{
		EventType: model.EventPolicyViolation,
		User:      user,
		Team:      team,
		Action: map[string]any{
			"action":         attempted,
			"template":       template,
			"blocked_reason": reason,
		},
		PolicyCheck: map[string]any{
			"violated": true,
			"policy":   policy,
		},
	})
}

// Filter selects events in Query. Zero fields are ignored; all set fields
// must match. Start and End are inclusive.
type Filter struct {
	EventType model.AuditEventType
	Start     time.Time
	End       time.Time
}

func (f Filter) match(ev *model.AuditEvent) bool {
	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}
	if !f.Start.IsZero() && ev.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && ev.Timestamp.After(f.End) {
		return false
	}
	return true
}

// Query reads the whole log and returns the events matching f in file order.
// Lines that fail to parse are skipped with a warning.
func (l *Log) Query(f Filter) ([]model.AuditEvent, error) {
	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return []model.AuditEvent{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	if err := fsutil.RLockFile(file); err != nil {
		return nil, fmt.Errorf("flock audit log: %w", err)
	}
	defer fsutil.UnlockFile(file)

	return l.scan(file, f)
}

func (l *Log) scan(r io.Reader, f Filter) ([]model.AuditEvent, error) {
	events := []model.AuditEvent{}
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		raw, err := br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read audit log: %w", err)
		}
		eof := err != nil
		if len(raw) > 0 {
			lineNo++
			l.parseLine(bytes.TrimSpace(raw), lineNo, f, &events)
		}
		if eof {
			return events, nil
		}
	}
}

func (l *Log) parseLine(raw []byte, lineNo int, f Filter, events *[]model.AuditEvent) {
	if len(raw) == 0 {
		return
	}
	var ev model.AuditEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		l.log.Warn("skipping malformed audit line", map[string]any{
			"path": l.path, "line": lineNo, "bytes": len(raw), "error": err.Error(),
		})
		return
	}
	if f.match(&ev) {
		*events = append(*events, ev)
	}
}
