package model

import "time"

// AuditEventType identifies the type of auditable event.
type AuditEventType string

const (
	EventTemplateDownload AuditEventType = "template_download"
	EventTemplateOverride AuditEventType = "template_override"
	EventPolicyViolation  AuditEventType = "policy_violation"
)

// Valid reports whether t is one of the known event types.
func (t AuditEventType) Valid() bool {
	switch t {
	case EventTemplateDownload, EventTemplateOverride, EventPolicyViolation:
		return true
	}
	return false
}

// AuditEvent is a single line in the audit log (JSONL format).
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	User        string         `json:"user"`
	Team        string         `json:"team,omitempty"`
	Action      map[string]any `json:"action"`
	PolicyCheck map[string]any `json:"policy_check,omitempty"`
	Approval    map[string]any `json:"approval,omitempty"`
}
