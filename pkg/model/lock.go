package model

import "time"

// Lock pins a template name to a version and content hash.
// Stored under the `locks` mapping of .specify/template-lock.yaml.
type Lock struct {
	Version   string     `json:"version" yaml:"version"`
	SHA256    HashValue  `json:"sha256" yaml:"sha256"`
	LockedAt  time.Time  `json:"locked_at" yaml:"locked_at"`
	LockedBy  string     `json:"locked_by" yaml:"locked_by"`
	Reason    string     `json:"reason" yaml:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

// IsExpired returns true if the lock has an expiry that has passed.
func (l *Lock) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// LockFile is the on-disk shape of the lock store.
type LockFile struct {
	Locks map[string]Lock `yaml:"locks"`
}
