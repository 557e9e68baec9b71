// Package integrity compares resolved template content against version locks.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/errclass"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

// Report describes how a resolved template relates to its lock.
type Report struct {
	Template    string          `json:"template"`
	Source      string          `json:"source"`
	LockVersion string          `json:"lock_version,omitempty"`
	LockHash    model.HashValue `json:"lock_hash,omitempty"`
	ActualHash  model.HashValue `json:"actual_hash"`
	Drifted     bool            `json:"drifted"`
}

// Check compares tmpl against lk. A nil lock or a lock without a recorded
// hash never drifts.
func Check(tmpl *model.Template, lk *model.Lock) Report {
	r := Report{
		Template:   tmpl.Name,
		Source:     tmpl.Source,
		ActualHash: tmpl.SHA256(),
	}
	if lk == nil {
		return r
	}
	r.LockVersion = lk.Version
	r.LockHash = lk.SHA256
	r.Drifted = lk.SHA256 != "" && lk.SHA256 != tmpl.SHA256()
	return r
}

// VerifyAgainstLock returns E_HASH_MISMATCH when tmpl no longer matches the
// hash pinned by lk.
func VerifyAgainstLock(tmpl *model.Template, lk *model.Lock) error {
	r := Check(tmpl, lk)
	if !r.Drifted {
		return nil
	}
	return errclass.ErrHashMismatch.WithMessagef("%s: locked at %s (version %s), resolved %s from %s",
		r.Template, short(r.LockHash), r.LockVersion, short(r.ActualHash), r.Source)
}

// HashFile returns the SHA-256 of a file's content, for pinning a template
// from a local copy.
func HashFile(path string) (model.HashValue, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return model.HashValue(hex.EncodeToString(h.Sum(nil))), nil
}

func short(h model.HashValue) string {
	if len(h) > 12 {
		return string(h[:12])
	}
	return string(h)
}
