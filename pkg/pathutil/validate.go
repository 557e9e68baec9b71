// Package pathutil provides path and name validation utilities.
package pathutil

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/errclass"
)

var (
	nameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	tagRegex  = regexp.MustCompile(`^[a-zA-Z0-9._+#-]+$`)
)

// ValidateTag validates a project tag or tech-stack entry.
func ValidateTag(tag string) error {
	if tag == "" {
		return errclass.ErrNameInvalid.WithMessage("tag must not be empty")
	}
	if !tagRegex.MatchString(tag) {
		return errclass.ErrNameInvalid.WithMessagef("tag must match [a-zA-Z0-9._+#-]+: %s", tag)
	}
	return nil
}

// ValidateName checks source and policy name safety.
func ValidateName(name string) error {
	if name == "" {
		return errclass.ErrNameInvalid.WithMessage("name must not be empty")
	}

	// NFC normalize
	name = norm.NFC.String(name)

	if name == ".." || strings.Contains(name, "..") {
		return errclass.ErrNameInvalid.WithMessagef("name must not contain '..': %s", name)
	}

	if strings.ContainsAny(name, "/\\") {
		return errclass.ErrNameInvalid.WithMessagef("name must not contain separators: %s", name)
	}

	// Check for control characters
	for _, r := range name {
		if unicode.IsControl(r) {
			return errclass.ErrNameInvalid.WithMessagef("name must not contain control characters: %q", name)
		}
	}

	if !nameRegex.MatchString(name) {
		return errclass.ErrNameInvalid.WithMessagef("name must match [a-zA-Z0-9._-]+: %s", name)
	}

	return nil
}

// ValidateTemplateName checks a logical template name. Names may contain
// slash-separated segments (commands/plan.md) but never "..", absolute paths,
// or the wildcard, which is only legal in source declarations.
func ValidateTemplateName(name string) error {
	if name == "" {
		return errclass.ErrNameInvalid.WithMessage("template name must not be empty")
	}
	name = norm.NFC.String(name)
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return errclass.ErrNameInvalid.WithMessagef("template name must be relative: %s", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "." || seg == ".." || seg == "" {
			return errclass.ErrNameInvalid.WithMessagef("invalid template name segment in %q", name)
		}
		if !nameRegex.MatchString(seg) {
			return errclass.ErrNameInvalid.WithMessagef("template name must match [a-zA-Z0-9._-]+ per segment: %s", name)
		}
	}
	return nil
}

// ValidatePathSafety verifies target path does not escape the given root.
func ValidatePathSafety(repoRoot, targetPath string) error {
	// Resolve repo root symlinks
	resolvedRoot, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		return errclass.ErrPathEscape.WithMessagef("cannot resolve root: %v", err)
	}

	// Try resolving target; if it doesn't exist, resolve closest ancestor
	resolvedTarget, err := filepath.EvalSymlinks(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			resolvedTarget = resolveClosestAncestor(targetPath)
		} else {
			return errclass.ErrPathEscape.WithMessagef("cannot resolve target: %v", err)
		}
	}

	// Ensure resolved target is under resolved root
	if !strings.HasPrefix(resolvedTarget+"/", resolvedRoot+"/") &&
		resolvedTarget != resolvedRoot {
		return errclass.ErrPathEscape.WithMessagef("path escapes root: %s", targetPath)
	}

	return nil
}

// resolveClosestAncestor walks up from path to find the closest existing
// ancestor, resolves it, then appends the remaining components.
func resolveClosestAncestor(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// Recurse up
			resolved = resolveClosestAncestor(dir)
		} else {
			return filepath.Clean(path)
		}
	}
	return filepath.Join(resolved, base)
}
