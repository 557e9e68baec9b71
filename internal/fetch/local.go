package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/errclass"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/pathutil"
)

// Local reads templates from a directory named by a file:// URL or a path.
type Local struct{}

// NewLocal creates a local filesystem fetcher.
func NewLocal() *Local {
	return &Local{}
}

// Fetch implements Fetcher. The template path may not escape the source root.
func (l *Local) Fetch(ctx context.Context, src model.TemplateSource, templateName string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root := strings.TrimPrefix(src.URL, "file://")
	if root == "" {
		return nil, fmt.Errorf("source %s: empty local path", src.Name)
	}
	target := filepath.Join(root, filepath.FromSlash(src.TemplatePath(templateName)))
	if err := pathutil.ValidatePathSafety(root, target); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(target)
	if os.IsNotExist(err) {
		return nil, errclass.ErrTemplateNotFound.WithMessagef("%s not found in source %s", templateName, src.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return data, nil
}
