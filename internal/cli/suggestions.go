package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuezhouyang/spec-kit-catpaw/internal/registry"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/color"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

// declaredTemplates returns the explicitly declared template names, sorted.
func declaredTemplates(reg *registry.Registry) []string {
	seen := make(map[string]bool)
	for _, s := range reg.Sources() {
		for _, d := range s.Templates {
			if d.Name != model.Wildcard {
				seen[d.Name] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// suggestTemplates offers close matches when a template is not declared.
func suggestTemplates(query string, reg *registry.Registry) string {
	names := declaredTemplates(reg)
	if len(names) == 0 {
		if len(reg.Sources()) == 0 {
			return color.Dim(fmt.Sprintf("  No template sources configured. Add template_sources to %s.", color.Code(".specify/config.yaml")))
		}
		return color.Dim("  No templates are declared by name.")
	}

	q := strings.ToLower(query)
	var matches []string
	for _, n := range names {
		if strings.HasPrefix(strings.ToLower(n), q) {
			matches = append(matches, n)
		}
	}
	if len(matches) == 0 {
		for _, n := range names {
			if strings.Contains(strings.ToLower(n), q) || strings.Contains(q, strings.ToLower(n)) {
				matches = append(matches, n)
			}
		}
	}
	if len(matches) > 0 {
		hint := "Did you mean"
		if len(matches) > 1 {
			hint += " one of"
		}
		return color.Dim(fmt.Sprintf("  %s: %s?", hint, strings.Join(matches, ", ")))
	}
	return color.Dim("  Available templates: " + strings.Join(names, ", "))
}
