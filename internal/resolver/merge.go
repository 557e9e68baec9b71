package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

// Merge rank by source category. Unknown categories sort last.
var categoryRank = map[string]int{
	"corporate":  1,
	"department": 2,
	"team":       3,
	"public":     10,
}

const unknownRank = 99

// CategoryRank returns the merge rank of a source category.
func CategoryRank(category string) int {
	if r, ok := categoryRank[category]; ok {
		return r
	}
	return unknownRank
}

// Merge concatenates templates ordered by category rank. Each part gets a
// header naming its origin; a trailing manifest lists every origin in merge
// order. Equal ranks keep their input order, so output is deterministic for
// a given input.
func Merge(name string, templates []*model.Template) *model.Template {
	ordered := make([]*model.Template, len(templates))
	copy(ordered, templates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return CategoryRank(category(ordered[i])) < CategoryRank(category(ordered[j]))
	})

	parts := make([]string, 0, 2*len(ordered)+2)
	origins := make([]string, 0, len(ordered))
	enforce := false
	for _, t := range ordered {
		parts = append(parts, fmt.Sprintf("\n# === From: %s (Priority: %d) ===\n", t.Source, CategoryRank(category(t))))
		parts = append(parts, string(t.Content()))
		origins = append(origins, t.Source)
		enforce = enforce || t.Enforce
	}
	parts = append(parts, "\n# === Template Sources ===")
	parts = append(parts, "# This template was merged from: "+strings.Join(origins, ", "))

	merged := model.NewTemplate(name, model.MergedOrigin, []byte(strings.Join(parts, "\n")))
	merged.Enforce = enforce
	return merged
}

func category(t *model.Template) string {
	if t.Category != "" {
		return t.Category
	}
	return t.Source
}
