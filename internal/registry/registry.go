// Package registry holds the configured template sources and answers which
// sources can serve a template, in priority order.
package registry

import (
	"sort"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

// Registry is an immutable snapshot of template sources; safe for concurrent reads.
type Registry struct {
	sources []model.TemplateSource
	byName  map[string]int
}

// New creates a registry from sources in declaration order.
func New(sources []model.TemplateSource) *Registry {
	r := &Registry{
		sources: make([]model.TemplateSource, len(sources)),
		byName:  make(map[string]int, len(sources)),
	}
	copy(r.sources, sources)
	for i, s := range r.sources {
		r.byName[s.Name] = i
	}
	return r
}

// SourcesFor returns every source with a declaration matching templateName
// (exact name or "*"), sorted ascending by priority. Equal priorities keep
// declaration order. An empty result is not an error.
func (r *Registry) SourcesFor(templateName string) []model.TemplateSource {
	var out []model.TemplateSource
	for _, s := range r.sources {
		if s.Serves(templateName) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Source looks up a source by name.
func (r *Registry) Source(name string) (model.TemplateSource, bool) {
	i, ok := r.byName[name]
	if !ok {
		return model.TemplateSource{}, false
	}
	return r.sources[i], true
}

// Sources returns all sources in declaration order.
func (r *Registry) Sources() []model.TemplateSource {
	out := make([]model.TemplateSource, len(r.sources))
	copy(out, r.sources)
	return out
}
