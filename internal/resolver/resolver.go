// Package resolver turns a logical template name into one Template by
// consulting the source registry and fetching from candidate sources.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xuezhouyang/spec-kit-catpaw/internal/fetch"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/registry"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/errclass"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/logging"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/metrics"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/pathutil"
)

// Resolution modes, used as the metrics label.
const (
	ModeEnforced = "enforced"
	ModeSingle   = "single"
	ModeMerged   = "merged"
)

// Resolver is stateless between calls and safe for concurrent use.
type Resolver struct {
	registry       *registry.Registry
	fetcher        fetch.Fetcher
	fetchTimeout   time.Duration
	maxConcurrency int
	log            *logging.Logger
	metrics        *metrics.Registry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFetchTimeout bounds each source fetch. Zero means no per-fetch bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.fetchTimeout = d }
}

// WithMaxConcurrency limits parallel fetches. Zero or negative means unlimited.
func WithMaxConcurrency(n int) Option {
	return func(r *Resolver) { r.maxConcurrency = n }
}

// WithLogger sets the resolver's logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New creates a resolver over reg using fetcher for content retrieval.
func New(reg *registry.Registry, fetcher fetch.Fetcher, opts ...Option) *Resolver {
	r := &Resolver{registry: reg, fetcher: fetcher}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logging.OrGlobal(r.log)
	return r
}

// Resolve returns the template that applies for name.
//
// If any candidate source enforces the template, only the highest-priority
// enforcing source is fetched and its template is returned as is. Otherwise
// every candidate is fetched in parallel; failed sources are skipped, a single
// success is returned directly and several successes are merged.
func (r *Resolver) Resolve(ctx context.Context, name string) (*model.Template, error) {
	if err := pathutil.ValidateTemplateName(name); err != nil {
		return nil, err
	}
	sources := r.registry.SourcesFor(name)
	if len(sources) == 0 {
		r.metrics.RecordResolution("none", "not_found")
		return nil, errclass.ErrTemplateNotFound.WithMessagef("no source declares template %s", name)
	}

	for _, src := range sources {
		if !src.EnforcesTemplate(name) {
			continue
		}
		tmpl, err := r.fetchOne(ctx, src, name)
		if err != nil {
			r.metrics.RecordResolution(ModeEnforced, "failure")
			return nil, errclass.ErrResolutionFailed.WithMessagef("enforced source %s for %s: %v", src.Name, name, err)
		}
		r.log.Debug("resolved enforced template", map[string]any{"template": name, "source": src.Name})
		r.metrics.RecordResolution(ModeEnforced, "success")
		return tmpl, nil
	}

	templates := r.fetchAll(ctx, sources, name)
	switch len(templates) {
	case 0:
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolve %s: %w", name, err)
		}
		r.metrics.RecordResolution(ModeMerged, "failure")
		return nil, errclass.ErrResolutionFailed.WithMessagef("all %d sources failed for %s", len(sources), name)
	case 1:
		r.metrics.RecordResolution(ModeSingle, "success")
		return templates[0], nil
	}
	r.metrics.RecordResolution(ModeMerged, "success")
	return Merge(name, templates), nil
}

// fetchAll fetches name from every source concurrently and returns the
// successes in source order. Failures are logged and dropped.
func (r *Resolver) fetchAll(ctx context.Context, sources []model.TemplateSource, name string) []*model.Template {
	results := make([]*model.Template, len(sources))
	var g errgroup.Group
	if r.maxConcurrency > 0 {
		g.SetLimit(r.maxConcurrency)
	}
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			tmpl, err := r.fetchOne(ctx, src, name)
			if err != nil {
				r.log.Warn("template fetch failed, skipping source", map[string]any{
					"template": name, "source": src.Name, "error": err.Error(),
				})
				return nil
			}
			results[i] = tmpl
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*model.Template, 0, len(results))
	for _, t := range results {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (r *Resolver) fetchOne(ctx context.Context, src model.TemplateSource, name string) (*model.Template, error) {
	if r.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.fetchTimeout)
		defer cancel()
	}

	start := time.Now()
	data, err := r.fetcher.Fetch(ctx, src, name)
	r.metrics.RecordFetch(src.Name, err == nil, time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("fetch timed out after %s: %w", r.fetchTimeout, err)
		}
		return nil, err
	}

	decl, _ := src.Declaration(name)
	tmpl := model.NewTemplate(name, src.Name, data)
	tmpl.Category = src.MergeCategory()
	tmpl.Version = decl.Version
	tmpl.Path = src.TemplatePath(name)
	tmpl.Enforce = src.EnforcesTemplate(name)
	return tmpl, nil
}
