// Package fetch retrieves raw template bytes from template sources.
//
// The resolver calls a Fetcher once per (source, template) pair and never
// retries; retry and caching live here, around the collaborator.
package fetch

import (
	"context"
	"net/url"
	"strings"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/errclass"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

// Fetcher returns the content of templateName from src.
type Fetcher interface {
	Fetch(ctx context.Context, src model.TemplateSource, templateName string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, src model.TemplateSource, templateName string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, src model.TemplateSource, templateName string) ([]byte, error) {
	return f(ctx, src, templateName)
}

// Router dispatches to a local or HTTP fetcher based on the source kind and
// URL scheme.
type Router struct {
	Local Fetcher
	HTTP  Fetcher
}

// NewRouter creates a router over the default local and HTTP fetchers.
func NewRouter(opts ...HTTPOption) *Router {
	return &Router{Local: NewLocal(), HTTP: NewHTTP(opts...)}
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, src model.TemplateSource, templateName string) ([]byte, error) {
	if isLocal(src) {
		return r.Local.Fetch(ctx, src, templateName)
	}
	switch src.Kind {
	case model.SourceGitHub, model.SourceGitLab, model.SourceBitbucket:
		return r.HTTP.Fetch(ctx, src, templateName)
	}
	return nil, errclass.ErrFetchUnsupported.WithMessagef("source %s: cannot fetch %s URL %s", src.Name, src.Kind, src.URL)
}

func isLocal(src model.TemplateSource) bool {
	if src.Kind == model.SourceLocal {
		return true
	}
	if strings.HasPrefix(src.URL, "file://") {
		return true
	}
	u, err := url.Parse(src.URL)
	return err != nil || u.Scheme == ""
}
