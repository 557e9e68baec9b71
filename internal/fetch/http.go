package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/errclass"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

const (
	defaultGitHubRawBase = "https://raw.githubusercontent.com"
	maxTemplateSize      = 10 << 20
)

// HTTP fetches raw template files from repository hosts.
type HTTP struct {
	client        *http.Client
	githubRawBase string
	getenv        func(string) string
}

// HTTPOption configures an HTTP fetcher.
type HTTPOption func(*HTTP)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithGitHubRawBase overrides the raw.githubusercontent.com endpoint.
func WithGitHubRawBase(base string) HTTPOption {
	return func(h *HTTP) { h.githubRawBase = strings.TrimRight(base, "/") }
}

// WithGetenv overrides os.Getenv for token lookup.
func WithGetenv(fn func(string) string) HTTPOption {
	return func(h *HTTP) { h.getenv = fn }
}

// NewHTTP creates an HTTP fetcher.
func NewHTTP(opts ...HTTPOption) *HTTP {
	h := &HTTP{
		client:        &http.Client{Timeout: 30 * time.Second},
		githubRawBase: defaultGitHubRawBase,
		getenv:        os.Getenv,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RawURL builds the raw-file URL of templateName in src.
func (h *HTTP) RawURL(src model.TemplateSource, templateName string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(src.URL, ".git"))
	if err != nil {
		return "", fmt.Errorf("source %s: parse url: %w", src.Name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errclass.ErrFetchUnsupported.WithMessagef("source %s: scheme %q", src.Name, u.Scheme)
	}
	branch := src.Branch
	if branch == "" {
		branch = "main"
	}
	file := src.TemplatePath(templateName)
	repo := strings.Trim(u.Path, "/")

	switch src.Kind {
	case model.SourceGitHub:
		if u.Host == "github.com" {
			return h.githubRawBase + "/" + path.Join(repo, branch, file), nil
		}
		return joinURL(u, repo, "raw", branch, file), nil
	case model.SourceGitLab:
		return joinURL(u, repo, "-", "raw", branch, file), nil
	case model.SourceBitbucket:
		return joinURL(u, repo, "raw", branch, file), nil
	}
	return "", errclass.ErrFetchUnsupported.WithMessagef("source %s: kind %q has no raw endpoint", src.Name, src.Kind)
}

func joinURL(u *url.URL, parts ...string) string {
	out := *u
	out.Path = "/" + path.Join(parts...)
	out.RawQuery = ""
	return out.String()
}

// Fetch implements Fetcher.
func (h *HTTP) Fetch(ctx context.Context, src model.TemplateSource, templateName string) ([]byte, error) {
	rawURL, err := h.RawURL(src, templateName)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "speckit")
	h.authorize(req, src)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s from %s: %w", templateName, src.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errclass.ErrTemplateNotFound.WithMessagef("%s not found in source %s", templateName, src.Name)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s from %s: unexpected status %d", templateName, src.Name, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTemplateSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", templateName, src.Name, err)
	}
	if len(data) > maxTemplateSize {
		return nil, fmt.Errorf("fetch %s from %s: template exceeds %d bytes", templateName, src.Name, maxTemplateSize)
	}
	return data, nil
}

func (h *HTTP) authorize(req *http.Request, src model.TemplateSource) {
	if src.Auth == nil || src.Auth.TokenEnv == "" {
		return
	}
	token := h.getenv(src.Auth.TokenEnv)
	if token == "" {
		return
	}
	switch {
	case src.Kind == model.SourceGitLab:
		req.Header.Set("PRIVATE-TOKEN", token)
	case src.Auth.Username != "":
		req.SetBasicAuth(src.Auth.Username, token)
	default:
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
