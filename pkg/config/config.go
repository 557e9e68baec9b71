// Package config loads the governance configuration from .specify/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/errclass"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/pathutil"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/webhook"
)

const (
	DirName         = ".specify"
	DefaultPath     = ".specify/config.yaml"
	DefaultLockFile = ".specify/template-lock.yaml"
	DefaultAuditLog = ".specify/audit.log"

	DefaultBranch   = "main"
	DefaultPriority = 10
	DefaultCacheTTL = 3600
)

// Config represents the governance configuration document.
type Config struct {
	TemplateSources SourceList     `yaml:"template_sources" validate:"dive"`
	Policies        []PolicyConfig `yaml:"policies" validate:"dive"`
	Paths           PathsConfig    `yaml:"paths"`
	Logging         LoggingConfig  `yaml:"logging"`
	Resolver        ResolverConfig `yaml:"resolver"`
	Cache           CacheConfig    `yaml:"cache"`
	Webhooks        webhook.Config `yaml:"webhooks"`
	Metrics         MetricsConfig  `yaml:"metrics"`
}

// SourceConfig is one entry of the template_sources mapping.
type SourceConfig struct {
	Name      string                `yaml:"-"`
	Type      string                `yaml:"type" validate:"omitempty,oneof=git github gitlab bitbucket local"`
	URL       string                `yaml:"url" validate:"required"`
	Branch    string                `yaml:"branch"`
	Priority  *int                  `yaml:"priority"`
	Enforce   bool                  `yaml:"enforce"`
	CacheTTL  *int                  `yaml:"cache_ttl" validate:"omitempty,gte=0"`
	Category  string                `yaml:"category"`
	Templates []TemplateDeclConfig  `yaml:"templates" validate:"dive"`
	Auth      *model.AuthDescriptor `yaml:"auth"`
}

// TemplateDeclConfig declares a template served by a source.
type TemplateDeclConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version"`
	Path    string `yaml:"path"`
	Enforce *bool  `yaml:"enforce"`
}

// SourceList is the template_sources mapping with declaration order kept.
type SourceList []SourceConfig

// UnmarshalYAML walks the mapping node so that source order survives decoding.
func (s *SourceList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("template_sources must be a mapping (line %d)", node.Line)
	}
	out := make(SourceList, 0, len(node.Content)/2)
	lines := make(map[string]int)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if first, dup := lines[key.Value]; dup {
			return fmt.Errorf("template source %q declared twice (lines %d and %d)", key.Value, first, key.Line)
		}
		lines[key.Value] = key.Line
		var sc SourceConfig
		if err := val.Decode(&sc); err != nil {
			return fmt.Errorf("template source %q: %w", key.Value, err)
		}
		sc.Name = key.Value
		out = append(out, sc)
	}
	*s = out
	return nil
}

// PolicyConfig is one entry of the policies sequence. Conditions stay raw
// here; the policy package compiles them into condition trees.
type PolicyConfig struct {
	Name          string              `yaml:"name" validate:"required"`
	Description   string              `yaml:"description"`
	Enabled       *bool               `yaml:"enabled"`
	Conditions    map[string]any      `yaml:"conditions"`
	Actions       model.PolicyActions `yaml:"actions"`
	Notifications map[string]any      `yaml:"notifications"`
}

// IsEnabled returns the enabled flag, which defaults to true.
func (p PolicyConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// PathsConfig locates the durable state files, relative to the project root.
type PathsConfig struct {
	LockFile string `yaml:"lock_file"`
	AuditLog string `yaml:"audit_log"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// ResolverConfig tunes multi-source fetching.
type ResolverConfig struct {
	FetchTimeout   time.Duration `yaml:"fetch_timeout" validate:"gte=0"`
	MaxConcurrency int           `yaml:"max_concurrency" validate:"gte=0"`
}

// CacheConfig selects the fetch cache backend.
type CacheConfig struct {
	Backend   string `yaml:"backend" validate:"omitempty,oneof=none memory redis"`
	RedisURL  string `yaml:"redis_url" validate:"required_if=Backend redis"`
	KeyPrefix string `yaml:"key_prefix"`
}

// MetricsConfig configures metrics export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the default configuration: no sources, no policies.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			LockFile: DefaultLockFile,
			AuditLog: DefaultAuditLog,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
		Resolver: ResolverConfig{
			FetchTimeout:   30 * time.Second,
			MaxConcurrency: 8,
		},
		Cache: CacheConfig{
			Backend:   "none",
			KeyPrefix: "speckit:tmpl:",
		},
		Webhooks: *webhook.DefaultConfig(),
	}
}

// Load loads configuration from path. A missing file yields the defaults.
// Any malformed entry fails the whole load with E_CONFIG_INVALID.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errclass.ErrConfigInvalid.WithMessagef("parse config: %v", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Paths.LockFile == "" {
		c.Paths.LockFile = d.Paths.LockFile
	}
	if c.Paths.AuditLog == "" {
		c.Paths.AuditLog = d.Paths.AuditLog
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = d.Cache.KeyPrefix
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks structure and names. It returns E_CONFIG_INVALID on the
// first class of problem found, listing every offending field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return errclass.ErrConfigInvalid.WithMessage(describe(verrs, c))
		}
		return errclass.ErrConfigInvalid.WithMessage(err.Error())
	}

	sources := make(map[string]bool)
	for _, sc := range c.TemplateSources {
		if err := pathutil.ValidateName(sc.Name); err != nil {
			return errclass.ErrConfigInvalid.WithMessagef("template source %q: %v", sc.Name, err)
		}
		if sources[sc.Name] {
			return errclass.ErrConfigInvalid.WithMessagef("duplicate template source %q", sc.Name)
		}
		sources[sc.Name] = true
		for _, d := range sc.Templates {
			if d.Name == model.Wildcard {
				continue
			}
			if err := pathutil.ValidateTemplateName(d.Name); err != nil {
				return errclass.ErrConfigInvalid.WithMessagef("template source %q: %v", sc.Name, err)
			}
		}
	}
	seen := make(map[string]bool)
	for i, p := range c.Policies {
		if seen[p.Name] {
			return errclass.ErrConfigInvalid.WithMessagef("policies[%d]: duplicate policy name %q", i, p.Name)
		}
		seen[p.Name] = true
		for _, name := range append(append([]string{}, p.Actions.EnforceTemplates...), p.Actions.RecommendTemplates...) {
			if err := pathutil.ValidateTemplateName(name); err != nil {
				return errclass.ErrConfigInvalid.WithMessagef("policy %q: %v", p.Name, err)
			}
		}
	}
	return nil
}

// describe renders validator errors with the source name substituted for its
// list index, e.g. "template_sources[corporate].url is required".
func describe(verrs validator.ValidationErrors, c *Config) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		ns = strings.TrimPrefix(ns, "Config.")
		for i, sc := range c.TemplateSources {
			ns = strings.Replace(ns, fmt.Sprintf("template_sources[%d]", i), fmt.Sprintf("template_sources[%s]", sc.Name), 1)
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", ns))
		case "required_if":
			msgs = append(msgs, fmt.Sprintf("%s is required when %s", ns, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", ns, fe.Param()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than or equal to %s", ns, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", ns, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// Sources converts the template_sources mapping into immutable source values
// with defaults applied, in declaration order.
func (c *Config) Sources() []model.TemplateSource {
	out := make([]model.TemplateSource, 0, len(c.TemplateSources))
	for _, sc := range c.TemplateSources {
		src := model.TemplateSource{
			Name:     sc.Name,
			Kind:     model.SourceKind(sc.Type),
			URL:      sc.URL,
			Branch:   sc.Branch,
			Priority: DefaultPriority,
			Enforce:  sc.Enforce,
			CacheTTL: DefaultCacheTTL,
			Category: sc.Category,
			Auth:     sc.Auth,
		}
		if src.Kind == "" {
			src.Kind = model.SourceGit
		}
		if src.Branch == "" {
			src.Branch = DefaultBranch
		}
		if sc.Priority != nil {
			src.Priority = *sc.Priority
		}
		if sc.CacheTTL != nil {
			src.CacheTTL = *sc.CacheTTL
		}
		for _, d := range sc.Templates {
			src.Templates = append(src.Templates, model.TemplateDecl{
				Name:    d.Name,
				Version: d.Version,
				Path:    d.Path,
				Enforce: d.Enforce,
			})
		}
		out = append(out, src)
	}
	return out
}

// ResolvePath makes p absolute against root unless it already is.
func ResolvePath(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
