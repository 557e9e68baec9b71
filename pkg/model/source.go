package model

// TemplateDecl declares one template (or the wildcard "*") a source can serve.
type TemplateDecl struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Enforce *bool  `json:"enforce,omitempty" yaml:"enforce,omitempty"`
}

// Matches reports whether the declaration covers templateName.
func (d TemplateDecl) Matches(templateName string) bool {
	return d.Name == Wildcard || d.Name == templateName
}

// AuthDescriptor tells a fetcher how to authenticate against a source.
// Secrets are never stored inline; TokenEnv names the environment variable.
type AuthDescriptor struct {
	Type     string `json:"type" yaml:"type"`
	TokenEnv string `json:"token_env,omitempty" yaml:"token_env,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
}

// TemplateSource is a named provider of templates. Immutable after config load.
type TemplateSource struct {
	Name      string          `json:"name"`
	Kind      SourceKind      `json:"type"`
	URL       string          `json:"url"`
	Branch    string          `json:"branch"`
	Priority  int             `json:"priority"`
	Enforce   bool            `json:"enforce"`
	CacheTTL  int             `json:"cache_ttl"`
	Category  string          `json:"category,omitempty"`
	Templates []TemplateDecl  `json:"templates"`
	Auth      *AuthDescriptor `json:"auth,omitempty"`
}

// Declaration returns the first declaration covering templateName.
func (s *TemplateSource) Declaration(templateName string) (TemplateDecl, bool) {
	for _, d := range s.Templates {
		if d.Matches(templateName) {
			return d, true
		}
	}
	return TemplateDecl{}, false
}

// Serves reports whether any declaration covers templateName.
func (s *TemplateSource) Serves(templateName string) bool {
	_, ok := s.Declaration(templateName)
	return ok
}

// EnforcesTemplate returns the effective enforce flag for templateName.
// A declaration-level flag overrides the source-level flag.
func (s *TemplateSource) EnforcesTemplate(templateName string) bool {
	d, ok := s.Declaration(templateName)
	if ok && d.Enforce != nil {
		return *d.Enforce
	}
	return s.Enforce
}

// MergeCategory returns the category used to order merged content.
func (s *TemplateSource) MergeCategory() string {
	if s.Category != "" {
		return s.Category
	}
	return s.Name
}

// TemplatePath returns the path of templateName inside the source.
// For wildcard declarations the declared path is a directory prefix.
func (s *TemplateSource) TemplatePath(templateName string) string {
	d, ok := s.Declaration(templateName)
	if !ok || d.Path == "" {
		return templateName
	}
	if d.Name == Wildcard {
		return d.Path + "/" + templateName
	}
	return d.Path
}
