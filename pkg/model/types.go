package model

// SourceKind identifies the repository-hosting backend of a template source.
type SourceKind string

const (
	SourceGit       SourceKind = "git"
	SourceGitHub    SourceKind = "github"
	SourceGitLab    SourceKind = "gitlab"
	SourceBitbucket SourceKind = "bitbucket"
	SourceLocal     SourceKind = "local"
)

// HashValue is a SHA-256 hash stored as hex string.
type HashValue string

// MergedOrigin is the origin tag of a template produced by merging several sources.
const MergedOrigin = "merged"

// Wildcard matches every template name in a source declaration.
const Wildcard = "*"

// ProjectContext is the declared context a policy condition is evaluated against
// (project_name, project_tags, tech_stack, team, ...).
type ProjectContext map[string]any

// Context keys populated by project initialization.
const (
	ContextProjectName = "project_name"
	ContextProjectTags = "project_tags"
	ContextTechStack   = "tech_stack"
	ContextTeam        = "team"
)
