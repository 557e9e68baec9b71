package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xuezhouyang/spec-kit-catpaw/internal/governance"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/color"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/config"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/fsutil"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/pathutil"
)

// TemplatesDir is where init writes resolved templates, relative to the project.
const TemplatesDir = config.DirName + "/templates"

func newInitCmd(g *globalFlags) *cobra.Command {
	var (
		p       projectFlags
		noWrite bool
	)
	cmd := &cobra.Command{
		Use:   "init <project-name>",
		Short: "Initialize a project from policy-selected templates",
		Long: `Initialize a project: evaluate policies against the project's tags,
tech stack and team, resolve every enforced and recommended template,
write them to .specify/templates/ and record each download in the audit log.

Locked templates and templates that fail to resolve produce warnings;
the remaining templates are still installed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.name = args[0]
			if err := pathutil.ValidateName(p.name); err != nil {
				return err
			}
			if err := p.validate(); err != nil {
				return err
			}
			return withEnv(cmd, g, func(e *env) error {
				res, err := e.controller.InitializeProject(cmd.Context(), p.request(e.actor()))
				if err != nil {
					return err
				}
				if !noWrite {
					if err := writeTemplates(e.root, res); err != nil {
						return err
					}
				}
				if g.jsonOutput {
					return outputJSON(e.out, res)
				}
				printInit(e, p.name, res)
				return nil
			})
		},
	}
	p.register(cmd, false)
	cmd.Flags().BoolVar(&noWrite, "no-write", false, "resolve and audit without writing template files")
	return cmd
}

func writeTemplates(root string, res *governance.InitResult) error {
	for _, t := range res.Templates {
		path := filepath.Join(root, TemplatesDir, filepath.FromSlash(t.Name))
		if err := fsutil.AtomicWrite(path, t.Content(), 0644); err != nil {
			return fmt.Errorf("write template %s: %w", t.Name, err)
		}
	}
	return nil
}

func printInit(e *env, name string, res *governance.InitResult) {
	fmt.Fprintf(e.out, "Initialized project %s\n", color.Success(name))
	if len(res.Policy.PoliciesApplied) > 0 {
		fmt.Fprintf(e.out, "  Policies applied: %v\n", res.Policy.PoliciesApplied)
	}
	for _, t := range res.Templates {
		fmt.Fprintf(e.out, "  %s  %s %s\n", color.Info(t.Name), color.Source(t.Source), color.Dim(string(t.SHA256())[:12]))
	}
	if len(res.Templates) == 0 {
		fmt.Fprintln(e.out, "  No templates selected by policy.")
	}
	for _, w := range res.Warnings {
		warn(e.out, w)
	}
}
