package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/color"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/errclass"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/fsutil"
)

func newTemplateCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Resolve templates and inspect their sources",
	}
	cmd.AddCommand(newTemplateResolveCmd(g), newTemplateSourcesCmd(g))
	return cmd
}

func newTemplateResolveCmd(g *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "resolve <template>",
		Short: "Resolve a template and print its content",
		Long: `Resolve a template from its sources. An enforced source wins outright;
otherwise every source is fetched and the results are merged in
corporate, department, team order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, g, func(e *env) error {
				tmpl, err := e.resolver.Resolve(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, errclass.ErrTemplateNotFound) {
						return fmt.Errorf("%w\n%s", err, suggestTemplates(args[0], e.registry))
					}
					return err
				}
				if output != "" {
					if err := fsutil.AtomicWrite(output, tmpl.Content(), 0644); err != nil {
						return err
					}
				}
				if g.jsonOutput {
					return outputJSON(e.out, tmpl)
				}
				if output != "" {
					fmt.Fprintf(e.out, "Wrote %s from %s to %s\n", color.Info(tmpl.Name), tmpl.Source, output)
					return nil
				}
				_, err = e.out.Write(tmpl.Content())
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write content to this file")
	return cmd
}

type sourceRow struct {
	Name     string `json:"name"`
	Kind     string `json:"type"`
	URL      string `json:"url"`
	Priority int    `json:"priority"`
	Enforce  bool   `json:"enforce"`
	Path     string `json:"path"`
}

func newTemplateSourcesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sources <template>",
		Short: "List the sources that serve a template, in priority order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withEnv(cmd, g, func(e *env) error {
				rows := []sourceRow{}
				for _, s := range e.registry.SourcesFor(name) {
					rows = append(rows, sourceRow{
						Name:     s.Name,
						Kind:     string(s.Kind),
						URL:      s.URL,
						Priority: s.Priority,
						Enforce:  s.EnforcesTemplate(name),
						Path:     s.TemplatePath(name),
					})
				}
				if g.jsonOutput {
					return outputJSON(e.out, rows)
				}
				if len(rows) == 0 {
					fmt.Fprintf(e.out, "No source declares %s.\n", name)
					return nil
				}
				for _, r := range rows {
					flag := ""
					if r.Enforce {
						flag = color.Warning(" [enforced]")
					}
					fmt.Fprintf(e.out, "%3d  %s%s  %s (%s)\n", r.Priority, color.Source(r.Name), flag, r.URL, r.Path)
				}
				return nil
			})
		},
	}
}
