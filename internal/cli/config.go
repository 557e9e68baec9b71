package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/color"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the governance configuration",
		Long: `Inspect the governance configuration stored in .specify/config.yaml.

The file holds template_sources (an ordered mapping of source name to
source), policies (an ordered list; order matters for override checks),
and the paths, logging, resolver, cache, webhooks and metrics sections.`,
	}
	cmd.AddCommand(newConfigValidateCmd(g))
	return cmd
}

func newConfigValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, including policy conditions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, g, func(e *env) error {
				summary := map[string]any{
					"valid":    true,
					"sources":  len(e.cfg.TemplateSources),
					"policies": len(e.cfg.Policies),
				}
				if g.jsonOutput {
					return outputJSON(e.out, summary)
				}
				fmt.Fprintf(e.out, "%s %d sources, %d policies\n",
					color.Success("configuration valid:"), len(e.cfg.TemplateSources), len(e.cfg.Policies))
				return nil
			})
		},
	}
}
