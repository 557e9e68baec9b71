package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/color"
)

func newPolicyCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Evaluate governance policies",
	}
	cmd.AddCommand(newPolicyEvalCmd(g))
	return cmd
}

func newPolicyEvalCmd(g *globalFlags) *cobra.Command {
	var p projectFlags
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Show which policies match a project context",
		Long: `Evaluate every enabled policy against the given project context and
print the enforced and recommended templates. With --override-template
also report whether overriding that template would be blocked or gated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := p.validate(); err != nil {
				return err
			}
			overrideTmpl, _ := cmd.Flags().GetString("override-template")
			return withEnv(cmd, g, func(e *env) error {
				pctx := p.context()
				res := e.policies.Apply(pctx)
				out := map[string]any{"context": pctx, "result": res}
				var decision any
				if overrideTmpl != "" {
					if d := e.policies.CheckOverrideApproval(overrideTmpl, "", "", pctx); d != nil {
						decision = d
					}
					out["override"] = decision
				}
				if g.jsonOutput {
					return outputJSON(e.out, out)
				}
				fmt.Fprintf(e.out, "Policies applied:      %v\n", res.PoliciesApplied)
				fmt.Fprintf(e.out, "Enforced templates:    %v\n", res.EnforcedTemplates)
				fmt.Fprintf(e.out, "Recommended templates: %v\n", res.RecommendedTemplates)
				if overrideTmpl != "" {
					if decision == nil {
						fmt.Fprintf(e.out, "Override of %s: %s\n", overrideTmpl, color.Success("allowed"))
					} else {
						fmt.Fprintf(e.out, "Override of %s: %s\n", overrideTmpl, color.Warning(fmt.Sprintf("%+v", decision)))
					}
				}
				return nil
			})
		},
	}
	p.register(cmd, true)
	cmd.Flags().String("override-template", "", "also check override approval for this template")
	return cmd
}
