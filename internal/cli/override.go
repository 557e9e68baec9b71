package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xuezhouyang/spec-kit-catpaw/internal/governance"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/color"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

func newOverrideCmd(g *globalFlags) *cobra.Command {
	var (
		p         projectFlags
		newSource string
		reason    string
	)
	cmd := &cobra.Command{
		Use:   "override <template>",
		Short: "Request a template override from another source",
		Long: `Request that a template be taken from a different source.

The override is refused when the template is locked, blocked when a
matching policy forbids overrides (recorded as a policy violation), and
held when a policy requires approval. Policies are checked in
configuration order and the first one that blocks or gates wins.

A successful override is recorded in the audit log; the source
configuration itself is not modified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := p.validate(); err != nil {
				return err
			}
			return withEnv(cmd, g, func(e *env) error {
				res, err := e.controller.OverrideTemplate(cmd.Context(), governance.OverrideRequest{
					Template:  args[0],
					NewSource: newSource,
					Reason:    reason,
					Actor:     e.actor(),
					Context:   p.context(),
				})
				if err != nil {
					return err
				}
				if g.jsonOutput {
					if err := outputJSON(e.out, res); err != nil {
						return err
					}
				} else {
					printOverride(e, res)
				}
				return res.Err()
			})
		},
	}
	p.register(cmd, true)
	cmd.Flags().StringVar(&newSource, "source", "", "source to take the template from")
	cmd.Flags().StringVar(&reason, "reason", "", "justification recorded in the audit log")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func printOverride(e *env, res *governance.OverrideResult) {
	switch res.Outcome {
	case model.OutcomeTemplateLocked:
		fmt.Fprintf(e.out, "%s %s is locked at version %s by %s: %s\n",
			color.Error("refused:"), res.Template, res.Lock.Version, res.Lock.LockedBy, res.Lock.Reason)
	case model.OutcomePolicyBlocked:
		fmt.Fprintf(e.out, "%s %s (policy %s)\n", color.Error("blocked:"), res.Reason, res.Policy)
	case model.OutcomeApprovalRequired:
		fmt.Fprintf(e.out, "%s %s\n", color.Warning("approval required:"), res.Reason)
		fmt.Fprintf(e.out, "  Approver roles: %v\n", res.ApproverRoles)
	default:
		fmt.Fprintf(e.out, "Override recorded: %s %s -> %s\n",
			color.Info(res.Template), res.FromSource, color.Success(res.ToSource))
	}
}
