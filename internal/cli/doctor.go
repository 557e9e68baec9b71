package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xuezhouyang/spec-kit-catpaw/internal/doctor"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/color"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/config"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/errclass"
)

func newDoctorCmd(g *globalFlags) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check template sources, locks and the audit log for problems",
		Long: `Check the project's governance state: unreachable local sources,
unset credentials, locks on templates no source serves, malformed audit
entries and leftover temp files. --strict also resolves every locked
template and reports drift.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, g, func(e *env) error {
				doc := doctor.New(filepath.Join(e.root, config.DirName), e.registry, e.locks, e.audit.Path(), e.resolver)
				res, err := doc.Check(cmd.Context(), strict)
				if err != nil {
					return err
				}
				if g.jsonOutput {
					if err := outputJSON(e.out, res); err != nil {
						return err
					}
				} else {
					printDoctor(e, res)
				}
				if !res.Healthy {
					return errclass.ErrUnhealthy.WithMessagef("%d findings", len(res.Findings))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "also check locked templates for drift")
	return cmd
}

func printDoctor(e *env, res *doctor.Result) {
	for _, f := range res.Findings {
		label := f.Severity
		switch f.Severity {
		case doctor.SeverityCritical, doctor.SeverityError:
			label = color.Error(label)
		case doctor.SeverityWarning:
			label = color.Warning(label)
		default:
			label = color.Dim(label)
		}
		fmt.Fprintf(e.out, "[%s] %s: %s\n", label, f.Category, f.Description)
	}
	if res.Healthy {
		fmt.Fprintln(e.out, color.Success("healthy"))
	}
}
