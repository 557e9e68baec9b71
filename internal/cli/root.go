package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xuezhouyang/spec-kit-catpaw/pkg/color"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	dir        string
	configPath string
	user       string
	jsonOutput bool
	verbose    bool
	noColor    bool
}

// NewRootCmd builds the speckit command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "speckit",
		Short: "speckit - multi-source template governance",
		Long: `speckit resolves spec templates from several prioritized sources,
applies organization policies to a project's context, pins template
versions with locks, and records every decision in an append-only audit log.

State lives under .specify/ in the project directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.Init(g.noColor)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.dir, "dir", "C", ".", "project directory")
	pf.StringVar(&g.configPath, "config", "", "config file (default <dir>/.specify/config.yaml)")
	pf.StringVar(&g.user, "user", "", "actor recorded in the audit log (default OS user)")
	pf.BoolVar(&g.jsonOutput, "json", false, "output in JSON format")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&g.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newInitCmd(g),
		newOverrideCmd(g),
		newAuditCmd(g),
		newLockCmd(g),
		newTemplateCmd(g),
		newPolicyCmd(g),
		newConfigCmd(g),
		newDoctorCmd(g),
		newCompletionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmtErr("%v", err)
		os.Exit(1)
	}
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fmtErr(format string, args ...any) {
	prefix := "speckit: "
	if color.Enabled() {
		prefix = color.Error("speckit:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}

func warn(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", color.Warning("warning:"), msg)
}
