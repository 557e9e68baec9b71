package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xuezhouyang/spec-kit-catpaw/internal/integrity"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/color"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

func newLockCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Manage template version locks",
	}
	cmd.AddCommand(newLockSetCmd(g), newLockReleaseCmd(g), newLockStatusCmd(g))
	return cmd
}

func newLockSetCmd(g *globalFlags) *cobra.Command {
	var version, hash, file, reason, expires string
	cmd := &cobra.Command{
		Use:   "set <template>",
		Short: "Lock a template to a version and content hash",
		Long: `Lock a template. The hash is taken from --sha256, from the content of
--file, or by resolving the template from its sources.

--expires accepts a duration (72h) or an RFC 3339 time. An expired lock
is removed the next time it is checked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			expiresAt, err := parseExpiry(expires)
			if err != nil {
				return err
			}
			return withEnv(cmd, g, func(e *env) error {
				h := model.HashValue(hash)
				switch {
				case h != "":
				case file != "":
					if h, err = integrity.HashFile(file); err != nil {
						return err
					}
				default:
					tmpl, err := e.resolver.Resolve(cmd.Context(), name)
					if err != nil {
						return err
					}
					h = tmpl.SHA256()
					if version == "" {
						version = tmpl.Version
					}
				}
				rec, err := e.locks.Lock(name, version, h, e.actor(), reason, expiresAt)
				if err != nil {
					return err
				}
				if g.jsonOutput {
					return outputJSON(e.out, map[string]any{"template": name, "lock": rec})
				}
				fmt.Fprintf(e.out, "Locked %s at version %s (%s)\n", color.Info(name), version, color.Dim(string(h)))
				if rec.ExpiresAt != nil {
					fmt.Fprintf(e.out, "  Expires: %s\n", rec.ExpiresAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&version, "version", "", "locked version")
	f.StringVar(&hash, "sha256", "", "content hash to pin")
	f.StringVar(&file, "file", "", "compute the hash from this file")
	f.StringVar(&reason, "reason", "", "why the template is locked")
	f.StringVar(&expires, "expires", "", "expiry (duration or RFC 3339 time)")
	cmd.MarkFlagsMutuallyExclusive("sha256", "file")
	return cmd
}

func parseExpiry(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("--expires: invalid duration or time %q", s)
	}
	t := time.Now().Add(d)
	return &t, nil
}

func newLockReleaseCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "release <template>",
		Short: "Remove a template lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, g, func(e *env) error {
				if err := e.locks.Unlock(args[0]); err != nil {
					return err
				}
				if g.jsonOutput {
					return outputJSON(e.out, map[string]any{"template": args[0], "locked": false})
				}
				fmt.Fprintf(e.out, "Released lock on %s\n", color.Info(args[0]))
				return nil
			})
		},
	}
}

type lockStatus struct {
	Name   string            `json:"name"`
	Locked bool              `json:"locked"`
	Lock   *model.Lock       `json:"lock,omitempty"`
	Drift  *integrity.Report `json:"drift,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func newLockStatusCmd(g *globalFlags) *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "status [template]",
		Short: "Show template locks",
		Long: `Show one lock, or all active locks. With --verify each locked template
is resolved and its content hash compared against the lock.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, g, func(e *env) error {
				var statuses []lockStatus
				if len(args) == 1 {
					rec, err := e.locks.Info(args[0])
					if err != nil {
						return err
					}
					statuses = append(statuses, lockStatus{Name: args[0], Locked: rec != nil, Lock: rec})
				} else {
					for _, entry := range e.locks.List() {
						rec := entry.Lock
						statuses = append(statuses, lockStatus{Name: entry.Name, Locked: true, Lock: &rec})
					}
				}
				if verify {
					for i := range statuses {
						s := &statuses[i]
						if !s.Locked {
							continue
						}
						tmpl, err := e.resolver.Resolve(cmd.Context(), s.Name)
						if err != nil {
							s.Error = err.Error()
							continue
						}
						report := integrity.Check(tmpl, s.Lock)
						s.Drift = &report
					}
				}
				if g.jsonOutput {
					return outputJSON(e.out, statuses)
				}
				printLockStatus(e, statuses)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "resolve locked templates and check for drift")
	return cmd
}

func printLockStatus(e *env, statuses []lockStatus) {
	if len(statuses) == 0 {
		fmt.Fprintln(e.out, "No active locks.")
		return
	}
	for _, s := range statuses {
		if !s.Locked {
			fmt.Fprintf(e.out, "%s: %s\n", color.Info(s.Name), "unlocked")
			continue
		}
		fmt.Fprintf(e.out, "%s: locked at %s by %s (%s)\n",
			color.Info(s.Name), s.Lock.Version, s.Lock.LockedBy, s.Lock.Reason)
		if s.Lock.ExpiresAt != nil {
			fmt.Fprintf(e.out, "  Expires: %s\n", s.Lock.ExpiresAt.Format(time.RFC3339))
		}
		switch {
		case s.Error != "":
			warn(e.out, s.Error)
		case s.Drift != nil && s.Drift.Drifted:
			fmt.Fprintf(e.out, "  %s resolved %s from %s\n", color.Error("drifted:"), s.Drift.ActualHash, s.Drift.Source)
		case s.Drift != nil:
			fmt.Fprintf(e.out, "  %s\n", color.Success("matches lock"))
		}
	}
}
