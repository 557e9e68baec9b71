package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xuezhouyang/spec-kit-catpaw/internal/audit"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/color"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
)

func newAuditCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the governance audit log",
	}
	cmd.AddCommand(newAuditQueryCmd(g))
	return cmd
}

func newAuditQueryCmd(g *globalFlags) *cobra.Command {
	var eventType, since, until string
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List audit events",
		Long: `List audit events in the order they were recorded.

Filters combine with AND. Times are RFC 3339 (2026-01-02T15:04:05Z) or a
duration relative to now for --since (24h).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := audit.Filter{EventType: model.AuditEventType(eventType)}
			if eventType != "" && !f.EventType.Valid() {
				return fmt.Errorf("unknown event type %q (template_download, template_override, policy_violation)", eventType)
			}
			var err error
			if f.Start, err = parseTime(since); err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			if f.End, err = parseTime(until); err != nil {
				return fmt.Errorf("--until: %w", err)
			}
			return withEnv(cmd, g, func(e *env) error {
				events, err := e.audit.Query(f)
				if err != nil {
					return err
				}
				if g.jsonOutput {
					return outputJSON(e.out, events)
				}
				for _, ev := range events {
					fmt.Fprintf(e.out, "%s  %-18s %-10s %v\n",
						color.Dim(ev.Timestamp.Format(time.RFC3339)), color.Info(string(ev.EventType)), ev.User, ev.Action)
				}
				if len(events) == 0 {
					fmt.Fprintln(e.out, "No audit events.")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "event type filter")
	cmd.Flags().StringVar(&since, "since", "", "only events at or after this time")
	cmd.Flags().StringVar(&until, "until", "", "only events at or before this time")
	return cmd
}

// parseTime accepts RFC 3339 or a duration ago. Empty yields the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return time.Now().Add(-d), nil
}
