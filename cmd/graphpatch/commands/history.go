package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/openfroyo/graphpatch/pkg/engine"
	"github.com/openfroyo/graphpatch/pkg/stores"
	"github.com/spf13/cobra"
)

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past runs and the audit trail",
	}

	cmd.AddCommand(newHistoryRunsCommand(opts))
	cmd.AddCommand(newHistoryShowCommand(opts))
	cmd.AddCommand(newHistoryAuditCommand(opts))
	cmd.AddCommand(newHistoryPruneCommand(opts))

	return cmd
}

func newHistoryRunsCommand(opts *globalOptions) *cobra.Command {
	var (
		limit     int
		offset    int
		allTarget bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List applied patches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				filter := stores.RunFilter{Limit: limit, Offset: offset}
				if !allTarget {
					target, err := a.targetID()
					if err != nil {
						return err
					}
					filter.TargetID = target
				}

				runs, err := a.store.ListRuns(cmd.Context(), filter)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return printJSON(out, runs)
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded.")
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN\tTARGET\tSTATUS\tOK\tFAILED\tACTOR\tCOMPLETED")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
						r.RunID, r.TargetID, r.Status, r.SuccessCount, r.FailureCount,
						describeActor(r.Actor), r.CompletedAt.Local().Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many runs")
	cmd.Flags().BoolVar(&allTarget, "all", false, "include every target")

	return cmd
}

func newHistoryShowCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with every action result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				run, err := a.store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return printJSON(out, run)
				}

				printApply(out, run)
				if run.Reason != "" {
					fmt.Fprintf(out, "Reason: %s\n", run.Reason)
				}
				fmt.Fprintf(out, "Started %s, took %s\n\n",
					run.StartedAt.Local().Format(time.RFC3339), run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "LINE\tHANDLER\tRESULT\tAFFECTED\tDURATION")
				for _, res := range run.Results {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", res.Line, res.HandlerID, describeResult(res), res.AffectedID, res.Duration.Round(time.Microsecond))
				}
				return tw.Flush()
			})
		},
	}
}

func describeResult(res engine.ActionResult) string {
	switch {
	case !res.Success:
		return "failed: " + res.Error
	case res.Changed:
		return "changed"
	default:
		return "unchanged"
	}
}

func newHistoryAuditCommand(opts *globalOptions) *cobra.Command {
	var (
		eventType string
		since     time.Duration
		limit     int
		allTarget bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit trail entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				filter := stores.EventFilter{Type: engine.EventType(eventType), Limit: limit}
				if since > 0 {
					filter.Since = time.Now().Add(-since)
				}
				if !allTarget {
					target, err := a.targetID()
					if err != nil {
						return err
					}
					filter.TargetID = target
				}

				entries, err := a.store.ListEvents(cmd.Context(), filter)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return printJSON(out, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(out, "No audit entries.")
					return nil
				}
				for _, e := range entries {
					fmt.Fprintf(out, "%s  %-18s %s  %s: %s\n",
						e.Timestamp.Local().Format(time.RFC3339), e.Type, e.TargetID, describeActor(e.Actor), e.Message)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "only entries of this type, e.g. apply.completed")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this, e.g. 24h")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	cmd.Flags().BoolVar(&allTarget, "all", false, "include every target")

	return cmd
}

func newHistoryPruneCommand(opts *globalOptions) *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs and audit entries past the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if retention == 0 {
					retention = a.cfg.History.Retention
				}
				if retention <= 0 {
					return fmt.Errorf("retention must be positive")
				}

				removed, err := a.store.PruneHistory(cmd.Context(), time.Now().Add(-retention))
				if err != nil {
					return err
				}
				a.logger.Info().Int64("removed", removed).Dur("retention", retention).Msg("Pruned history")
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s older than %s.\n", plural(int(removed), "record"), retention)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&retention, "retention", 0, "override history.retention from the configuration")

	return cmd
}
