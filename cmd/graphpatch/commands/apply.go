package commands

import (
	"fmt"
	"io"

	"github.com/openfroyo/graphpatch/pkg/engine"
	"github.com/openfroyo/graphpatch/pkg/telemetry"
	"github.com/spf13/cobra"
)

// maxListedFailures caps the failures printed after an apply.
const maxListedFailures = 10

func newApplyCommand(opts *globalOptions) *cobra.Command {
	var (
		allowDestructive bool
		reason           string
	)

	cmd := &cobra.Command{
		Use:   "apply <code>",
		Short: "Apply the pending patch",
		Long: `Apply the target's pending patch after confirming its code.

The patch is checked in order:
  - a patch is pending for the target
  - it has not expired
  - the confirmation code matches
  - --allow-destructive is set when it deletes anything

Once the checks pass the patch is consumed and every action runs in script
order. A failing action does not stop the ones after it.`,
		Example: `  # Apply with the code printed by 'plan'
  graphpatch apply K7QP2M

  # Apply a patch that deletes channels, with an audit reason
  graphpatch apply K7QP2M --allow-destructive --reason "archive cleanup"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				target, err := a.targetID()
				if err != nil {
					return err
				}

				logger := telemetry.FromContext(cmd.Context()).WithTargetID(target)
				logger.WithField("allow_destructive", allowDestructive).Debug("Applying")

				res, err := a.engine.Apply(cmd.Context(), target, args[0], engine.ApplyOptions{
					AllowDestructive: allowDestructive,
					Reason:           reason,
					Actor:            opts.actor,
				})
				if err != nil {
					return err
				}

				logger = logger.WithPlanID(res.PlanID).WithRunID(res.RunID)
				if err := a.saveGraph(); err != nil {
					logger.WithError(err).Error("Failed to save graph snapshot")
					return fmt.Errorf("patch applied but the graph snapshot could not be saved: %w", err)
				}
				logger.Infof("Saved graph snapshot %s", a.cfg.Graph.Snapshot)

				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				printApply(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&allowDestructive, "allow-destructive", false, "allow a patch with destructive actions")
	cmd.Flags().StringVar(&reason, "reason", "", "audit reason passed with every change")

	return cmd
}

func printApply(out io.Writer, res *engine.ApplyResult) {
	total := res.SuccessCount + res.FailureCount
	fmt.Fprintf(out, "Applied %d of %s to target %s (%s, run %s)\n",
		res.SuccessCount, plural(total, "action"), res.TargetID, res.Status, res.RunID)

	failures := res.Failures(maxListedFailures)
	if len(failures) == 0 {
		return
	}

	fmt.Fprintln(out, "\nFailures:")
	for _, f := range failures {
		fmt.Fprintf(out, "  line %d (%s): %s\n", f.Line, f.HandlerID, f.Error)
	}
	if more := res.FailureCount - len(failures); more > 0 {
		fmt.Fprintf(out, "  ... and %d more\n", more)
	}
}
