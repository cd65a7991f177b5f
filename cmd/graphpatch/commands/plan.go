package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/openfroyo/graphpatch/pkg/engine"
	"github.com/openfroyo/graphpatch/pkg/telemetry"
	"github.com/spf13/cobra"
)

func newPlanCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <script|->",
		Short: "Plan a patch script",
		Long: `Parse a patch script and store it as the target's pending patch.

The plan:
  - Parses every line and reports all errors at once
  - Evaluates plan policies
  - Replaces any patch already pending for the target
  - Prints a summary and the confirmation code 'apply' needs`,
		Example: `  # Plan a script file
  graphpatch plan cleanup.patch

  # Plan a script from stdin for a specific target
  graphpatch plan - --target 900000000000000000 < cleanup.patch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readScript(args[0])
			if err != nil {
				return err
			}

			return withApp(cmd, opts, func(a *app) error {
				target, err := a.targetID()
				if err != nil {
					return err
				}

				logger := telemetry.FromContext(cmd.Context()).WithTargetID(target)
				logger.WithField("script", args[0]).Debug("Planning")

				res, err := a.engine.Plan(cmd.Context(), target, src, engine.PlanOptions{Actor: opts.actor})
				if err != nil {
					return err
				}
				logger.WithPlanID(res.PlanID).Debug("Plan stored")

				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				printPlan(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}

	return cmd
}

func printPlan(out io.Writer, res *engine.PlanResult) {
	fmt.Fprint(out, res.Summary)

	if len(res.Warnings) > 0 || len(res.PolicyWarnings) > 0 {
		fmt.Fprintln(out, "\nWarnings:")
		for _, w := range res.Warnings {
			fmt.Fprintln(out, "  "+w.String())
		}
		for _, v := range res.PolicyWarnings {
			fmt.Fprintln(out, "  "+v.String())
		}
	}

	if res.Replaced {
		fmt.Fprintln(out, "\nThis plan replaced the patch that was pending for this target.")
	}

	flag := ""
	if res.ContainsDestructive {
		flag = " --allow-destructive"
	}
	fmt.Fprintf(out, "\nConfirmation code: %s (expires %s)\n", res.Code, res.ExpiresAt.Local().Format(time.Kitchen))
	fmt.Fprintf(out, "Run: graphpatch apply %s%s\n", res.Code, flag)
}
