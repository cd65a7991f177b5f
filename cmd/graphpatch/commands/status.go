package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/graphpatch/pkg/engine"
	"github.com/spf13/cobra"
)

func newStatusCommand(opts *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the pending patch",
		Long: `Show the target's pending patch: what it contains, who planned it and when
it expires. With --all every pending patch in the database is listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				out := cmd.OutOrStdout()

				if all {
					patches, err := a.store.ListPending(cmd.Context())
					if err != nil {
						return err
					}
					if opts.jsonOutput {
						return printJSON(out, patches)
					}
					if len(patches) == 0 {
						fmt.Fprintln(out, "No pending patches.")
					}
					for _, p := range patches {
						state := "pending"
						if p.Expired(time.Now(), a.engine.TTL()) {
							state = "expired"
						}
						fmt.Fprintf(out, "%s  %s  %s  %s\n", p.TargetID, plural(len(p.Actions), "action"), state, p.CreatedAt.Local().Format(time.RFC3339))
					}
					return nil
				}

				target, err := a.targetID()
				if err != nil {
					return err
				}
				status, err := a.engine.Status(cmd.Context(), target)
				if errors.Is(err, engine.ErrNoPendingPatch) && !opts.jsonOutput {
					fmt.Fprintf(out, "No patch is pending for target %s.\n", target)
					return nil
				}
				if err != nil {
					return err
				}

				if opts.jsonOutput {
					return printJSON(out, status)
				}
				printStatus(cmd, status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "list pending patches of every target")

	return cmd
}

func printStatus(cmd *cobra.Command, status *engine.PatchStatus) {
	out := cmd.OutOrStdout()
	p := status.Patch

	fmt.Fprint(out, engine.RenderSummary(p.TargetID, p.Actions))
	fmt.Fprintf(out, "\nPlanned by %s at %s (plan %s)\n", describeActor(p.Actor), p.CreatedAt.Local().Format(time.RFC3339), p.PlanID)
	if status.Expired {
		fmt.Fprintln(out, "Expired: plan it again to apply.")
		return
	}
	fmt.Fprintf(out, "Expires at %s\n", status.ExpiresAt.Local().Format(time.RFC3339))
}

func describeActor(actor string) string {
	if actor == "" {
		return "unknown"
	}
	return actor
}
