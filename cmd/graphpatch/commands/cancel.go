package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Discard the pending patch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				target, err := a.targetID()
				if err != nil {
					return err
				}

				cancelled, err := a.engine.Cancel(cmd.Context(), target, opts.actor)
				if err != nil {
					return err
				}

				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]interface{}{"target_id": target, "cancelled": cancelled})
				}
				if cancelled {
					fmt.Fprintf(cmd.OutOrStdout(), "Cancelled the pending patch for target %s.\n", target)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "No patch was pending for target %s.\n", target)
				}
				return nil
			})
		},
	}
}
