package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [script]",
		Short: "Check configuration, operation map and optionally a script",
		Long: `Validate the configuration and the operation map. When a script is given it
is also parsed against the operation map and every diagnostic is printed.
Nothing is stored.`,
		Example: `  # Validate configuration and operation map
  graphpatch validate

  # Validate a patch script
  graphpatch validate cleanup.patch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				out := cmd.OutOrStdout()
				table := a.registry.Snapshot()

				fmt.Fprintf(out, "✓ Configuration: %s\n", describeSource(a.cfg.Source))
				fmt.Fprintf(out, "✓ Operation map: %s (%s)\n", table.Source(), plural(table.Len(), "operation"))
				for _, line := range table.Skipped() {
					fmt.Fprintf(out, "  warning: line %d is malformed and was skipped\n", line)
				}
				fmt.Fprintf(out, "✓ Policies: %d loaded\n", len(a.policy.ListPolicies()))

				if len(args) == 0 {
					return nil
				}

				src, err := readScript(args[0])
				if err != nil {
					return err
				}
				res := a.engine.Parse(src)

				if opts.jsonOutput {
					return printJSON(out, res)
				}
				for _, d := range res.Errors {
					fmt.Fprintln(out, "  error: "+d.String())
				}
				for _, d := range res.Warnings {
					fmt.Fprintln(out, "  warning: "+d.String())
				}
				if !res.OK() {
					return fmt.Errorf("script has %s", plural(len(res.Errors), "error"))
				}
				fmt.Fprintf(out, "✓ Script: %s\n", plural(len(res.Actions), "action"))
				return nil
			})
		},
	}

	return cmd
}

func describeSource(source string) string {
	if source == "" {
		return "defaults"
	}
	return source
}
