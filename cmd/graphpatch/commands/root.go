package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	target     string
	actor      string
	verbose    bool
	jsonOutput bool
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "graphpatch",
		Short: "graphpatch - bulk changes to a resource graph",
		Long: `graphpatch applies many structural changes to a resource graph in one batch.

Changes are written as a patch script, one action per line:

  rename:channel id=100000000000000002 name=general-chat
  delete:role id=100000000000000010

Every batch goes through two steps:
  - plan: parse and check the script, store it as the target's pending patch
    and print a confirmation code
  - apply: confirm the code and run every action in script order`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "graphpatch.cue", "config file path")
	rootCmd.PersistentFlags().StringVarP(&opts.target, "target", "t", "", "target ID (defaults to the graph snapshot's target)")
	rootCmd.PersistentFlags().StringVar(&opts.actor, "actor", defaultActor(), "who is making the change")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newPlanCommand(opts))
	rootCmd.AddCommand(newApplyCommand(opts))
	rootCmd.AddCommand(newCancelCommand(opts))
	rootCmd.AddCommand(newStatusCommand(opts))
	rootCmd.AddCommand(newOpsCommand(opts))
	rootCmd.AddCommand(newGenerateCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newMaintainCommand(opts))

	return rootCmd
}
