package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/openfroyo/graphpatch/pkg/config"
	"github.com/openfroyo/graphpatch/pkg/graph"
	"github.com/openfroyo/graphpatch/pkg/handlers"
	"github.com/openfroyo/graphpatch/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInitCommand(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a graphpatch workspace",
		Long: `Initialize a workspace in the current directory.

This command:
  - Writes a configuration file with the default settings
  - Creates the SQLite database and runs migrations
  - Creates an empty graph snapshot for --target when none exists`,
		Example: `  # Initialize a workspace for one target
  graphpatch init --target 900000000000000000

  # Overwrite an existing configuration file
  graphpatch init --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			log.Debug().Str("config", opts.configPath).Bool("force", force).Msg("Initializing workspace")

			if _, err := os.Stat(opts.configPath); err == nil && !force {
				fmt.Fprintf(out, "• Keeping existing config: %s\n", opts.configPath)
			} else {
				if err := os.WriteFile(opts.configPath, []byte(config.Template), 0o644); err != nil {
					return fmt.Errorf("failed to write config: %w", err)
				}
				fmt.Fprintf(out, "✓ Wrote config: %s\n", opts.configPath)
			}

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			store, err := stores.Open(ctx, stores.Config{Path: cfg.Database.Path})
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			if err := store.Close(); err != nil {
				return fmt.Errorf("failed to close database: %w", err)
			}
			fmt.Fprintf(out, "✓ Initialized database: %s\n", cfg.Database.Path)

			_, statErr := os.Stat(cfg.Graph.Snapshot)
			switch {
			case statErr == nil:
				fmt.Fprintf(out, "• Keeping existing graph snapshot: %s\n", cfg.Graph.Snapshot)
			case !errors.Is(statErr, os.ErrNotExist):
				return fmt.Errorf("failed to check graph snapshot: %w", statErr)
			case opts.target == "":
				fmt.Fprintln(out, "• No graph snapshot created (pass --target to create one)")
			case !handlers.ValidSnowflake(opts.target):
				return fmt.Errorf("target %q is not a 17-20 digit identifier", opts.target)
			default:
				if err := graph.NewMemory(opts.target).SaveFile(cfg.Graph.Snapshot); err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Created graph snapshot for target %s: %s\n", opts.target, cfg.Graph.Snapshot)
			}

			fmt.Fprintln(out, "\nNext: write a patch script and run `graphpatch plan <script>`.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
