package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/graphpatch/pkg/registry"
	"github.com/openfroyo/graphpatch/pkg/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newMaintainCommand(opts *globalOptions) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run background upkeep until interrupted",
		Long: `Run the background upkeep a long-lived deployment needs:

  - discard pending patches older than engine.ttl
  - prune runs and audit entries older than history.retention
  - reload the operation map and policies when their files change
    (registry.watch, policy.watch)
  - serve Prometheus metrics when telemetry.metrics.listen is set

With --once the expiry sweep and history pruning run a single time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if once {
					return a.upkeep(cmd.Context(), cmd)
				}
				return a.maintain(cmd.Context())
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "sweep and prune once, then exit")

	return cmd
}

func (a *app) upkeep(ctx context.Context, cmd *cobra.Command) error {
	swept, err := a.engine.Sweep(ctx)
	if err != nil {
		return err
	}
	pruned, err := a.store.PruneHistory(ctx, time.Now().Add(-a.cfg.History.Retention))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Expired patches discarded: %d\nHistory records pruned: %d\n", swept, pruned)
	return nil
}

func (a *app) maintain(ctx context.Context) error {
	if err := a.tel.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if a.cfg.Registry.Watch {
		if _, ok := a.registrySource().(registry.FileSource); ok {
			if err := a.registry.Watch(ctx); err != nil {
				return err
			}
		} else {
			a.logger.Warn().Msg("registry.watch is set but no operation map file is configured")
		}
	}
	if a.cfg.Policy.Watch && len(a.cfg.Policy.Paths) > 0 {
		if err := a.policy.Watch(ctx, a.cfg.Policy.Paths); err != nil {
			return err
		}
	}

	a.engine.StartReaper(ctx, a.cfg.Engine.ReaperInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.pruneLoop(ctx, pruneInterval(a.cfg.History.Retention))
	})

	a.logger.Info().
		Dur("ttl", a.engine.TTL()).
		Dur("retention", a.cfg.History.Retention).
		Msg("Maintenance running")

	err := g.Wait()
	telemetry.FromContext(ctx).Info("Maintenance stopped")
	return err
}

func (a *app) pruneLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := a.store.PruneHistory(ctx, time.Now().Add(-a.cfg.History.Retention))
			if err != nil {
				a.logger.Error().Err(err).Msg("Failed to prune history")
				continue
			}
			if n > 0 {
				a.logger.Info().Int64("removed", n).Msg("Pruned history")
			}
		}
	}
}

// pruneInterval checks a few times per retention period, at most hourly.
func pruneInterval(retention time.Duration) time.Duration {
	interval := retention / 4
	if interval > time.Hour || interval <= 0 {
		interval = time.Hour
	}
	return interval
}
