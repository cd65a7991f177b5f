package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/openfroyo/graphpatch/pkg/config"
	"github.com/openfroyo/graphpatch/pkg/engine"
	"github.com/openfroyo/graphpatch/pkg/graph"
	"github.com/openfroyo/graphpatch/pkg/handlers"
	"github.com/openfroyo/graphpatch/pkg/policy"
	"github.com/openfroyo/graphpatch/pkg/registry"
	"github.com/openfroyo/graphpatch/pkg/stores"
	"github.com/openfroyo/graphpatch/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds the components one command invocation works with.
type app struct {
	opts     *globalOptions
	cfg      *config.Config
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	store    *stores.SQLiteStore
	catalog  *handlers.Catalog
	registry *registry.Registry
	policy   *policy.Engine
	graph    *graph.Memory
	engine   *engine.Engine
}

// openApp loads the configuration and wires every component.
func openApp(ctx context.Context, opts *globalOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{
		opts:    opts,
		cfg:     cfg,
		tel:     tel,
		logger:  tel.Logger.Zerolog(),
		catalog: handlers.Builtin(),
	}

	if err := a.open(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	store, err := stores.Open(ctx, stores.Config{Path: a.cfg.Database.Path})
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", a.cfg.Database.Path, err)
	}
	a.store = store

	reg, err := registry.New(ctx, a.registrySource(), a.catalog,
		registry.WithLogger(a.logger),
		registry.WithReloadHook(a.recordReload),
	)
	if err != nil {
		return fmt.Errorf("failed to load operation map: %w", err)
	}
	a.registry = reg

	pol, err := policy.NewEngine(a.logger, policy.WithLimits(policy.Limits{MaxDestructive: a.cfg.Policy.MaxDestructive}))
	if err != nil {
		return err
	}
	if len(a.cfg.Policy.Paths) > 0 {
		if err := pol.LoadPolicies(ctx, a.cfg.Policy.Paths); err != nil {
			return err
		}
	}
	for _, name := range a.cfg.Policy.Disabled {
		if err := pol.DisablePolicy(name); err != nil {
			return err
		}
	}
	a.policy = pol

	provider := graph.NewMemoryProvider()
	g, err := graph.LoadFile(a.cfg.Graph.Snapshot)
	switch {
	case err == nil:
		a.graph = g
		provider.Add(g)
	case errors.Is(err, os.ErrNotExist):
		a.logger.Debug().Str("path", a.cfg.Graph.Snapshot).Msg("No graph snapshot")
	default:
		return err
	}

	eng, err := engine.New(reg, a.catalog, provider,
		engine.WithStore(store),
		engine.WithRecorder(store),
		engine.WithPolicy(pol),
		engine.WithLogger(a.logger),
		engine.WithMetrics(a.tel.Metrics),
		engine.WithTracer(a.tel.Tracer),
		engine.WithTTL(a.cfg.Engine.TTL),
		engine.WithMaxActions(a.cfg.Engine.MaxActions),
		engine.WithMaxDisplayErrors(a.cfg.Engine.MaxDisplayErrors),
		engine.WithCodeLength(a.cfg.Engine.CodeLength),
	)
	if err != nil {
		return err
	}
	a.engine = eng
	return nil
}

func (a *app) registrySource() registry.Source {
	if a.cfg.Registry.Operations != "" {
		return registry.FileSource{Path: a.cfg.Registry.Operations}
	}
	return registry.StaticSource{Label: "builtin", Data: handlers.DefaultOperations}
}

func (a *app) recordReload(table *registry.Table, err error) {
	if err != nil {
		a.tel.Metrics.RecordRegistryReload("rejected", 0)
		return
	}
	a.tel.Metrics.RecordRegistryReload("loaded", table.Len())
}

// targetID returns the --target flag or the snapshot's target.
func (a *app) targetID() (string, error) {
	if a.opts.target != "" {
		return a.opts.target, nil
	}
	if a.graph != nil {
		return a.graph.TargetID(), nil
	}
	return "", fmt.Errorf("no target: pass --target or create %s", a.cfg.Graph.Snapshot)
}

// saveGraph writes the graph back to its snapshot file.
func (a *app) saveGraph() error {
	if a.graph == nil {
		return nil
	}
	return a.graph.SaveFile(a.cfg.Graph.Snapshot)
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.tel.Logger.WithError(err).Warn("Failed to close database")
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.tel.Logger.WithError(err).Warn("Failed to shut down telemetry")
	}
}

// withApp opens the app for the duration of fn. The command's context
// carries the configured logger, see telemetry.FromContext.
func withApp(cmd *cobra.Command, opts *globalOptions, fn func(a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	cmd.SetContext(a.tel.WithContext(ctx, "cli"))
	return fn(a)
}

func defaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
