package registry

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Source supplies the raw operation map.
type Source interface {
	Name() string
	Read(ctx context.Context) ([]byte, error)
}

// FileSource reads the operation map from disk on every load.
type FileSource struct {
	Path string
}

// Name returns the file path.
func (s FileSource) Name() string { return s.Path }

// Read returns the file contents.
func (s FileSource) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read operation map: %w", err)
	}
	return data, nil
}

// StaticSource serves a fixed operation map, typically an embedded default.
type StaticSource struct {
	Label string
	Data  []byte
}

// Name returns the label.
func (s StaticSource) Name() string { return s.Label }

// Read returns the data.
func (s StaticSource) Read(_ context.Context) ([]byte, error) {
	return s.Data, nil
}

// ReloadHook observes every reload attempt.
type ReloadHook func(table *Table, err error)

// Registry holds the active operation table and reloads it on demand.
type Registry struct {
	source  Source
	catalog Catalog
	logger  zerolog.Logger
	hooks   []ReloadHook

	current atomic.Pointer[Table]
	group   singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger.With().Str("component", "registry").Logger()
	}
}

// WithReloadHook registers a callback invoked after each reload attempt.
func WithReloadHook(hook ReloadHook) Option {
	return func(r *Registry) {
		r.hooks = append(r.hooks, hook)
	}
}

// New loads the source once and returns a ready registry.
func New(ctx context.Context, source Source, catalog Catalog, opts ...Option) (*Registry, error) {
	r := &Registry{
		source:  source,
		catalog: catalog,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Snapshot returns the active table. The table never changes after it is
// returned; a reload installs a new one.
func (r *Registry) Snapshot() *Table {
	return r.current.Load()
}

// Resolve looks up an operation in the active table.
func (r *Registry) Resolve(verb, resourceType string) (*Descriptor, error) {
	return r.Snapshot().Resolve(verb, resourceType)
}

// Reload re-reads the source and swaps in the new table. On failure the
// previous table stays active. Concurrent calls share one load.
func (r *Registry) Reload(ctx context.Context) error {
	_, err, _ := r.group.Do("reload", func() (interface{}, error) {
		return nil, r.reload(ctx)
	})
	return err
}

func (r *Registry) reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := r.source.Read(ctx)
	if err != nil {
		r.notify(nil, err)
		return err
	}

	table, err := Load(r.source.Name(), data, r.catalog)
	if err != nil {
		r.logger.Error().Err(err).Str("source", r.source.Name()).Msg("Operation map rejected, keeping previous table")
		r.notify(nil, err)
		return err
	}

	previous := r.current.Swap(table)

	event := r.logger.Info().
		Str("source", table.Source()).
		Int("operations", table.Len()).
		Int("skipped", len(table.skipped))
	if previous != nil {
		event = event.Int("previous", previous.Len())
	}
	event.Msg("Operation map loaded")

	r.notify(table, nil)
	return nil
}

func (r *Registry) notify(table *Table, err error) {
	for _, hook := range r.hooks {
		hook(table, err)
	}
}
