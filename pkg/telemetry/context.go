package telemetry

import (
	"context"
)

// Telemetry bundles the logger, tracer and metrics built from one Config.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that discards logs, records no traces and keeps
// metrics in a private registry.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Logging.Output = "discard"
	cfg.Logging.Format = "json"
	tel, err := NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	return tel
}

// WithContext stores a logger tagged with component in the context, for
// FromContext to retrieve.
func (t *Telemetry) WithContext(ctx context.Context, component string) context.Context {
	return t.Logger.NewComponentLogger(component).WithContext(ctx)
}

// Shutdown flushes pending spans. The metrics server keeps serving until the
// process exits.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// StartMetricsServer starts the metrics HTTP server if one is configured.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}
