// Package telemetry provides observability instrumentation for graphpatch.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus).
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// The engine takes the pieces it needs:
//
//	eng, err := engine.New(reg, catalog, graphs,
//	    engine.WithLogger(tel.Logger.Zerolog()),
//	    engine.WithMetrics(tel.Metrics),
//	    engine.WithTracer(tel.Tracer),
//	)
//
// # Metrics
//
// All metrics are registered on a private registry and exposed by
// Metrics.Handler. Recording methods are no-ops on a nil or disabled
// Metrics value, so callers never need to check.
//
// # Tracing
//
// Spans are named patch.plan, patch.apply and patch.action. The stdout
// exporter writes to stderr so it does not interleave with command output.
package telemetry
