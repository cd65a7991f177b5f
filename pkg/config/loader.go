package config

import (
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/graphpatch/pkg/telemetry"
)

// Loader reads configuration files against the embedded schema.
type Loader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewLoader compiles the embedded schema.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Loader{
		ctx:       ctx,
		schema:    schema,
		validator: validator.New(),
	}, nil
}

// Load reads the configuration at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	l, err := NewLoader()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l.Parse("", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return l.Parse(path, data)
}

// Default returns the schema defaults.
func Default() *Config {
	l, err := NewLoader()
	if err != nil {
		panic(err)
	}
	cfg, err := l.Parse("", nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Parse unifies data with the schema, then decodes and validates it.
func (l *Loader) Parse(filename string, data []byte) (*Config, error) {
	value := l.schema
	if len(data) > 0 {
		file := l.ctx.CompileBytes(data, cue.Filename(filename))
		if err := file.Err(); err != nil {
			return nil, &LoadError{Errors: convertCUEErrors(err)}
		}
		value = value.Unify(file)
	}

	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}

	var fc fileConfig
	if err := value.Decode(&fc); err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}

	cfg, err := fc.toConfig()
	if err != nil {
		return nil, &LoadError{Errors: []ValidationError{{File: filename, Message: err.Error()}}}
	}
	cfg.Source = filename

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the telemetry settings.
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validator.Struct(cfg); err != nil {
		var problems []ValidationError
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				problems = append(problems, ValidationError{
					File:    cfg.Source,
					Message: fmt.Sprintf("%s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()),
				})
			}
		} else {
			problems = append(problems, ValidationError{File: cfg.Source, Message: err.Error()})
		}
		return &LoadError{Errors: problems}
	}

	if err := cfg.Telemetry.Validate(); err != nil {
		return &LoadError{Errors: []ValidationError{{File: cfg.Source, Message: err.Error()}}}
	}
	return nil
}

func (fc *fileConfig) toConfig() (*Config, error) {
	durations := map[string]string{
		"engine.ttl":            fc.Engine.TTL,
		"engine.reaperInterval": fc.Engine.ReaperInterval,
		"history.retention":     fc.History.Retention,
	}
	parsed := make(map[string]time.Duration, len(durations))
	for field, raw := range durations {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		parsed[field] = d
	}

	tel := telemetry.DefaultConfig()
	tel.Environment = fc.Telemetry.Environment
	tel.Logging.Level = fc.Telemetry.Logging.Level
	tel.Logging.Format = fc.Telemetry.Logging.Format
	tel.Logging.Output = fc.Telemetry.Logging.Output
	tel.Logging.EnableCaller = fc.Telemetry.Logging.Caller
	tel.Tracing.Enabled = fc.Telemetry.Tracing.Enabled
	tel.Tracing.Exporter = fc.Telemetry.Tracing.Exporter
	tel.Tracing.Endpoint = fc.Telemetry.Tracing.Endpoint
	tel.Tracing.SamplingRate = fc.Telemetry.Tracing.SamplingRate
	tel.Tracing.Insecure = fc.Telemetry.Tracing.Insecure
	tel.Metrics.Enabled = fc.Telemetry.Metrics.Enabled
	tel.Metrics.ListenAddress = fc.Telemetry.Metrics.Listen
	tel.Metrics.Namespace = fc.Telemetry.Metrics.Namespace

	return &Config{
		Engine: EngineConfig{
			TTL:              parsed["engine.ttl"],
			MaxActions:       fc.Engine.MaxActions,
			MaxDisplayErrors: fc.Engine.MaxDisplayErrors,
			CodeLength:       fc.Engine.CodeLength,
			ReaperInterval:   parsed["engine.reaperInterval"],
		},
		Registry: RegistryConfig{
			Operations: fc.Registry.Operations,
			Watch:      fc.Registry.Watch,
		},
		Database: DatabaseConfig{Path: fc.Database.Path},
		Graph:    GraphConfig{Snapshot: fc.Graph.Snapshot},
		Policy: PolicyConfig{
			Paths:          fc.Policy.Paths,
			Disabled:       fc.Policy.Disabled,
			MaxDestructive: fc.Policy.MaxDestructive,
			Watch:          fc.Policy.Watch,
		},
		History:   HistoryConfig{Retention: parsed["history.retention"]},
		Telemetry: tel,
	}, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var ve ValidationError
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		ve.Message = errors.Details(e, nil)
		validationErrors = append(validationErrors, ve)
	}

	return validationErrors
}
