package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/graphpatch/pkg/telemetry"
)

// Config is the validated graphpatch configuration.
type Config struct {
	Engine    EngineConfig
	Registry  RegistryConfig
	Database  DatabaseConfig
	Graph     GraphConfig
	Policy    PolicyConfig
	History   HistoryConfig
	Telemetry *telemetry.Config `validate:"required"`

	// Source is the file the configuration was read from, if any.
	Source string `validate:"-"`
}

// EngineConfig holds workflow limits.
type EngineConfig struct {
	// TTL is how long a pending patch stays applicable.
	TTL              time.Duration `validate:"gt=0"`
	MaxActions       int           `validate:"min=1,max=1000"`
	MaxDisplayErrors int           `validate:"min=1,max=100"`
	CodeLength       int           `validate:"min=4,max=16"`
	// ReaperInterval is how often expired patches are purged. Zero disables the reaper.
	ReaperInterval time.Duration `validate:"gte=0"`
}

// RegistryConfig locates the operation map.
type RegistryConfig struct {
	// Operations is the operation map path. Empty selects the built-in map.
	Operations string
	// Watch reloads the operation map when the file changes.
	Watch bool
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `validate:"required"`
}

// GraphConfig locates the graph snapshot the CLI applies patches to.
type GraphConfig struct {
	Snapshot string `validate:"required"`
}

// PolicyConfig selects plan policies.
type PolicyConfig struct {
	Paths          []string `validate:"dive,required"`
	Disabled       []string
	MaxDestructive int `validate:"gte=0"`
	Watch          bool
}

// HistoryConfig controls retention of runs and audit entries.
type HistoryConfig struct {
	Retention time.Duration `validate:"gt=0"`
}

// fileConfig mirrors the CUE schema.
type fileConfig struct {
	Engine struct {
		TTL              string `json:"ttl"`
		MaxActions       int    `json:"maxActions"`
		MaxDisplayErrors int    `json:"maxDisplayErrors"`
		CodeLength       int    `json:"codeLength"`
		ReaperInterval   string `json:"reaperInterval"`
	} `json:"engine"`
	Registry struct {
		Operations string `json:"operations"`
		Watch      bool   `json:"watch"`
	} `json:"registry"`
	Database struct {
		Path string `json:"path"`
	} `json:"database"`
	Graph struct {
		Snapshot string `json:"snapshot"`
	} `json:"graph"`
	Policy struct {
		Paths          []string `json:"paths"`
		Disabled       []string `json:"disabled"`
		MaxDestructive int      `json:"maxDestructive"`
		Watch          bool     `json:"watch"`
	} `json:"policy"`
	History struct {
		Retention string `json:"retention"`
	} `json:"history"`
	Telemetry struct {
		Environment string `json:"environment"`
		Logging     struct {
			Level  string `json:"level"`
			Format string `json:"format"`
			Output string `json:"output"`
			Caller bool   `json:"caller"`
		} `json:"logging"`
		Tracing struct {
			Enabled      bool    `json:"enabled"`
			Exporter     string  `json:"exporter"`
			Endpoint     string  `json:"endpoint"`
			SamplingRate float64 `json:"samplingRate"`
			Insecure     bool    `json:"insecure"`
		} `json:"tracing"`
		Metrics struct {
			Enabled   bool   `json:"enabled"`
			Listen    string `json:"listen"`
			Namespace string `json:"namespace"`
		} `json:"metrics"`
	} `json:"telemetry"`
}

// ValidationError is one problem found in a configuration file.
type ValidationError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e ValidationError) String() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	if e.File != "" {
		return e.File + ": " + e.Message
	}
	return e.Message
}

// LoadError reports every problem found while loading a configuration.
type LoadError struct {
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
