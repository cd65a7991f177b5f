package config

import (
	_ "embed"
)

// schemaSource is the CUE schema every configuration file is unified with.
//
//go:embed schema.cue
var schemaSource string

// Template is written by `graphpatch init`. Every field is optional; omitted
// fields take the schema defaults.
const Template = `// graphpatch configuration. Omitted fields take their defaults.

engine: {
	ttl:              "10m"
	maxActions:       50
	maxDisplayErrors: 15
	codeLength:       6
}

registry: {
	// Leave empty to use the built-in operation map.
	operations: ""
	watch:      false
}

database: path: "graphpatch.db"

graph: snapshot: "graph.yaml"

policy: {
	paths:          []
	maxDestructive: 25
}

telemetry: logging: level: "info"
`
