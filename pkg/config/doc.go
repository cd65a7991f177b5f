// Package config loads graphpatch configuration.
//
// A configuration file is written in CUE and unified with the embedded
// #Config schema (schema.cue), which supplies defaults and rejects unknown
// fields and out-of-range values. The result is decoded into Config and
// checked again with struct validation. A missing file yields the defaults.
//
//	cfg, err := config.Load("graphpatch.cue")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Engine.TTL) // 10m0s
//
// Errors are reported as a *LoadError listing every problem with its file
// position when CUE knows it.
package config
