package script

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// generatorOptions lets generator programs loop at top level.
var generatorOptions = &syntax.FileOptions{
	Set:             true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Generator runs Starlark programs that emit patch script lines. It is meant
// for repetitive batches ("rename every channel under this category") that
// are tedious to write by hand.
//
//	for i, id in enumerate(channels):
//	    emit("set", "channel", id, position=i)
type Generator struct {
	timeout time.Duration
}

// NewGenerator creates a generator that aborts programs running longer than timeout.
func NewGenerator(timeout time.Duration) *Generator {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Generator{timeout: timeout}
}

// Generate executes src and returns the emitted script. Values in vars are
// exposed to the program as predeclared globals.
func (g *Generator) Generate(ctx context.Context, filename, src string, vars map[string]interface{}) (string, error) {
	evalCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var lines []string
	thread := &starlark.Thread{
		Name:  "graphpatch-generate",
		Print: func(_ *starlark.Thread, _ string) {},
	}

	predeclared := starlark.StringDict{
		"struct":  starlarkstruct.Default,
		"emit":    starlark.NewBuiltin("emit", emitBuiltin(&lines)),
		"comment": starlark.NewBuiltin("comment", commentBuiltin(&lines)),
	}
	for key, val := range vars {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return "", fmt.Errorf("failed to convert variable %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := starlark.ExecFileOptions(generatorOptions, thread, filename, src, predeclared)
		errCh <- err
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		<-errCh
		return "", fmt.Errorf("starlark generation aborted: %w", evalCtx.Err())
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("starlark generation failed: %w", err)
		}
	}

	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// emitBuiltin implements emit(verb, type, *values, **named).
func emitBuiltin(lines *[]string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) < 2 {
			return nil, fmt.Errorf("%s: need verb and resource type", b.Name())
		}

		parts := make([]string, 0, len(args)+len(kwargs))
		for i, arg := range args {
			s, err := scalarString(arg)
			if err != nil {
				return nil, fmt.Errorf("%s: argument %d: %w", b.Name(), i+1, err)
			}
			if i < 2 {
				parts = append(parts, s)
				continue
			}
			q, err := Quote(s)
			if err != nil {
				return nil, fmt.Errorf("%s: argument %d: %w", b.Name(), i+1, err)
			}
			parts = append(parts, q)
		}

		for _, kv := range kwargs {
			key := string(kv[0].(starlark.String))
			s, err := scalarString(kv[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", b.Name(), key, err)
			}
			q, err := Quote(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", b.Name(), key, err)
			}
			parts = append(parts, key+"="+q)
		}

		*lines = append(*lines, strings.Join(parts, " "))
		return starlark.None, nil
	}
}

func commentBuiltin(lines *[]string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var text string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &text); err != nil {
			return nil, err
		}
		*lines = append(*lines, "# "+strings.ReplaceAll(text, "\n", " "))
		return starlark.None, nil
	}
}

// Quote renders a value so that Tokenize reads it back as a single token.
func Quote(s string) (string, error) {
	if strings.ContainsAny(s, "\r\n") {
		return "", fmt.Errorf("value %q spans lines", s)
	}
	if s != "" && !strings.ContainsAny(s, " \t\"'") {
		return s, nil
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`, nil
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'", nil
	}
	return "", fmt.Errorf("value %q contains both quote characters", s)
}

func scalarString(v starlark.Value) (string, error) {
	switch val := v.(type) {
	case starlark.String:
		return string(val), nil
	case starlark.Int:
		return val.String(), nil
	case starlark.Bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case starlark.NoneType:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported value of type %s", v.Type())
	}
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
