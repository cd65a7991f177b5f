package script

import (
	"fmt"
	"strings"

	"github.com/openfroyo/graphpatch/pkg/registry"
)

// Resolver finds the operation for a verb and resource type.
type Resolver interface {
	Resolve(verb, resourceType string) (*registry.Descriptor, error)
}

// Severity grades a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a problem found on one script line.
type Diagnostic struct {
	Line     int      `json:"line"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// String renders the diagnostic as "line N: message".
func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d: %s", d.Line, d.Message)
}

// Action is one resolved script line with its arguments bound by name.
// Values are kept as raw strings; handlers convert them when they run.
type Action struct {
	Verb         string            `json:"verb"`
	ResourceType string            `json:"resource_type"`
	HandlerID    string            `json:"handler_id"`
	Arguments    map[string]string `json:"arguments"`
	Line         int               `json:"line"`
	Raw          string            `json:"raw"`
	Destructive  bool              `json:"destructive"`
}

// Result is the outcome of parsing a whole script.
type Result struct {
	Actions  []Action
	Errors   []Diagnostic
	Warnings []Diagnostic
	// Truncated is set when the action limit stopped parsing early.
	Truncated bool
}

// OK reports whether the script can be planned.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

// Options tunes parsing.
type Options struct {
	// MaxActions caps the number of actions. Zero means no limit.
	MaxActions int
}

// Parse turns a patch script into actions. It never fails outright: every
// problem becomes a diagnostic and parsing continues with the next line,
// except when the action limit is reached.
func Parse(src string, resolver Resolver, opts Options) *Result {
	res := &Result{}

	for idx, rawLine := range strings.Split(src, "\n") {
		lineNo := idx + 1
		line := strings.TrimSpace(strings.TrimSuffix(rawLine, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tokens := Tokenize(line)
		verb, resourceType, rest, err := splitOperation(tokens)
		if err != nil {
			res.Errors = append(res.Errors, Diagnostic{Line: lineNo, Severity: SeverityError, Message: err.Error()})
			continue
		}

		desc, err := resolver.Resolve(verb, resourceType)
		if err != nil {
			res.Errors = append(res.Errors, Diagnostic{Line: lineNo, Severity: SeverityError, Message: err.Error()})
			continue
		}

		if opts.MaxActions > 0 && len(res.Actions) >= opts.MaxActions {
			res.Errors = append(res.Errors, Diagnostic{
				Line:     lineNo,
				Severity: SeverityError,
				Message:  fmt.Sprintf("too many actions: a script may contain at most %d", opts.MaxActions),
			})
			res.Truncated = true
			break
		}

		action, warnings := bind(desc, verb, resourceType, SplitArgs(rest), lineNo)
		action.Raw = line
		res.Actions = append(res.Actions, action)
		res.Warnings = append(res.Warnings, warnings...)
	}

	return res
}

// splitOperation extracts verb and resource type either from the first two
// tokens or from a verb:type first token.
func splitOperation(tokens []string) (string, string, []string, error) {
	head := tokens[0]
	if verb, resourceType, found := strings.Cut(head, ":"); found {
		if verb == "" || resourceType == "" {
			return "", "", nil, fmt.Errorf("malformed operation `%s`", head)
		}
		return strings.ToLower(verb), strings.ToLower(resourceType), tokens[1:], nil
	}

	if len(tokens) < 2 {
		return "", "", nil, fmt.Errorf("missing resource type after `%s`", head)
	}
	return strings.ToLower(head), strings.ToLower(tokens[1]), tokens[2:], nil
}

// bind assigns a value to each schema parameter in order: the named value if
// present, else the next positional value, else the empty string.
func bind(desc *registry.Descriptor, verb, resourceType string, args Arguments, lineNo int) (Action, []Diagnostic) {
	action := Action{
		Verb:         verb,
		ResourceType: resourceType,
		HandlerID:    desc.HandlerID,
		Arguments:    make(map[string]string, len(desc.Params)),
		Line:         lineNo,
		Destructive:  desc.Destructive,
	}

	positional := args.Positional
	known := make(map[string]bool, len(desc.Params))
	for _, p := range desc.Params {
		known[p] = true
		if v, ok := args.Named[p]; ok {
			action.Arguments[p] = v
			continue
		}
		if len(positional) > 0 {
			action.Arguments[p] = positional[0]
			positional = positional[1:]
			continue
		}
		action.Arguments[p] = ""
	}

	var warnings []Diagnostic
	for _, key := range args.NamedOrder {
		if !known[key] {
			warnings = append(warnings, Diagnostic{
				Line:     lineNo,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("unknown parameter `%s` for %s", key, desc.Key()),
			})
		}
	}
	if len(positional) > 0 {
		warnings = append(warnings, Diagnostic{
			Line:     lineNo,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("ignoring %d extra value(s): %s", len(positional), strings.Join(positional, " ")),
		})
	}

	return action, warnings
}
