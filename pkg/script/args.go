package script

import "strings"

// Arguments holds the tokens that follow verb and resource type.
type Arguments struct {
	Positional []string
	Named      map[string]string
	// NamedOrder preserves the order in which named keys first appeared.
	NamedOrder []string
}

// SplitArgs classifies tokens as named (key=value, '=' not first) or positional.
// Keys and values are trimmed. A repeated key keeps its last value.
func SplitArgs(tokens []string) Arguments {
	args := Arguments{Named: make(map[string]string)}

	for _, tok := range tokens {
		idx := strings.IndexByte(tok, '=')
		if idx <= 0 {
			args.Positional = append(args.Positional, tok)
			continue
		}

		key := strings.TrimSpace(tok[:idx])
		value := strings.TrimSpace(tok[idx+1:])
		if _, seen := args.Named[key]; !seen {
			args.NamedOrder = append(args.NamedOrder, key)
		}
		args.Named[key] = value
	}

	return args
}
