package registry

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Table is an immutable snapshot of the operation map.
type Table struct {
	source   string
	loadedAt time.Time
	entries  map[string]*Descriptor
	order    []*Descriptor
	skipped  []int
}

// Parse reads an operation map without checking handler references.
// Malformed entries are skipped and their line numbers recorded.
func Parse(source string, data []byte) *Table {
	t := &Table{
		source:   source,
		loadedAt: time.Now(),
		entries:  make(map[string]*Descriptor),
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		d, ok := parseEntry(line)
		if !ok {
			t.skipped = append(t.skipped, lineNo)
			continue
		}
		d.SourceLine = lineNo

		if prev, exists := t.entries[d.Key()]; exists {
			// Later entries override earlier ones but keep the original position.
			for i := range t.order {
				if t.order[i] == prev {
					t.order[i] = d
				}
			}
		} else {
			t.order = append(t.order, d)
		}
		t.entries[d.Key()] = d
	}

	return t
}

// parseEntry parses "verb:type = handler:p1,p2 [destructive]".
func parseEntry(line string) (*Descriptor, bool) {
	lhs, rhs, found := strings.Cut(line, "=")
	if !found {
		return nil, false
	}

	verb, resourceType, found := strings.Cut(strings.TrimSpace(lhs), ":")
	if !found {
		return nil, false
	}

	d := &Descriptor{
		Verb:         strings.ToLower(strings.TrimSpace(verb)),
		ResourceType: strings.ToLower(strings.TrimSpace(resourceType)),
	}

	rhs = strings.TrimSpace(rhs)
	if strings.HasSuffix(rhs, "]") {
		open := strings.LastIndex(rhs, "[")
		if open < 0 {
			return nil, false
		}
		for _, flag := range strings.Split(rhs[open+1:len(rhs)-1], ",") {
			switch strings.ToLower(strings.TrimSpace(flag)) {
			case "destructive":
				d.Destructive = true
			case "":
			default:
				return nil, false
			}
		}
		rhs = strings.TrimSpace(rhs[:open])
	}

	handlerID, params, _ := strings.Cut(rhs, ":")
	d.HandlerID = strings.TrimSpace(handlerID)
	for _, p := range strings.Split(params, ",") {
		if p = strings.TrimSpace(p); p != "" {
			d.Params = append(d.Params, p)
		}
	}

	if err := validate.Struct(d); err != nil {
		return nil, false
	}
	if strings.ContainsAny(d.Verb, " \t") || strings.ContainsAny(d.ResourceType, " \t") || strings.ContainsAny(d.HandlerID, " \t") {
		return nil, false
	}

	return d, true
}

// Load parses an operation map and checks it against the handler catalog.
// Any dangling handler or parameter reference rejects the whole map.
// A nil catalog skips the check.
func Load(source string, data []byte, catalog Catalog) (*Table, error) {
	t := Parse(source, data)
	if catalog == nil {
		return t, nil
	}

	var problems []string
	for _, d := range t.order {
		capability, ok := catalog.Capability(d.HandlerID)
		if !ok {
			problems = append(problems, fmt.Sprintf("line %d: handler %q is not registered", d.SourceLine, d.HandlerID))
			continue
		}

		known := make(map[string]bool, len(capability.Params))
		for _, p := range capability.Params {
			known[p] = true
		}
		declared := make(map[string]bool, len(d.Params))
		for _, p := range d.Params {
			if !known[p] {
				problems = append(problems, fmt.Sprintf("line %d: handler %q has no parameter %q", d.SourceLine, d.HandlerID, p))
			}
			declared[p] = true
		}
		for _, p := range capability.Required {
			if !declared[p] {
				problems = append(problems, fmt.Sprintf("line %d: handler %q requires parameter %q", d.SourceLine, d.HandlerID, p))
			}
		}

		if capability.Destructive {
			d.Destructive = true
		}
	}

	if len(problems) > 0 {
		return nil, &LoadError{Source: source, Problems: problems}
	}
	return t, nil
}

// Resolve looks up verb:type and falls back to verb:*.
func (t *Table) Resolve(verb, resourceType string) (*Descriptor, error) {
	verb = strings.ToLower(verb)
	resourceType = strings.ToLower(resourceType)

	if d, ok := t.entries[Key(verb, resourceType)]; ok {
		return d, nil
	}
	if d, ok := t.entries[Key(verb, Wildcard)]; ok {
		return d, nil
	}
	return nil, &UnknownOperationError{Verb: verb, ResourceType: resourceType}
}

// Len returns the number of registered operations.
func (t *Table) Len() int {
	return len(t.order)
}

// Source names where the table was loaded from.
func (t *Table) Source() string {
	return t.source
}

// LoadedAt returns when the table was built.
func (t *Table) LoadedAt() time.Time {
	return t.loadedAt
}

// Skipped returns the line numbers of malformed entries.
func (t *Table) Skipped() []int {
	return append([]int(nil), t.skipped...)
}

// Descriptors returns the registered operations in load order.
func (t *Table) Descriptors() []*Descriptor {
	return append([]*Descriptor(nil), t.order...)
}

// Verbs returns the sorted set of registered verbs.
func (t *Table) Verbs() []string {
	seen := make(map[string]bool)
	var verbs []string
	for _, d := range t.order {
		if !seen[d.Verb] {
			seen[d.Verb] = true
			verbs = append(verbs, d.Verb)
		}
	}
	sort.Strings(verbs)
	return verbs
}
