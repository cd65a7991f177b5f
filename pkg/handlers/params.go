package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind is the type a parameter's raw string is converted to.
type Kind string

const (
	KindText      Kind = "text"
	KindSnowflake Kind = "snowflake"
	KindBool      Kind = "bool"
	KindInt       Kind = "int"
	KindEnum      Kind = "enum"
)

// Param declares one handler parameter.
type Param struct {
	Name     string
	Kind     Kind
	Required bool
	// Enum lists accepted values for KindEnum, compared case-insensitively.
	Enum []string
	// Max bounds KindInt values when positive.
	Max int64
}

var validate = validator.New()

// snowflakeTag accepts 17 to 20 decimal digits.
const snowflakeTag = "number,min=17,max=20"

// ValidSnowflake reports whether s looks like a platform identifier.
func ValidSnowflake(s string) bool {
	return validate.Var(s, snowflakeTag) == nil
}

// ParseBool accepts on/true/1/yes and off/false/0/no in any case.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected on/off, true/false, yes/no or 1/0, got %q", s)
	}
}

// ParseCount parses a non-negative base-10 integer.
func ParseCount(s string) (int64, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("expected a non-negative whole number, got %q", s)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("number %q is out of range", s)
	}
	return n, nil
}

// Args holds converted argument values. An empty raw string counts as absent.
type Args struct {
	values map[string]interface{}
}

// Has reports whether name was given a non-empty value.
func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

// String returns a text, enum or snowflake value, or "" when absent.
func (a Args) String(name string) string {
	s, _ := a.values[name].(string)
	return s
}

// Bool returns a boolean value and whether it was given.
func (a Args) Bool(name string) (bool, bool) {
	b, ok := a.values[name].(bool)
	return b, ok
}

// Int returns an integer value and whether it was given.
func (a Args) Int(name string) (int64, bool) {
	n, ok := a.values[name].(int64)
	return n, ok
}

// BindError lists every parameter that failed conversion.
type BindError struct {
	Problems []string
}

func (e *BindError) Error() string {
	return "invalid arguments: " + strings.Join(e.Problems, "; ")
}

// Bind converts raw arguments according to params.
func Bind(params []Param, raw map[string]string) (Args, error) {
	args := Args{values: make(map[string]interface{}, len(params))}
	var problems []string

	for _, p := range params {
		value := raw[p.Name]
		if value == "" {
			if p.Required {
				problems = append(problems, fmt.Sprintf("`%s` is required", p.Name))
			}
			continue
		}

		converted, err := convert(p, value)
		if err != nil {
			problems = append(problems, fmt.Sprintf("`%s`: %v", p.Name, err))
			continue
		}
		args.values[p.Name] = converted
	}

	if len(problems) > 0 {
		return Args{}, &BindError{Problems: problems}
	}
	return args, nil
}

func convert(p Param, value string) (interface{}, error) {
	switch p.Kind {
	case KindSnowflake:
		if !ValidSnowflake(value) {
			return nil, fmt.Errorf("expected a 17-20 digit identifier, got %q", value)
		}
		return value, nil
	case KindBool:
		return ParseBool(value)
	case KindInt:
		n, err := ParseCount(value)
		if err != nil {
			return nil, err
		}
		if p.Max > 0 && n > p.Max {
			return nil, fmt.Errorf("must be at most %d, got %d", p.Max, n)
		}
		return n, nil
	case KindEnum:
		for _, allowed := range p.Enum {
			if strings.EqualFold(allowed, value) {
				return allowed, nil
			}
		}
		return nil, fmt.Errorf("expected one of %s, got %q", strings.Join(p.Enum, ", "), value)
	default:
		return value, nil
	}
}
