package registry

import (
	"errors"
	"fmt"
	"strings"
)

// Wildcard is the resource type that matches any type for a verb.
const Wildcard = "*"

// Descriptor describes one registered operation.
type Descriptor struct {
	Verb         string   `json:"verb" validate:"required"`
	ResourceType string   `json:"resource_type" validate:"required"`
	HandlerID    string   `json:"handler_id" validate:"required"`
	Params       []string `json:"params" validate:"dive,required"`
	Destructive  bool     `json:"destructive"`
	SourceLine   int      `json:"source_line"`
}

// Key returns the lookup key of the descriptor.
func (d *Descriptor) Key() string {
	return Key(d.Verb, d.ResourceType)
}

// Key builds a normalized verb:type lookup key.
func Key(verb, resourceType string) string {
	return strings.ToLower(verb) + ":" + strings.ToLower(resourceType)
}

// Capability is what a handler declares about itself.
type Capability struct {
	// Params lists every parameter name the handler understands.
	Params []string
	// Required lists parameters the operation map must declare.
	Required []string
	// Destructive marks handlers whose effect cannot be undone.
	Destructive bool
}

// Catalog resolves handler IDs to their capabilities.
type Catalog interface {
	Capability(handlerID string) (Capability, bool)
}

// ErrUnknownOperation is matched by every UnknownOperationError.
var ErrUnknownOperation = errors.New("unknown operation")

// UnknownOperationError is returned when neither verb:type nor verb:* is registered.
type UnknownOperationError struct {
	Verb         string
	ResourceType string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation `%s:%s`", e.Verb, e.ResourceType)
}

// Is reports whether target is ErrUnknownOperation.
func (e *UnknownOperationError) Is(target error) bool {
	return target == ErrUnknownOperation
}

// LoadError lists the problems that made an operation map unusable.
type LoadError struct {
	Source   string
	Problems []string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("operation map %s rejected: %s", e.Source, strings.Join(e.Problems, "; "))
}
