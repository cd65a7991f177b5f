// Package handlers implements the operations a patch can perform on a
// resource graph. Each handler converts its raw arguments, validates them
// and then makes at most one mutating graph call.
package handlers

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/graphpatch/pkg/graph"
	"github.com/openfroyo/graphpatch/pkg/registry"
)

// DefaultOperations is the operation map shipped with the built-in handlers.
//
//go:embed operations.map
var DefaultOperations []byte

// Context carries per-apply information into a handler.
type Context struct {
	TargetID string
	PlanID   string
	Reason   string
	Actor    string
}

// Outcome reports what a handler did.
type Outcome struct {
	// Changed is false when the graph already matched the request.
	Changed bool
	// AffectedID is the entity created, modified or removed.
	AffectedID string
}

// Func performs one action.
type Func func(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error)

// Handler is a registered operation implementation.
type Handler struct {
	ID          string
	Description string
	Params      []Param
	Destructive bool
	Run         Func
}

// Bind converts raw arguments for this handler.
func (h *Handler) Bind(raw map[string]string) (Args, error) {
	return Bind(h.Params, raw)
}

// Catalog is the set of available handlers keyed by ID.
type Catalog struct {
	mu       sync.RWMutex
	handlers map[string]*Handler
}

// NewCatalog creates a catalog holding hs.
func NewCatalog(hs ...*Handler) (*Catalog, error) {
	c := &Catalog{handlers: make(map[string]*Handler, len(hs))}
	for _, h := range hs {
		if err := c.Register(h); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds a handler. IDs must be unique.
func (c *Catalog) Register(h *Handler) error {
	if h.ID == "" || h.Run == nil {
		return fmt.Errorf("handler must have an ID and a Run function")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.handlers[h.ID]; exists {
		return fmt.Errorf("handler %s already registered", h.ID)
	}
	c.handlers[h.ID] = h
	return nil
}

// Lookup returns the handler for id.
func (c *Catalog) Lookup(id string) (*Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[id]
	return h, ok
}

// Capability implements registry.Catalog.
func (c *Catalog) Capability(id string) (registry.Capability, bool) {
	h, ok := c.Lookup(id)
	if !ok {
		return registry.Capability{}, false
	}

	capability := registry.Capability{Destructive: h.Destructive}
	for _, p := range h.Params {
		capability.Params = append(capability.Params, p.Name)
		if p.Required {
			capability.Required = append(capability.Required, p.Name)
		}
	}
	return capability, true
}

// Handlers returns all handlers sorted by ID.
func (c *Catalog) Handlers() []*Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
