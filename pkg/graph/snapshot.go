package graph

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Snapshot is the on-disk form of a Memory graph.
type Snapshot struct {
	Target   string    `yaml:"target"`
	Channels []Channel `yaml:"channels"`
	Roles    []Role    `yaml:"roles"`
}

// Snapshot captures the current state of the graph.
func (m *Memory) Snapshot() Snapshot {
	return Snapshot{
		Target:   m.targetID,
		Channels: m.Channels(),
		Roles:    m.Roles(),
	}
}

// ReadSnapshot decodes a YAML snapshot into a Memory graph.
func ReadSnapshot(r io.Reader) (*Memory, error) {
	var snap Snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode graph snapshot: %w", err)
	}
	if snap.Target == "" {
		return nil, fmt.Errorf("graph snapshot has no target")
	}

	m := NewMemory(snap.Target)
	for _, r := range snap.Roles {
		m.AddRole(r)
	}
	for _, c := range snap.Channels {
		if c.Kind == "" {
			c.Kind = KindText
		}
		m.AddChannel(c)
	}
	return m, nil
}

// WriteSnapshot encodes the graph as YAML.
func (m *Memory) WriteSnapshot(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m.Snapshot()); err != nil {
		return fmt.Errorf("failed to encode graph snapshot: %w", err)
	}
	return enc.Close()
}

// LoadFile reads a snapshot file.
func LoadFile(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph snapshot: %w", err)
	}
	defer f.Close()
	return ReadSnapshot(f)
}

// SaveFile writes the graph to path, replacing it atomically.
func (m *Memory) SaveFile(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create graph snapshot: %w", err)
	}
	if err := m.WriteSnapshot(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close graph snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace graph snapshot: %w", err)
	}
	return nil
}

// MemoryProvider serves a fixed set of Memory graphs keyed by target.
type MemoryProvider struct {
	mu     sync.RWMutex
	graphs map[string]*Memory
}

// NewMemoryProvider creates a provider for the given graphs.
func NewMemoryProvider(graphs ...*Memory) *MemoryProvider {
	p := &MemoryProvider{graphs: make(map[string]*Memory)}
	for _, g := range graphs {
		p.graphs[g.TargetID()] = g
	}
	return p
}

// Add registers another graph.
func (p *MemoryProvider) Add(g *Memory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.graphs[g.TargetID()] = g
}

// Graph returns the graph for targetID.
func (p *MemoryProvider) Graph(_ context.Context, targetID string) (API, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	g, ok := p.graphs[targetID]
	if !ok {
		return nil, fmt.Errorf("target %s: %w", targetID, ErrNotFound)
	}
	return g, nil
}
