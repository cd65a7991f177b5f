package graph

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	maxSlowmode = 21600
	firstID     = uint64(1_300_000_000_000_000_000)
)

// Call records one mutating request made against a Memory graph.
type Call struct {
	Method string
	ID     string
	Reason string
}

// Memory is an in-process resource graph for one target.
type Memory struct {
	mu       sync.RWMutex
	targetID string
	channels map[string]*Channel
	roles    map[string]*Role
	nextID   uint64
	calls    []Call
	failures map[string]error
}

// NewMemory creates an empty graph for targetID. The target always has an
// everyone role whose ID equals the target ID.
func NewMemory(targetID string) *Memory {
	m := &Memory{
		targetID: targetID,
		channels: make(map[string]*Channel),
		roles:    make(map[string]*Role),
		nextID:   firstID,
		failures: make(map[string]error),
	}
	m.roles[targetID] = &Role{ID: targetID, Name: "@everyone"}
	return m
}

// TargetID returns the target the graph belongs to.
func (m *Memory) TargetID() string {
	return m.targetID
}

// InjectFailure makes every mutating call that touches id fail with err.
func (m *Memory) InjectFailure(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = err
}

// Calls returns the mutating calls made so far.
func (m *Memory) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Call(nil), m.calls...)
}

// AddChannel inserts a channel as-is, bypassing validation. Used to seed graphs.
func (m *Memory) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := ch
	c.Overwrites = append([]Overwrite(nil), ch.Overwrites...)
	m.channels[c.ID] = &c
	m.bumpID(c.ID)
}

// AddRole inserts a role as-is, bypassing validation. Used to seed graphs.
func (m *Memory) AddRole(r Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role := r
	m.roles[role.ID] = &role
	m.bumpID(role.ID)
}

// Channels returns all channels ordered by position then ID.
func (m *Memory) Channels() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Channel, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, cloneChannel(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Roles returns all roles ordered by position then ID.
func (m *Memory) Roles() []Role {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Channel returns a copy of the channel with id.
func (m *Memory) Channel(_ context.Context, id string) (*Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	out := cloneChannel(c)
	return &out, nil
}

// Role returns a copy of the role with id.
func (m *Memory) Role(_ context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.roles[id]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	out := *r
	return &out, nil
}

// CreateChannel creates a channel or category.
func (m *Memory) CreateChannel(_ context.Context, spec ChannelSpec, reason string) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("CreateChannel", spec.ParentID, reason); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, fmt.Errorf("channel name is empty: %w", ErrInvalid)
	}
	kind := spec.Kind
	if kind == "" {
		kind = KindText
	}
	if !validKind(kind) {
		return nil, fmt.Errorf("unknown channel kind %q: %w", kind, ErrInvalid)
	}
	if spec.ParentID != "" {
		if err := m.checkParent(kind, spec.ParentID); err != nil {
			return nil, err
		}
	}

	c := &Channel{
		ID:       m.newID(),
		Name:     name,
		Kind:     kind,
		ParentID: spec.ParentID,
		Topic:    spec.Topic,
		Position: m.siblingCount(spec.ParentID),
	}
	if spec.Position != nil {
		if *spec.Position < 0 {
			return nil, fmt.Errorf("position must not be negative: %w", ErrInvalid)
		}
		c.Position = *spec.Position
	}
	m.channels[c.ID] = c

	out := cloneChannel(c)
	return &out, nil
}

// EditChannel applies edit to the channel with id.
func (m *Memory) EditChannel(_ context.Context, id string, edit ChannelEdit, reason string) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("EditChannel", id, reason); err != nil {
		return nil, err
	}

	c, ok := m.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}

	updated := cloneChannel(c)
	if edit.Name != nil {
		name := strings.TrimSpace(*edit.Name)
		if name == "" {
			return nil, fmt.Errorf("channel name is empty: %w", ErrInvalid)
		}
		updated.Name = name
	}
	if edit.Topic != nil {
		updated.Topic = *edit.Topic
	}
	if edit.ParentID != nil {
		if *edit.ParentID != "" {
			if *edit.ParentID == id {
				return nil, fmt.Errorf("channel cannot be its own parent: %w", ErrInvalid)
			}
			if err := m.checkParent(c.Kind, *edit.ParentID); err != nil {
				return nil, err
			}
		}
		updated.ParentID = *edit.ParentID
	}
	if edit.Position != nil {
		if *edit.Position < 0 {
			return nil, fmt.Errorf("position must not be negative: %w", ErrInvalid)
		}
		updated.Position = *edit.Position
	}
	if edit.NSFW != nil {
		updated.NSFW = *edit.NSFW
	}
	if edit.Slowmode != nil {
		if *edit.Slowmode < 0 || *edit.Slowmode > maxSlowmode {
			return nil, fmt.Errorf("slowmode must be between 0 and %d seconds: %w", maxSlowmode, ErrInvalid)
		}
		updated.Slowmode = *edit.Slowmode
	}

	*c = updated
	out := cloneChannel(c)
	return &out, nil
}

// DeleteChannel removes a channel. Deleting a category detaches its children.
func (m *Memory) DeleteChannel(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("DeleteChannel", id, reason); err != nil {
		return err
	}

	c, ok := m.channels[id]
	if !ok {
		return fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	if c.Kind == KindCategory {
		for _, child := range m.channels {
			if child.ParentID == id {
				child.ParentID = ""
			}
		}
	}
	delete(m.channels, id)
	return nil
}

// CreateRole creates a role at the bottom of the hierarchy.
func (m *Memory) CreateRole(_ context.Context, spec RoleSpec, reason string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("CreateRole", "", reason); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, fmt.Errorf("role name is empty: %w", ErrInvalid)
	}

	r := &Role{
		ID:          m.newID(),
		Name:        name,
		Color:       spec.Color,
		Hoist:       spec.Hoist,
		Mentionable: spec.Mentionable,
		Position:    len(m.roles),
	}
	m.roles[r.ID] = r

	out := *r
	return &out, nil
}

// EditRole applies edit to the role with id.
func (m *Memory) EditRole(_ context.Context, id string, edit RoleEdit, reason string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("EditRole", id, reason); err != nil {
		return nil, err
	}

	r, ok := m.roles[id]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}

	updated := *r
	if edit.Name != nil {
		name := strings.TrimSpace(*edit.Name)
		if name == "" {
			return nil, fmt.Errorf("role name is empty: %w", ErrInvalid)
		}
		if id == m.targetID {
			return nil, fmt.Errorf("the everyone role cannot be renamed: %w", ErrInvalid)
		}
		updated.Name = name
	}
	if edit.Color != nil {
		if *edit.Color < 0 || *edit.Color > 0xFFFFFF {
			return nil, fmt.Errorf("color out of range: %w", ErrInvalid)
		}
		updated.Color = *edit.Color
	}
	if edit.Hoist != nil {
		updated.Hoist = *edit.Hoist
	}
	if edit.Mentionable != nil {
		updated.Mentionable = *edit.Mentionable
	}

	*r = updated
	out := *r
	return &out, nil
}

// DeleteRole removes a role and every overwrite that references it.
func (m *Memory) DeleteRole(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("DeleteRole", id, reason); err != nil {
		return err
	}

	if _, ok := m.roles[id]; !ok {
		return fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	if id == m.targetID {
		return fmt.Errorf("the everyone role cannot be deleted: %w", ErrInvalid)
	}

	delete(m.roles, id)
	for _, c := range m.channels {
		c.Overwrites = removeOverwrite(c.Overwrites, id)
	}
	return nil
}

// SetOverwrite creates or replaces the overwrite for ow.TargetID on a channel.
// The target kind is inferred: known role IDs are roles, anything else a member.
func (m *Memory) SetOverwrite(_ context.Context, channelID string, ow Overwrite, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("SetOverwrite", channelID, reason); err != nil {
		return err
	}

	c, ok := m.channels[channelID]
	if !ok {
		return fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	if ow.Allow&ow.Deny != 0 {
		return fmt.Errorf("a permission cannot be both allowed and denied: %w", ErrInvalid)
	}

	if ow.Target == "" {
		ow.Target = OverwriteMember
		if _, isRole := m.roles[ow.TargetID]; isRole {
			ow.Target = OverwriteRole
		}
	}

	c.Overwrites = append(removeOverwrite(c.Overwrites, ow.TargetID), ow)
	return nil
}

// DeleteOverwrite removes the overwrite for targetID from a channel.
func (m *Memory) DeleteOverwrite(_ context.Context, channelID, targetID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("DeleteOverwrite", channelID, reason); err != nil {
		return err
	}

	c, ok := m.channels[channelID]
	if !ok {
		return fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	remaining := removeOverwrite(c.Overwrites, targetID)
	if len(remaining) == len(c.Overwrites) {
		return fmt.Errorf("overwrite for %s on channel %s: %w", targetID, channelID, ErrNotFound)
	}
	c.Overwrites = remaining
	return nil
}

// record logs a mutating call and returns any injected failure for id.
// Callers must hold the write lock.
func (m *Memory) record(method, id, reason string) error {
	m.calls = append(m.calls, Call{Method: method, ID: id, Reason: reason})
	if err, ok := m.failures[id]; ok && id != "" {
		return err
	}
	return nil
}

func (m *Memory) checkParent(kind ChannelKind, parentID string) error {
	if kind == KindCategory {
		return fmt.Errorf("categories cannot be nested: %w", ErrInvalid)
	}
	parent, ok := m.channels[parentID]
	if !ok {
		return fmt.Errorf("parent %s: %w", parentID, ErrNotFound)
	}
	if parent.Kind != KindCategory {
		return fmt.Errorf("parent %s is not a category: %w", parentID, ErrInvalid)
	}
	return nil
}

func (m *Memory) siblingCount(parentID string) int {
	n := 0
	for _, c := range m.channels {
		if c.ParentID == parentID {
			n++
		}
	}
	return n
}

func (m *Memory) newID() string {
	id := m.nextID
	m.nextID++
	return strconv.FormatUint(id, 10)
}

func (m *Memory) bumpID(id string) {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil && n >= m.nextID {
		m.nextID = n + 1
	}
}

func validKind(kind ChannelKind) bool {
	for _, k := range ChannelKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func removeOverwrite(list []Overwrite, targetID string) []Overwrite {
	out := list[:0:0]
	for _, ow := range list {
		if ow.TargetID != targetID {
			out = append(out, ow)
		}
	}
	return out
}

func cloneChannel(c *Channel) Channel {
	out := *c
	out.Overwrites = append([]Overwrite(nil), c.Overwrites...)
	return out
}
