// Package graph defines the boundary to the remote resource graph that
// patches mutate, together with an in-memory implementation used by the
// CLI and by tests.
//
// A target (one community server) owns channels, categories and roles.
// Categories are channels of KindCategory; other channels may point at a
// category through ParentID. Channels carry permission overwrites keyed by
// the role or member they apply to.
package graph

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalid is returned when a request is rejected by the graph.
	ErrInvalid = errors.New("invalid request")
)

// ChannelKind distinguishes channel flavours.
type ChannelKind string

const (
	KindText         ChannelKind = "text"
	KindVoice        ChannelKind = "voice"
	KindCategory     ChannelKind = "category"
	KindAnnouncement ChannelKind = "announcement"
	KindForum        ChannelKind = "forum"
	KindStage        ChannelKind = "stage"
)

// ChannelKinds lists every supported kind.
var ChannelKinds = []ChannelKind{KindText, KindVoice, KindCategory, KindAnnouncement, KindForum, KindStage}

// OverwriteTarget says whether an overwrite applies to a role or a member.
type OverwriteTarget string

const (
	OverwriteRole   OverwriteTarget = "role"
	OverwriteMember OverwriteTarget = "member"
)

// Overwrite adjusts permissions on one channel for one role or member.
type Overwrite struct {
	TargetID string          `yaml:"target_id" json:"target_id"`
	Target   OverwriteTarget `yaml:"target" json:"target"`
	Allow    int64           `yaml:"allow" json:"allow"`
	Deny     int64           `yaml:"deny" json:"deny"`
}

// Channel is a channel or category.
type Channel struct {
	ID         string      `yaml:"id" json:"id"`
	Name       string      `yaml:"name" json:"name"`
	Kind       ChannelKind `yaml:"kind" json:"kind"`
	ParentID   string      `yaml:"parent_id,omitempty" json:"parent_id,omitempty"`
	Topic      string      `yaml:"topic,omitempty" json:"topic,omitempty"`
	Position   int         `yaml:"position" json:"position"`
	NSFW       bool        `yaml:"nsfw,omitempty" json:"nsfw,omitempty"`
	Slowmode   int         `yaml:"slowmode,omitempty" json:"slowmode,omitempty"`
	Overwrites []Overwrite `yaml:"overwrites,omitempty" json:"overwrites,omitempty"`
}

// Role is a permission role.
type Role struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Color       int    `yaml:"color,omitempty" json:"color,omitempty"`
	Hoist       bool   `yaml:"hoist,omitempty" json:"hoist,omitempty"`
	Mentionable bool   `yaml:"mentionable,omitempty" json:"mentionable,omitempty"`
	Position    int    `yaml:"position" json:"position"`
	Permissions int64  `yaml:"permissions,omitempty" json:"permissions,omitempty"`
}

// ChannelSpec describes a channel to create.
type ChannelSpec struct {
	Name     string
	Kind     ChannelKind
	ParentID string
	Topic    string
	Position *int
}

// ChannelEdit changes selected channel fields. Nil fields are left alone;
// a non-nil empty ParentID detaches the channel from its category.
type ChannelEdit struct {
	Name     *string
	Topic    *string
	ParentID *string
	Position *int
	NSFW     *bool
	Slowmode *int
}

// Empty reports whether the edit changes nothing.
func (e ChannelEdit) Empty() bool {
	return e.Name == nil && e.Topic == nil && e.ParentID == nil && e.Position == nil && e.NSFW == nil && e.Slowmode == nil
}

// RoleSpec describes a role to create.
type RoleSpec struct {
	Name        string
	Color       int
	Hoist       bool
	Mentionable bool
}

// RoleEdit changes selected role fields.
type RoleEdit struct {
	Name        *string
	Color       *int
	Hoist       *bool
	Mentionable *bool
}

// Empty reports whether the edit changes nothing.
func (e RoleEdit) Empty() bool {
	return e.Name == nil && e.Color == nil && e.Hoist == nil && e.Mentionable == nil
}

// API is the set of graph calls available to handlers. Each mutating
// method is one remote call.
type API interface {
	Channel(ctx context.Context, id string) (*Channel, error)
	Role(ctx context.Context, id string) (*Role, error)

	CreateChannel(ctx context.Context, spec ChannelSpec, reason string) (*Channel, error)
	EditChannel(ctx context.Context, id string, edit ChannelEdit, reason string) (*Channel, error)
	DeleteChannel(ctx context.Context, id, reason string) error

	CreateRole(ctx context.Context, spec RoleSpec, reason string) (*Role, error)
	EditRole(ctx context.Context, id string, edit RoleEdit, reason string) (*Role, error)
	DeleteRole(ctx context.Context, id, reason string) error

	SetOverwrite(ctx context.Context, channelID string, ow Overwrite, reason string) error
	DeleteOverwrite(ctx context.Context, channelID, targetID, reason string) error
}

// Provider hands out the graph for a target.
type Provider interface {
	Graph(ctx context.Context, targetID string) (API, error)
}
