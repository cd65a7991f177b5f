package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/graphpatch/pkg/graph"
)

const maxSlowmodeSeconds = 21600

var (
	idParam       = Param{Name: "id", Kind: KindSnowflake, Required: true}
	nameParam     = Param{Name: "name", Kind: KindText, Required: true}
	enabledParam  = Param{Name: "enabled", Kind: KindBool, Required: true}
	positionParam = Param{Name: "position", Kind: KindInt}
	colorParam    = Param{Name: "color", Kind: KindInt, Max: 0xFFFFFF}
)

func channelKindEnum() []string {
	out := make([]string, 0, len(graph.ChannelKinds))
	for _, k := range graph.ChannelKinds {
		if k != graph.KindCategory {
			out = append(out, string(k))
		}
	}
	return out
}

// Builtin returns a catalog with every built-in handler.
func Builtin() *Catalog {
	c, err := NewCatalog(builtinHandlers()...)
	if err != nil {
		panic(err)
	}
	return c
}

func builtinHandlers() []*Handler {
	return []*Handler{
		{
			ID:          "category.create",
			Description: "Create a category",
			Params:      []Param{nameParam, positionParam},
			Run:         createCategory,
		},
		{
			ID:          "channel.create",
			Description: "Create a channel, optionally inside a category",
			Params: []Param{
				nameParam,
				{Name: "kind", Kind: KindEnum, Enum: channelKindEnum()},
				{Name: "parent", Kind: KindSnowflake},
				{Name: "topic", Kind: KindText},
			},
			Run: createChannel,
		},
		{
			ID:          "channel.edit",
			Description: "Change several channel fields at once",
			Params: []Param{
				idParam,
				{Name: "name", Kind: KindText},
				{Name: "topic", Kind: KindText},
				{Name: "nsfw", Kind: KindBool},
				{Name: "slowmode", Kind: KindInt, Max: maxSlowmodeSeconds},
				positionParam,
				{Name: "parent", Kind: KindSnowflake},
			},
			Run: editChannel,
		},
		{
			ID:          "channel.rename",
			Description: "Rename a channel or category",
			Params:      []Param{idParam, nameParam},
			Run:         renameChannel,
		},
		{
			ID:          "channel.topic",
			Description: "Set or clear a channel topic",
			Params:      []Param{idParam, {Name: "topic", Kind: KindText}},
			Run:         setChannelTopic,
		},
		{
			ID:          "channel.move",
			Description: "Move a channel into a category, or out of one when parent is empty",
			Params:      []Param{idParam, {Name: "parent", Kind: KindSnowflake}},
			Run:         moveChannel,
		},
		{
			ID:          "channel.position",
			Description: "Set a channel's sort position",
			Params:      []Param{idParam, {Name: "position", Kind: KindInt, Required: true}},
			Run:         setChannelPosition,
		},
		{
			ID:          "channel.nsfw",
			Description: "Mark a channel as age restricted",
			Params:      []Param{idParam, enabledParam},
			Run:         setChannelNSFW,
		},
		{
			ID:          "channel.slowmode",
			Description: "Set the per-user message interval in seconds",
			Params:      []Param{idParam, {Name: "seconds", Kind: KindInt, Required: true, Max: maxSlowmodeSeconds}},
			Run:         setChannelSlowmode,
		},
		{
			ID:          "channel.delete",
			Description: "Delete a channel or category",
			Params:      []Param{idParam},
			Destructive: true,
			Run:         deleteChannel,
		},
		{
			ID:          "role.create",
			Description: "Create a role",
			Params: []Param{
				nameParam,
				colorParam,
				{Name: "hoist", Kind: KindBool},
				{Name: "mentionable", Kind: KindBool},
			},
			Run: createRole,
		},
		{
			ID:          "role.edit",
			Description: "Change several role fields at once",
			Params: []Param{
				idParam,
				{Name: "name", Kind: KindText},
				colorParam,
				{Name: "hoist", Kind: KindBool},
				{Name: "mentionable", Kind: KindBool},
			},
			Run: editRole,
		},
		{
			ID:          "role.rename",
			Description: "Rename a role",
			Params:      []Param{idParam, nameParam},
			Run:         renameRole,
		},
		{
			ID:          "role.hoist",
			Description: "Show role members separately",
			Params:      []Param{idParam, enabledParam},
			Run:         setRoleHoist,
		},
		{
			ID:          "role.mentionable",
			Description: "Allow anyone to mention the role",
			Params:      []Param{idParam, enabledParam},
			Run:         setRoleMentionable,
		},
		{
			ID:          "role.delete",
			Description: "Delete a role",
			Params:      []Param{idParam},
			Destructive: true,
			Run:         deleteRole,
		},
		{
			ID:          "overwrite.set",
			Description: "Set a channel permission overwrite for a role or member",
			Params: []Param{
				{Name: "channel", Kind: KindSnowflake, Required: true},
				{Name: "target", Kind: KindSnowflake, Required: true},
				{Name: "allow", Kind: KindInt},
				{Name: "deny", Kind: KindInt},
			},
			Run: setOverwrite,
		},
		{
			ID:          "overwrite.delete",
			Description: "Remove a channel permission overwrite",
			Params: []Param{
				{Name: "channel", Kind: KindSnowflake, Required: true},
				{Name: "target", Kind: KindSnowflake, Required: true},
			},
			Destructive: true,
			Run:         deleteOverwrite,
		},
		{
			ID:          "resource.rename",
			Description: "Rename whatever channel, category or role has the given ID",
			Params:      []Param{idParam, nameParam},
			Run:         renameResource,
		},
		{
			ID:          "resource.delete",
			Description: "Delete whatever channel, category or role has the given ID",
			Params:      []Param{idParam},
			Destructive: true,
			Run:         deleteResource,
		},
	}
}

func unchanged(id string) (Outcome, error) {
	return Outcome{Changed: false, AffectedID: id}, nil
}

func changed(id string) (Outcome, error) {
	return Outcome{Changed: true, AffectedID: id}, nil
}

func intPtr(n int64) *int {
	v := int(n)
	return &v
}

func createCategory(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	spec := graph.ChannelSpec{Name: args.String("name"), Kind: graph.KindCategory}
	if pos, ok := args.Int("position"); ok {
		spec.Position = intPtr(pos)
	}

	c, err := g.CreateChannel(ctx, spec, hc.Reason)
	if err != nil {
		return Outcome{}, err
	}
	return changed(c.ID)
}

func createChannel(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	spec := graph.ChannelSpec{
		Name:     args.String("name"),
		Kind:     graph.ChannelKind(args.String("kind")),
		ParentID: args.String("parent"),
		Topic:    args.String("topic"),
	}

	c, err := g.CreateChannel(ctx, spec, hc.Reason)
	if err != nil {
		return Outcome{}, err
	}
	return changed(c.ID)
}

func editChannel(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id := args.String("id")
	current, err := g.Channel(ctx, id)
	if err != nil {
		return Outcome{}, err
	}

	var edit graph.ChannelEdit
	if name := args.String("name"); args.Has("name") && name != current.Name {
		edit.Name = &name
	}
	if topic := args.String("topic"); args.Has("topic") && topic != current.Topic {
		edit.Topic = &topic
	}
	if nsfw, ok := args.Bool("nsfw"); ok && nsfw != current.NSFW {
		edit.NSFW = &nsfw
	}
	if slow, ok := args.Int("slowmode"); ok && int(slow) != current.Slowmode {
		edit.Slowmode = intPtr(slow)
	}
	if pos, ok := args.Int("position"); ok && int(pos) != current.Position {
		edit.Position = intPtr(pos)
	}
	if parent := args.String("parent"); args.Has("parent") && parent != current.ParentID {
		edit.ParentID = &parent
	}

	if edit.Empty() {
		return unchanged(id)
	}
	if _, err := g.EditChannel(ctx, id, edit, hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(id)
}

func renameChannel(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id, name := args.String("id"), args.String("name")
	current, err := g.Channel(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if current.Name == name {
		return unchanged(id)
	}
	if _, err := g.EditChannel(ctx, id, graph.ChannelEdit{Name: &name}, hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(id)
}

func setChannelTopic(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id, topic := args.String("id"), args.String("topic")
	current, err := g.Channel(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if current.Topic == topic {
		return unchanged(id)
	}
	if _, err := g.EditChannel(ctx, id, graph.ChannelEdit{Topic: &topic}, hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(id)
}

func moveChannel(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id, parent := args.String("id"), args.String("parent")
	current, err := g.Channel(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if current.ParentID == parent {
		return unchanged(id)
	}
	if _, err := g.EditChannel(ctx, id, graph.ChannelEdit{ParentID: &parent}, hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(id)
}

func setChannelPosition(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id := args.String("id")
	pos, _ := args.Int("position")
	current, err := g.Channel(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if current.Position == int(pos) {
		return unchanged(id)
	}
	if _, err := g.EditChannel(ctx, id, graph.ChannelEdit{Position: intPtr(pos)}, hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(id)
}

func setChannelNSFW(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id := args.String("id")
	enabled, _ := args.Bool("enabled")
	current, err := g.Channel(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if current.NSFW == enabled {
		return unchanged(id)
	}
	if _, err := g.EditChannel(ctx, id, graph.ChannelEdit{NSFW: &enabled}, hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(id)
}

func setChannelSlowmode(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id := args.String("id")
	seconds, _ := args.Int("seconds")
	current, err := g.Channel(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if current.Slowmode == int(seconds) {
		return unchanged(id)
	}
	if _, err := g.EditChannel(ctx, id, graph.ChannelEdit{Slowmode: intPtr(seconds)}, hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(id)
}

func deleteChannel(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id := args.String("id")
	if err := g.DeleteChannel(ctx, id, hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(id)
}

func createRole(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	spec := graph.RoleSpec{Name: args.String("name")}
	if color, ok := args.Int("color"); ok {
		spec.Color = int(color)
	}
	spec.Hoist, _ = args.Bool("hoist")
	spec.Mentionable, _ = args.Bool("mentionable")

	r, err := g.CreateRole(ctx, spec, hc.Reason)
	if err != nil {
		return Outcome{}, err
	}
	return changed(r.ID)
}

func editRole(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id := args.String("id")
	current, err := g.Role(ctx, id)
	if err != nil {
		return Outcome{}, err
	}

	var edit graph.RoleEdit
	if name := args.String("name"); args.Has("name") && name != current.Name {
		edit.Name = &name
	}
	if color, ok := args.Int("color"); ok && int(color) != current.Color {
		edit.Color = intPtr(color)
	}
	if hoist, ok := args.Bool("hoist"); ok && hoist != current.Hoist {
		edit.Hoist = &hoist
	}
	if mentionable, ok := args.Bool("mentionable"); ok && mentionable != current.Mentionable {
		edit.Mentionable = &mentionable
	}

	if edit.Empty() {
		return unchanged(id)
	}
	if _, err := g.EditRole(ctx, id, edit, hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(id)
}

func renameRole(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id, name := args.String("id"), args.String("name")
	current, err := g.Role(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if current.Name == name {
		return unchanged(id)
	}
	if _, err := g.EditRole(ctx, id, graph.RoleEdit{Name: &name}, hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(id)
}

func setRoleHoist(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id := args.String("id")
	enabled, _ := args.Bool("enabled")
	current, err := g.Role(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if current.Hoist == enabled {
		return unchanged(id)
	}
	if _, err := g.EditRole(ctx, id, graph.RoleEdit{Hoist: &enabled}, hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(id)
}

func setRoleMentionable(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id := args.String("id")
	enabled, _ := args.Bool("enabled")
	current, err := g.Role(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if current.Mentionable == enabled {
		return unchanged(id)
	}
	if _, err := g.EditRole(ctx, id, graph.RoleEdit{Mentionable: &enabled}, hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(id)
}

func deleteRole(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id := args.String("id")
	if err := g.DeleteRole(ctx, id, hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(id)
}

// setOverwrite merges the given masks into the target's existing overwrite.
// Bits granted by allow are cleared from deny and the reverse. When both
// masks are given they replace the overwrite.
func setOverwrite(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	channelID := args.String("channel")
	targetID := args.String("target")
	allow, hasAllow := args.Int("allow")
	deny, hasDeny := args.Int("deny")

	ch, err := g.Channel(ctx, channelID)
	if err != nil {
		return Outcome{}, err
	}

	var current *graph.Overwrite
	for i := range ch.Overwrites {
		if ch.Overwrites[i].TargetID == targetID {
			current = &ch.Overwrites[i]
			break
		}
	}

	next := graph.Overwrite{TargetID: targetID}
	if current != nil {
		next = *current
	}
	switch {
	case hasAllow && hasDeny:
		next.Allow, next.Deny = allow, deny
	case hasAllow:
		next.Allow |= allow
		next.Deny &^= allow
	case hasDeny:
		next.Deny |= deny
		next.Allow &^= deny
	}

	if current != nil && next.Allow == current.Allow && next.Deny == current.Deny {
		return unchanged(channelID)
	}
	if err := g.SetOverwrite(ctx, channelID, next, hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(channelID)
}

func deleteOverwrite(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	channelID := args.String("channel")
	if err := g.DeleteOverwrite(ctx, channelID, args.String("target"), hc.Reason); err != nil {
		return Outcome{}, err
	}
	return changed(channelID)
}

func renameResource(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id := args.String("id")
	if _, err := g.Channel(ctx, id); err == nil {
		return renameChannel(ctx, g, args, hc)
	} else if !errors.Is(err, graph.ErrNotFound) {
		return Outcome{}, err
	}
	if _, err := g.Role(ctx, id); err == nil {
		return renameRole(ctx, g, args, hc)
	} else if !errors.Is(err, graph.ErrNotFound) {
		return Outcome{}, err
	}
	return Outcome{}, fmt.Errorf("no channel or role with id %s: %w", id, graph.ErrNotFound)
}

func deleteResource(ctx context.Context, g graph.API, args Args, hc Context) (Outcome, error) {
	id := args.String("id")
	if _, err := g.Channel(ctx, id); err == nil {
		return deleteChannel(ctx, g, args, hc)
	} else if !errors.Is(err, graph.ErrNotFound) {
		return Outcome{}, err
	}
	if _, err := g.Role(ctx, id); err == nil {
		return deleteRole(ctx, g, args, hc)
	} else if !errors.Is(err, graph.ErrNotFound) {
		return Outcome{}, err
	}
	return Outcome{}, fmt.Errorf("no channel or role with id %s: %w", id, graph.ErrNotFound)
}
