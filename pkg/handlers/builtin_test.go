package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/openfroyo/graphpatch/pkg/graph"
	"github.com/openfroyo/graphpatch/pkg/registry"
)

const target = "900000000000000000"

type fixture struct {
	g        *graph.Memory
	category string
	channel  string
	role     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	g := graph.NewMemory(target)

	cat, err := g.CreateChannel(ctx, graph.ChannelSpec{Name: "Lounges", Kind: graph.KindCategory}, "")
	if err != nil {
		t.Fatalf("seed category: %v", err)
	}
	ch, err := g.CreateChannel(ctx, graph.ChannelSpec{Name: "general", ParentID: cat.ID}, "")
	if err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	role, err := g.CreateRole(ctx, graph.RoleSpec{Name: "Mods"}, "")
	if err != nil {
		t.Fatalf("seed role: %v", err)
	}
	return &fixture{g: g, category: cat.ID, channel: ch.ID, role: role.ID}
}

func run(t *testing.T, f *fixture, handlerID string, raw map[string]string) (Outcome, error) {
	t.Helper()
	h, ok := Builtin().Lookup(handlerID)
	if !ok {
		t.Fatalf("handler %s not registered", handlerID)
	}
	args, err := h.Bind(raw)
	if err != nil {
		return Outcome{}, err
	}
	return h.Run(context.Background(), f.g, args, Context{TargetID: target, Reason: "test"})
}

func mutations(f *fixture, before int) int {
	return len(f.g.Calls()) - before
}

func TestHandlersMakeOneMutatingCall(t *testing.T) {
	tests := []struct {
		name    string
		handler string
		args    func(f *fixture) map[string]string
	}{
		{"create category", "category.create", func(f *fixture) map[string]string { return map[string]string{"name": "Games"} }},
		{"create channel", "channel.create", func(f *fixture) map[string]string {
			return map[string]string{"name": "voice", "kind": "voice", "parent": f.category}
		}},
		{"edit channel", "channel.edit", func(f *fixture) map[string]string {
			return map[string]string{"id": f.channel, "name": "chat", "nsfw": "yes", "slowmode": "10"}
		}},
		{"rename channel", "channel.rename", func(f *fixture) map[string]string { return map[string]string{"id": f.channel, "name": "chat"} }},
		{"topic", "channel.topic", func(f *fixture) map[string]string { return map[string]string{"id": f.channel, "topic": "hello"} }},
		{"move out", "channel.move", func(f *fixture) map[string]string { return map[string]string{"id": f.channel} }},
		{"position", "channel.position", func(f *fixture) map[string]string { return map[string]string{"id": f.channel, "position": "7"} }},
		{"nsfw", "channel.nsfw", func(f *fixture) map[string]string { return map[string]string{"id": f.channel, "enabled": "on"} }},
		{"slowmode", "channel.slowmode", func(f *fixture) map[string]string { return map[string]string{"id": f.channel, "seconds": "60"} }},
		{"delete channel", "channel.delete", func(f *fixture) map[string]string { return map[string]string{"id": f.channel} }},
		{"create role", "role.create", func(f *fixture) map[string]string { return map[string]string{"name": "VIP", "hoist": "true"} }},
		{"edit role", "role.edit", func(f *fixture) map[string]string { return map[string]string{"id": f.role, "color": "255"} }},
		{"rename role", "role.rename", func(f *fixture) map[string]string { return map[string]string{"id": f.role, "name": "Moderators"} }},
		{"hoist", "role.hoist", func(f *fixture) map[string]string { return map[string]string{"id": f.role, "enabled": "1"} }},
		{"mentionable", "role.mentionable", func(f *fixture) map[string]string { return map[string]string{"id": f.role, "enabled": "yes"} }},
		{"delete role", "role.delete", func(f *fixture) map[string]string { return map[string]string{"id": f.role} }},
		{"set overwrite", "overwrite.set", func(f *fixture) map[string]string {
			return map[string]string{"channel": f.channel, "target": f.role, "allow": "1024"}
		}},
		{"rename resource (role)", "resource.rename", func(f *fixture) map[string]string { return map[string]string{"id": f.role, "name": "Staff"} }},
		{"delete resource (channel)", "resource.delete", func(f *fixture) map[string]string { return map[string]string{"id": f.channel} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before := len(f.g.Calls())

			out, err := run(t, f, tt.handler, tt.args(f))
			if err != nil {
				t.Fatalf("handler error = %v", err)
			}
			if !out.Changed || out.AffectedID == "" {
				t.Errorf("outcome = %+v, want changed with affected id", out)
			}
			if n := mutations(f, before); n != 1 {
				t.Errorf("made %d mutating calls, want 1", n)
			}
		})
	}
}

func TestHandlersNoOpWhenAlreadyInState(t *testing.T) {
	tests := []struct {
		name    string
		handler string
		args    func(f *fixture) map[string]string
	}{
		{"same name", "channel.rename", func(f *fixture) map[string]string { return map[string]string{"id": f.channel, "name": "general"} }},
		{"same parent", "channel.move", func(f *fixture) map[string]string { return map[string]string{"id": f.channel, "parent": f.category} }},
		{"nsfw already off", "channel.nsfw", func(f *fixture) map[string]string { return map[string]string{"id": f.channel, "enabled": "off"} }},
		{"edit matches", "channel.edit", func(f *fixture) map[string]string { return map[string]string{"id": f.channel, "name": "general"} }},
		{"role same name", "resource.rename", func(f *fixture) map[string]string { return map[string]string{"id": f.role, "name": "Mods"} }},
		{"hoist already off", "role.hoist", func(f *fixture) map[string]string { return map[string]string{"id": f.role, "enabled": "no"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before := len(f.g.Calls())

			out, err := run(t, f, tt.handler, tt.args(f))
			if err != nil {
				t.Fatalf("handler error = %v", err)
			}
			if out.Changed {
				t.Error("expected no change")
			}
			if n := mutations(f, before); n != 0 {
				t.Errorf("made %d mutating calls, want 0", n)
			}
		})
	}
}

func TestHandlersRejectBadInput(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		handler string
		args    map[string]string
		wantErr error
	}{
		{"short id", "channel.rename", map[string]string{"id": "12345", "name": "x"}, nil},
		{"missing name", "channel.rename", map[string]string{"id": f.channel}, nil},
		{"bad bool", "channel.nsfw", map[string]string{"id": f.channel, "enabled": "sometimes"}, nil},
		{"slowmode too large", "channel.slowmode", map[string]string{"id": f.channel, "seconds": "21601"}, nil},
		{"category kind not creatable as channel", "channel.create", map[string]string{"name": "x", "kind": "category"}, nil},
		{"unknown channel", "channel.delete", map[string]string{"id": "123456789012345678"}, graph.ErrNotFound},
		{"unknown resource", "resource.rename", map[string]string{"id": "123456789012345678", "name": "x"}, graph.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, f, tt.handler, tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			var bindErr *BindError
			if tt.wantErr == nil && !errors.As(err, &bindErr) {
				t.Errorf("error = %v, want BindError", err)
			}
		})
	}
}

func TestDefaultOperationsLoadAgainstBuiltin(t *testing.T) {
	table, err := registry.Load("default", DefaultOperations, Builtin())
	if err != nil {
		t.Fatalf("default operation map rejected: %v", err)
	}
	if len(table.Skipped()) != 0 {
		t.Errorf("default map has malformed lines: %v", table.Skipped())
	}

	for _, key := range [][2]string{{"delete", "channel"}, {"delete", "role"}, {"delete", "overwrite"}, {"delete", "widget"}} {
		d, err := table.Resolve(key[0], key[1])
		if err != nil {
			t.Fatalf("Resolve(%s:%s) error = %v", key[0], key[1], err)
		}
		if !d.Destructive {
			t.Errorf("%s:%s should be destructive", key[0], key[1])
		}
	}

	d, _ := table.Resolve("rename", "channel")
	if d.Destructive {
		t.Error("rename:channel must not be destructive")
	}
}

func TestCatalogRegister(t *testing.T) {
	c, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	h := &Handler{ID: "x.y", Run: func(context.Context, graph.API, Args, Context) (Outcome, error) { return Outcome{}, nil }}
	if err := c.Register(h); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := c.Register(h); err == nil {
		t.Error("duplicate registration should fail")
	}
	if err := c.Register(&Handler{ID: "no.run"}); err == nil {
		t.Error("handler without Run should be rejected")
	}

	capability, ok := Builtin().Capability("channel.rename")
	if !ok || len(capability.Required) != 2 || capability.Destructive {
		t.Errorf("capability = %+v, %v", capability, ok)
	}
}

func TestSetOverwriteMergesMasks(t *testing.T) {
	const (
		viewChannel  = 1024
		sendMessages = 2048
	)

	tests := []struct {
		name      string
		seed      graph.Overwrite
		args      map[string]string
		wantAllow int64
		wantDeny  int64
		wantCalls int
	}{
		{
			name:      "allow keeps existing deny",
			seed:      graph.Overwrite{Deny: sendMessages},
			args:      map[string]string{"allow": "1024"},
			wantAllow: viewChannel,
			wantDeny:  sendMessages,
			wantCalls: 1,
		},
		{
			name:      "allow clears the same deny bit",
			seed:      graph.Overwrite{Deny: viewChannel | sendMessages},
			args:      map[string]string{"allow": "1024"},
			wantAllow: viewChannel,
			wantDeny:  sendMessages,
			wantCalls: 1,
		},
		{
			name:      "deny keeps existing allow",
			seed:      graph.Overwrite{Allow: viewChannel},
			args:      map[string]string{"deny": "2048"},
			wantAllow: viewChannel,
			wantDeny:  sendMessages,
			wantCalls: 1,
		},
		{
			name:      "both masks replace",
			seed:      graph.Overwrite{Allow: viewChannel, Deny: sendMessages},
			args:      map[string]string{"allow": "2048", "deny": "0"},
			wantAllow: sendMessages,
			wantDeny:  0,
			wantCalls: 1,
		},
		{
			name:      "already allowed is a no-op",
			seed:      graph.Overwrite{Allow: viewChannel, Deny: sendMessages},
			args:      map[string]string{"allow": "1024"},
			wantAllow: viewChannel,
			wantDeny:  sendMessages,
			wantCalls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			seed := tt.seed
			seed.TargetID = f.role
			if err := f.g.SetOverwrite(ctx, f.channel, seed, "seed"); err != nil {
				t.Fatalf("seed overwrite: %v", err)
			}
			before := len(f.g.Calls())

			args := map[string]string{"channel": f.channel, "target": f.role}
			for k, v := range tt.args {
				args[k] = v
			}
			out, err := run(t, f, "overwrite.set", args)
			if err != nil {
				t.Fatalf("handler error = %v", err)
			}
			if out.Changed != (tt.wantCalls > 0) {
				t.Errorf("Changed = %v, want %v", out.Changed, tt.wantCalls > 0)
			}
			if n := mutations(f, before); n != tt.wantCalls {
				t.Errorf("made %d mutating calls, want %d", n, tt.wantCalls)
			}

			ch, err := f.g.Channel(ctx, f.channel)
			if err != nil {
				t.Fatal(err)
			}
			if len(ch.Overwrites) != 1 {
				t.Fatalf("overwrites = %+v, want one", ch.Overwrites)
			}
			got := ch.Overwrites[0]
			if got.Allow != tt.wantAllow || got.Deny != tt.wantDeny {
				t.Errorf("overwrite allow=%d deny=%d, want allow=%d deny=%d", got.Allow, got.Deny, tt.wantAllow, tt.wantDeny)
			}
		})
	}
}
