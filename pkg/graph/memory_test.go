package graph

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testTarget = "900000000000000000"

func ptr[T any](v T) *T { return &v }

func TestMemoryChannelLifecycle(t *testing.T) {
	ctx := context.Background()
	g := NewMemory(testTarget)

	cat, err := g.CreateChannel(ctx, ChannelSpec{Name: "Lounges", Kind: KindCategory}, "setup")
	if err != nil {
		t.Fatalf("CreateChannel(category) error = %v", err)
	}
	ch, err := g.CreateChannel(ctx, ChannelSpec{Name: " general ", ParentID: cat.ID}, "setup")
	if err != nil {
		t.Fatalf("CreateChannel() error = %v", err)
	}
	if ch.Name != "general" || ch.Kind != KindText || ch.ParentID != cat.ID {
		t.Errorf("unexpected channel: %+v", ch)
	}
	if len(ch.ID) < 17 || len(ch.ID) > 20 {
		t.Errorf("generated ID %q is not snowflake-sized", ch.ID)
	}

	edited, err := g.EditChannel(ctx, ch.ID, ChannelEdit{Name: ptr("lounge"), NSFW: ptr(true), Slowmode: ptr(30)}, "tidy")
	if err != nil {
		t.Fatalf("EditChannel() error = %v", err)
	}
	if edited.Name != "lounge" || !edited.NSFW || edited.Slowmode != 30 {
		t.Errorf("edit not applied: %+v", edited)
	}

	if err := g.DeleteChannel(ctx, cat.ID, "cleanup"); err != nil {
		t.Fatalf("DeleteChannel() error = %v", err)
	}
	orphan, err := g.Channel(ctx, ch.ID)
	if err != nil {
		t.Fatalf("Channel() error = %v", err)
	}
	if orphan.ParentID != "" {
		t.Errorf("deleting a category should detach children, parent = %q", orphan.ParentID)
	}

	if len(g.Calls()) != 4 {
		t.Errorf("got %d mutating calls, want 4", len(g.Calls()))
	}
}

func TestMemoryRejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	g := NewMemory(testTarget)
	cat, _ := g.CreateChannel(ctx, ChannelSpec{Name: "cat", Kind: KindCategory}, "")
	text, _ := g.CreateChannel(ctx, ChannelSpec{Name: "text"}, "")

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"empty name", func() error { _, err := g.CreateChannel(ctx, ChannelSpec{Name: "  "}, ""); return err }, ErrInvalid},
		{"bad kind", func() error { _, err := g.CreateChannel(ctx, ChannelSpec{Name: "x", Kind: "hologram"}, ""); return err }, ErrInvalid},
		{"nested category", func() error {
			_, err := g.CreateChannel(ctx, ChannelSpec{Name: "x", Kind: KindCategory, ParentID: cat.ID}, "")
			return err
		}, ErrInvalid},
		{"parent not a category", func() error {
			_, err := g.EditChannel(ctx, cat.ID, ChannelEdit{ParentID: ptr(text.ID)}, "")
			return err
		}, ErrInvalid},
		{"missing parent", func() error {
			_, err := g.EditChannel(ctx, text.ID, ChannelEdit{ParentID: ptr("123456789012345678")}, "")
			return err
		}, ErrNotFound},
		{"slowmode too large", func() error {
			_, err := g.EditChannel(ctx, text.ID, ChannelEdit{Slowmode: ptr(maxSlowmode + 1)}, "")
			return err
		}, ErrInvalid},
		{"missing channel", func() error { return g.DeleteChannel(ctx, "123456789012345678", "") }, ErrNotFound},
		{"delete everyone", func() error { return g.DeleteRole(ctx, testTarget, "") }, ErrInvalid},
		{"allow and deny overlap", func() error {
			return g.SetOverwrite(ctx, text.ID, Overwrite{TargetID: testTarget, Allow: 3, Deny: 1}, "")
		}, ErrInvalid},
		{"missing overwrite", func() error { return g.DeleteOverwrite(ctx, text.ID, testTarget, "") }, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMemoryOverwrites(t *testing.T) {
	ctx := context.Background()
	g := NewMemory(testTarget)
	ch, _ := g.CreateChannel(ctx, ChannelSpec{Name: "staff"}, "")
	role, _ := g.CreateRole(ctx, RoleSpec{Name: "Mods"}, "")

	if err := g.SetOverwrite(ctx, ch.ID, Overwrite{TargetID: role.ID, Allow: 1024}, ""); err != nil {
		t.Fatalf("SetOverwrite(role) error = %v", err)
	}
	if err := g.SetOverwrite(ctx, ch.ID, Overwrite{TargetID: "123456789012345678", Deny: 1024}, ""); err != nil {
		t.Fatalf("SetOverwrite(member) error = %v", err)
	}
	if err := g.SetOverwrite(ctx, ch.ID, Overwrite{TargetID: role.ID, Allow: 2048}, ""); err != nil {
		t.Fatalf("SetOverwrite(replace) error = %v", err)
	}

	got, _ := g.Channel(ctx, ch.ID)
	want := []Overwrite{
		{TargetID: "123456789012345678", Target: OverwriteMember, Deny: 1024},
		{TargetID: role.ID, Target: OverwriteRole, Allow: 2048},
	}
	if diff := cmp.Diff(want, got.Overwrites); diff != "" {
		t.Errorf("overwrites mismatch (-want +got):\n%s", diff)
	}

	if err := g.DeleteRole(ctx, role.ID, ""); err != nil {
		t.Fatalf("DeleteRole() error = %v", err)
	}
	got, _ = g.Channel(ctx, ch.ID)
	if len(got.Overwrites) != 1 {
		t.Errorf("deleting a role should drop its overwrites, got %+v", got.Overwrites)
	}
}

func TestMemoryInjectedFailure(t *testing.T) {
	ctx := context.Background()
	g := NewMemory(testTarget)
	ch, _ := g.CreateChannel(ctx, ChannelSpec{Name: "doomed"}, "")

	boom := errors.New("remote unavailable")
	g.InjectFailure(ch.ID, boom)

	if _, err := g.EditChannel(ctx, ch.ID, ChannelEdit{Name: ptr("x")}, ""); !errors.Is(err, boom) {
		t.Errorf("error = %v, want injected failure", err)
	}
	got, _ := g.Channel(ctx, ch.ID)
	if got.Name != "doomed" {
		t.Errorf("failed call must not mutate, name = %q", got.Name)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	g := NewMemory(testTarget)
	cat, _ := g.CreateChannel(ctx, ChannelSpec{Name: "Lounges", Kind: KindCategory}, "")
	ch, _ := g.CreateChannel(ctx, ChannelSpec{Name: "general", ParentID: cat.ID, Topic: "hi"}, "")
	role, _ := g.CreateRole(ctx, RoleSpec{Name: "Mods", Hoist: true}, "")
	_ = g.SetOverwrite(ctx, ch.ID, Overwrite{TargetID: role.ID, Allow: 8}, "")

	var buf bytes.Buffer
	if err := g.WriteSnapshot(&buf); err != nil {
		t.Fatalf("WriteSnapshot() error = %v", err)
	}

	restored, err := ReadSnapshot(&buf)
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	if diff := cmp.Diff(g.Snapshot(), restored.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	next, _ := restored.CreateRole(ctx, RoleSpec{Name: "New"}, "")
	if next.ID <= role.ID {
		t.Errorf("restored graph reused an ID: %s <= %s", next.ID, role.ID)
	}
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider(NewMemory(testTarget))

	if _, err := p.Graph(context.Background(), testTarget); err != nil {
		t.Errorf("Graph() error = %v", err)
	}
	if _, err := p.Graph(context.Background(), "123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Graph(unknown) error = %v, want ErrNotFound", err)
	}
}
