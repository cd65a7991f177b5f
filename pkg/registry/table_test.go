package registry

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeCatalog map[string]Capability

func (c fakeCatalog) Capability(id string) (Capability, bool) {
	capability, ok := c[id]
	return capability, ok
}

const sampleMap = `
# channel operations
rename:channel = channel.rename:id,name
rename:*       = resource.rename:id,name
delete:channel = channel.delete:id [destructive]
Create:Category = category.create:name

this line is malformed
missing:handler =
:channel = channel.rename:id
set:channel = channel.edit:id,name [explode]
`

func TestParseResolution(t *testing.T) {
	table := Parse("sample", []byte(sampleMap))

	tests := []struct {
		name        string
		verb        string
		typ         string
		wantHandler string
		wantErr     bool
	}{
		{name: "exact match", verb: "rename", typ: "channel", wantHandler: "channel.rename"},
		{name: "wildcard fallback", verb: "rename", typ: "role", wantHandler: "resource.rename"},
		{name: "case insensitive", verb: "RENAME", typ: "Channel", wantHandler: "channel.rename"},
		{name: "mixed case entry", verb: "create", typ: "category", wantHandler: "category.create"},
		{name: "no cross-verb fallback", verb: "delete", typ: "role", wantErr: true},
		{name: "unknown verb", verb: "explode", typ: "channel", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := table.Resolve(tt.verb, tt.typ)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownOperation) {
					t.Fatalf("expected unknown operation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if d.HandlerID != tt.wantHandler {
				t.Errorf("HandlerID = %q, want %q", d.HandlerID, tt.wantHandler)
			}
		})
	}
}

func TestParseSkipsMalformedEntries(t *testing.T) {
	table := Parse("sample", []byte(sampleMap))

	if table.Len() != 4 {
		t.Errorf("Len() = %d, want 4", table.Len())
	}
	if diff := cmp.Diff([]int{8, 9, 10, 11}, table.Skipped()); diff != "" {
		t.Errorf("Skipped() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDescriptorFields(t *testing.T) {
	table := Parse("sample", []byte(sampleMap))

	d, err := table.Resolve("delete", "channel")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := &Descriptor{
		Verb:         "delete",
		ResourceType: "channel",
		HandlerID:    "channel.delete",
		Params:       []string{"id"},
		Destructive:  true,
		SourceLine:   5,
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownOperationMessage(t *testing.T) {
	table := Parse("empty", nil)
	_, err := table.Resolve("Frobnicate", "Widget")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "unknown operation `frobnicate:widget`" {
		t.Errorf("Error() = %q", got)
	}
}

func TestParseLaterEntryOverrides(t *testing.T) {
	table := Parse("dup", []byte("rename:role = role.rename:id,name\nrename:role = resource.rename:id,name\n"))

	d, err := table.Resolve("rename", "role")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if d.HandlerID != "resource.rename" {
		t.Errorf("HandlerID = %q, want resource.rename", d.HandlerID)
	}
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1", table.Len())
	}
}

func TestLoadValidatesAgainstCatalog(t *testing.T) {
	catalog := fakeCatalog{
		"channel.rename": {Params: []string{"id", "name"}, Required: []string{"id", "name"}},
		"channel.delete": {Params: []string{"id"}, Required: []string{"id"}, Destructive: true},
	}

	t.Run("valid map", func(t *testing.T) {
		table, err := Load("ok", []byte("rename:channel = channel.rename:id,name\nremove:channel = channel.delete:id\n"), catalog)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		d, _ := table.Resolve("remove", "channel")
		if !d.Destructive {
			t.Error("handler capability should mark descriptor destructive")
		}
	})

	tests := []struct {
		name    string
		src     string
		problem string
	}{
		{name: "dangling handler", src: "rename:role = role.rename:id,name", problem: `handler "role.rename" is not registered`},
		{name: "unknown parameter", src: "rename:channel = channel.rename:id,name,colour", problem: `has no parameter "colour"`},
		{name: "missing required parameter", src: "rename:channel = channel.rename:id", problem: `requires parameter "name"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("bad", []byte(tt.src), catalog)
			var loadErr *LoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("expected LoadError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.problem) {
				t.Errorf("error %q does not mention %q", err, tt.problem)
			}
		})
	}
}

func TestVerbs(t *testing.T) {
	table := Parse("sample", []byte(sampleMap))
	if diff := cmp.Diff([]string{"create", "delete", "rename"}, table.Verbs()); diff != "" {
		t.Errorf("Verbs() mismatch (-want +got):\n%s", diff)
	}
}
