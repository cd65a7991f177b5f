package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeMap(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write map: %v", err)
	}
}

func TestRegistryReloadSwapsTable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "operations.map")
	writeMap(t, path, "rename:channel = channel.rename:id,name\n")

	var reloads int
	reg, err := New(ctx, FileSource{Path: path}, nil, WithReloadHook(func(*Table, error) { reloads++ }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	before := reg.Snapshot()
	if _, err := reg.Resolve("delete", "channel"); err == nil {
		t.Fatal("delete:channel should not resolve before reload")
	}

	writeMap(t, path, "rename:channel = channel.rename:id,name\ndelete:channel = channel.delete:id\n")
	if err := reg.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if _, err := reg.Resolve("delete", "channel"); err != nil {
		t.Errorf("delete:channel should resolve after reload: %v", err)
	}
	if before.Len() != 1 {
		t.Errorf("previous snapshot changed: Len() = %d", before.Len())
	}
	if reloads != 2 {
		t.Errorf("reload hook called %d times, want 2", reloads)
	}
}

func TestRegistryFailedReloadKeepsPreviousTable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "operations.map")
	writeMap(t, path, "rename:channel = channel.rename:id,name\n")

	catalog := fakeCatalog{"channel.rename": {Params: []string{"id", "name"}}}
	reg, err := New(ctx, FileSource{Path: path}, catalog)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	writeMap(t, path, "rename:channel = channel.rename:id,name\nrename:role = role.rename:id,name\n")
	if err := reg.Reload(ctx); err == nil {
		t.Fatal("expected reload to fail on dangling handler")
	}

	if _, err := reg.Resolve("rename", "channel"); err != nil {
		t.Errorf("previous table should still resolve: %v", err)
	}
	if _, err := reg.Resolve("rename", "role"); err == nil {
		t.Error("rejected map must not become active")
	}
}

func TestRegistryConcurrentReadsDuringReload(t *testing.T) {
	ctx := context.Background()
	reg, err := New(ctx, StaticSource{Label: "static", Data: []byte("rename:channel = channel.rename:id,name\n")}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := reg.Resolve("rename", "channel"); err != nil {
					t.Errorf("Resolve() error = %v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			if err := reg.Reload(ctx); err != nil {
				t.Errorf("Reload() error = %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestRegistryWatchReloadsOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "operations.map")
	writeMap(t, path, "rename:channel = channel.rename:id,name\n")

	reg, err := New(ctx, FileSource{Path: path}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := reg.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeMap(t, path, "rename:channel = channel.rename:id,name\ndelete:role = role.delete:id\n")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := reg.Resolve("delete", "role"); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("watcher did not reload the operation map")
}

func TestWatchRequiresFileSource(t *testing.T) {
	reg, err := New(context.Background(), StaticSource{Label: "static"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := reg.Watch(context.Background()); err == nil {
		t.Error("expected error watching a static source")
	}
}
