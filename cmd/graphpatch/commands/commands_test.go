package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/graphpatch/pkg/engine"
	"github.com/openfroyo/graphpatch/pkg/graph"
)

const (
	testTarget  = "900000000000000000"
	testChannel = "100000000000000002"
)

type workspace struct {
	dir      string
	config   string
	snapshot string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	ws := &workspace{
		dir:      dir,
		config:   filepath.Join(dir, "graphpatch.cue"),
		snapshot: filepath.Join(dir, "graph.yaml"),
	}

	cfg := fmt.Sprintf(`database: path: %q
graph: snapshot: %q
telemetry: logging: level: "error"
`, filepath.Join(dir, "graphpatch.db"), ws.snapshot)
	if err := os.WriteFile(ws.config, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	g := graph.NewMemory(testTarget)
	g.AddChannel(graph.Channel{ID: testChannel, Name: "general", Kind: graph.KindText})
	if err := g.SaveFile(ws.snapshot); err != nil {
		t.Fatal(err)
	}
	return ws
}

func (ws *workspace) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(ws.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (ws *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", ws.config, "--actor", "tester"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPlanApplyFlow(t *testing.T) {
	ws := newWorkspace(t)
	script := ws.writeFile(t, "rename.patch", "rename channel "+testChannel+" main-hall\n")

	out, err := ws.run(t, "plan", script, "--json")
	if err != nil {
		t.Fatalf("plan error = %v\n%s", err, out)
	}
	var plan engine.PlanResult
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("plan output is not JSON: %v\n%s", err, out)
	}
	if plan.ActionCount != 1 || plan.Code == "" {
		t.Fatalf("plan = %+v", plan)
	}

	out, err = ws.run(t, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(out, "Planned by tester") {
		t.Errorf("status output missing actor:\n%s", out)
	}

	out, err = ws.run(t, "apply", strings.ToLower(plan.Code))
	if err != nil {
		t.Fatalf("apply error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Applied 1 of 1 action") {
		t.Errorf("apply output:\n%s", out)
	}

	g, err := graph.LoadFile(ws.snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if name := g.Channels()[0].Name; name != "main-hall" {
		t.Errorf("channel name = %q, want main-hall", name)
	}

	out, err = ws.run(t, "history", "runs")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(out, "succeeded") {
		t.Errorf("history output:\n%s", out)
	}

	_, err = ws.run(t, "apply", plan.Code)
	if !errors.Is(err, engine.ErrNoPendingPatch) {
		t.Errorf("second apply error = %v, want no pending patch", err)
	}
}

func TestApplyWrongCodeKeepsPatch(t *testing.T) {
	ws := newWorkspace(t)
	script := ws.writeFile(t, "topic.patch", "topic channel "+testChannel+` topic="hello there"`+"\n")

	if out, err := ws.run(t, "plan", script); err != nil {
		t.Fatalf("plan error = %v\n%s", err, out)
	}

	_, err := ws.run(t, "apply", "AAAAAA")
	if !errors.Is(err, engine.ErrInvalidCode) {
		t.Fatalf("apply error = %v, want invalid code", err)
	}
	if code := ExitCode(err); code != exitGate {
		t.Errorf("ExitCode() = %d, want %d", code, exitGate)
	}

	out, err := ws.run(t, "cancel")
	if err != nil {
		t.Fatalf("cancel error = %v", err)
	}
	if !strings.Contains(out, "Cancelled") {
		t.Errorf("cancel output:\n%s", out)
	}
}

func TestPlanRejectedScript(t *testing.T) {
	ws := newWorkspace(t)
	script := ws.writeFile(t, "bad.patch", "explode widget "+testChannel+"\n")

	_, err := ws.run(t, "plan", script)
	if err == nil {
		t.Fatal("expected plan to be rejected")
	}
	if code := ExitCode(err); code != exitRejected {
		t.Errorf("ExitCode() = %d, want %d", code, exitRejected)
	}

	var buf bytes.Buffer
	ReportError(&buf, err)
	if !strings.Contains(buf.String(), "Plan rejected:") || !strings.Contains(buf.String(), "line 1") {
		t.Errorf("report:\n%s", buf.String())
	}
}

func TestGenerate(t *testing.T) {
	ws := newWorkspace(t)
	program := ws.writeFile(t, "prefix.star", `for ch in channels:
    emit("rename", "channel", ch["id"], prefix + ch["name"])
`)

	out, err := ws.run(t, "generate", program, "--var", "prefix=old-")
	if err != nil {
		t.Fatalf("generate error = %v\n%s", err, out)
	}
	want := "rename channel " + testChannel + " old-general\n"
	if out != want {
		t.Errorf("generate output = %q, want %q", out, want)
	}

	if _, err := ws.run(t, "generate", program, "--var", "channels=x"); err == nil {
		t.Error("shadowing a built-in global should fail")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{engine.ErrEmptyPlan, exitRejected},
		{engine.ErrPatchExpired, exitGate},
		{engine.ErrDestructiveBlocked, exitGate},
		{engine.ErrPlanReplaced, exitGate},
		{errors.New("disk full"), exitError},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
