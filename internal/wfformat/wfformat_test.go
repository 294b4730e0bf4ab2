// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package wfformat

import (
	"path/filepath"
	"strings"
	"testing"
)

const sampleDoc = `{
  "cards": [
    {"id": 0, "task_type": "start", "pos_x": 0, "pos_y": 0, "parameters": {}, "custom_name": ""},
    {"id": 1, "task_type": "input", "pos_x": 100, "pos_y": 0, "parameters": {
       "on_failure": "跳转到步骤",
       "failure_jump_target_id": "Input (ID: 0)"
    }, "custom_name": "tap once"}
  ],
  "connections": [
    {"start_card_id": 0, "end_card_id": 1, "type": "sequential"}
  ],
  "view_transform": [1,0,0,0,1,0,0,0,1],
  "view_center": [10, 20],
  "metadata": {"created_date": "2024-01-01T00:00:00Z", "engine_version": "1.0.0", "module_versions": {}}
}`

func TestLoad_ParsesJumpTargetString(t *testing.T) {
	g, err := Load([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	card := g.Cards[1]
	target := card.FailureJumpTarget()
	if target == nil || *target != 0 {
		t.Fatalf("FailureJumpTarget = %v, want 0", target)
	}
	if got := len(g.Edges); got == 0 {
		t.Fatal("expected at least the sequential edge to survive load")
	}
}

func TestLoad_ModuleBundleUnwraps(t *testing.T) {
	bundle := `{"module_info": {"name": "demo"}, "workflow": ` + sampleDoc + `}`
	g, err := Load([]byte(bundle))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(g.Cards) != 2 {
		t.Fatalf("len(Cards) = %d, want 2", len(g.Cards))
	}
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	g, err := Load([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	data, err := Save(g)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	g2, err := Load(data)
	if err != nil {
		t.Fatalf("Load(saved): %v", err)
	}
	if len(g2.Cards) != len(g.Cards) {
		t.Fatalf("round trip lost cards: got %d, want %d", len(g2.Cards), len(g.Cards))
	}
}

func TestWriter_SaveWritesAtomicallyWithBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.json")

	g, err := Load([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	w := Writer{BackupDir: "backups"}
	if err := w.Save(path, g); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(loaded.Cards) != 2 {
		t.Fatalf("len(Cards) = %d, want 2", len(loaded.Cards))
	}

	matches, err := filepath.Glob(filepath.Join(dir, "backups", "*.json"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("len(backup matches) = %d, want 1", len(matches))
	}
	if !strings.Contains(matches[0], "flow_backup_") {
		t.Fatalf("backup name %q missing expected prefix", matches[0])
	}
}
