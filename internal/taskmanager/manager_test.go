// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package taskmanager

import (
	"context"
	"testing"

	"github.com/forkbombeu/fleetctl/internal/executor"
	"github.com/forkbombeu/fleetctl/internal/graph"
	"github.com/forkbombeu/fleetctl/internal/task"
	"github.com/forkbombeu/fleetctl/internal/task/builtin"
)

func simpleGraph() *graph.Graph {
	g := graph.New()
	g.AddCard(&graph.Card{CardID: 0, TaskType: "start", Parameters: map[string]any{}})
	g.AddCard(&graph.Card{CardID: 1, TaskType: "delay", Parameters: map[string]any{"delay_mode": "fixed", "fixed_delay": 0.0}})
	g.Edges = append(g.Edges, graph.Edge{FromCard: 0, ToCard: 1, Type: graph.EdgeSequential})
	return g
}

func newRegistry() *task.Registry {
	r := task.NewRegistry()
	builtin.Register(r, nil, nil)
	return r
}

func TestExecuteAll_SyncAllSucceed(t *testing.T) {
	m := New(Config{Mode: ModeSync, Registry: newRegistry()})
	m.AddTask("t1", "", simpleGraph())
	m.AddTask("t2", "", simpleGraph())

	if !m.ExecuteAll(context.Background()) {
		t.Fatal("expected ExecuteAll to report success")
	}
	for _, wt := range m.AllTasks() {
		if wt.Status() != "completed" {
			t.Errorf("task %d: status = %s, want completed", wt.TaskID, wt.Status())
		}
	}
}

func TestRemoveTask(t *testing.T) {
	m := New(Config{Registry: newRegistry()})
	id := m.AddTask("t1", "", simpleGraph())
	if !m.RemoveTask(id) {
		t.Fatal("expected RemoveTask to succeed")
	}
	if _, ok := m.Task(id); ok {
		t.Fatal("expected task to be gone")
	}
	if m.RemoveTask(id) {
		t.Fatal("expected second RemoveTask to report false")
	}
}

func TestJumpChain_RespectsMaxJumpCount(t *testing.T) {
	m := New(Config{Registry: newRegistry(), MaxJumpDepth: 10})
	src := m.AddTask("src", "", simpleGraph())
	dst := m.AddTask("dst", "", simpleGraph())

	wt, _ := m.Task(src)
	wt.JumpRules[executor.ReasonNoNext] = dst
	wt.MaxJumpCount = 1

	m.runChain(context.Background(), wt)

	target, _ := m.Task(dst)
	if target.Status() != "completed" {
		t.Errorf("dst status = %s, want completed", target.Status())
	}

	// A second chain from src must not jump again: MaxJumpCount is 1.
	m.runChain(context.Background(), wt)
	if wt.jumpCount != 1 {
		t.Errorf("src jumpCount = %d after a second chain, want 1", wt.jumpCount)
	}
}
