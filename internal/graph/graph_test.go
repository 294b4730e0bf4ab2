// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package graph

import "testing"

func twoCardGraph() *Graph {
	g := New()
	g.AddCard(&Card{CardID: 0, TaskType: StartTaskType, Parameters: map[string]any{}})
	g.AddCard(&Card{CardID: 1, TaskType: "delay", Parameters: map[string]any{}})
	g.Edges = []Edge{{FromCard: 0, ToCard: 1, Type: EdgeSequential}}
	return g
}

func TestValidate_SingleOutgoingPerType(t *testing.T) {
	g := twoCardGraph()
	g.Edges = append(g.Edges, Edge{FromCard: 0, ToCard: 1, Type: EdgeSequential})
	if err := g.Validate(); err == nil {
		t.Fatal("expected error for duplicate outgoing sequential edge")
	}
}

func TestValidate_OrphanEdgeRejected(t *testing.T) {
	g := twoCardGraph()
	g.Edges = append(g.Edges, Edge{FromCard: 1, ToCard: 99, Type: EdgeSuccess})
	if err := g.Validate(); err == nil {
		t.Fatal("expected error for orphan edge target")
	}
}

func TestValidate_TooManyStartCards(t *testing.T) {
	g := twoCardGraph()
	g.AddCard(&Card{CardID: 2, TaskType: StartTaskType, Parameters: map[string]any{}})
	if err := g.Validate(); err == nil {
		t.Fatal("expected error for two start cards")
	}
}

func TestDeriveBranchEdges(t *testing.T) {
	g := New()
	g.AddCard(&Card{CardID: 0, TaskType: StartTaskType, Parameters: map[string]any{}})
	g.AddCard(&Card{CardID: 1, TaskType: "findImage", Parameters: map[string]any{
		"on_failure":             ActionJump,
		"failure_jump_target_id": 2,
	}})
	g.AddCard(&Card{CardID: 2, TaskType: "delay", Parameters: map[string]any{}})
	g.Edges = []Edge{{FromCard: 0, ToCard: 1, Type: EdgeSequential}}

	g.DeriveBranchEdges()

	found := false
	for _, e := range g.Edges {
		if e.FromCard == 1 && e.ToCard == 2 && e.Type == EdgeFailure {
			found = true
		}
	}
	if !found {
		t.Fatal("expected derived failure edge 1 -> 2")
	}
	if !g.Cards[1].Restricted() {
		t.Fatal("card 1 should be restricted once it has a non-default on_failure")
	}
}

func TestRemoveCard_ScrubsReferences(t *testing.T) {
	g := New()
	g.AddCard(&Card{CardID: 0, TaskType: StartTaskType, Parameters: map[string]any{}})
	g.AddCard(&Card{CardID: 1, TaskType: "findImage", Parameters: map[string]any{
		"on_failure":             ActionJump,
		"failure_jump_target_id": 2,
	}})
	g.AddCard(&Card{CardID: 2, TaskType: "delay", Parameters: map[string]any{}})
	g.Edges = []Edge{
		{FromCard: 0, ToCard: 1, Type: EdgeSequential},
		{FromCard: 1, ToCard: 2, Type: EdgeFailure},
	}

	g.RemoveCard(2)

	if _, ok := g.Cards[2]; ok {
		t.Fatal("card 2 should be gone")
	}
	for _, c := range g.Cards {
		if tgt := c.FailureJumpTarget(); tgt != nil && *tgt == 2 {
			t.Fatalf("card %d still references deleted card 2", c.CardID)
		}
	}
	if g.Cards[1].OnFailure() != ActionFollowNext {
		t.Fatalf("card 1's on_failure should reset to %q, got %q", ActionFollowNext, g.Cards[1].OnFailure())
	}
	for _, e := range g.Edges {
		if e.FromCard == 2 || e.ToCard == 2 {
			t.Fatal("no edge should reference deleted card 2")
		}
	}
}

func TestSequenceNumbers(t *testing.T) {
	g := twoCardGraph()
	seq := g.SequenceNumbers()
	if seq[0] != 0 || seq[1] != 1 {
		t.Fatalf("unexpected sequence numbers: %v", seq)
	}
}
