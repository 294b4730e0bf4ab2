// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package builtin

import (
	"github.com/forkbombeu/fleetctl/internal/task"
)

// StartTask is the workflow's single entry card; it optionally jumps
// to a specific card instead of following the sequential edge.
// Grounded on original_source/tasks/start_task.py.
type StartTask struct{}

func (StartTask) ParamsDef() map[string]task.ParamSpec {
	return map[string]task.ParamSpec{
		"next_step_card_id": {
			Label:      "Next step card",
			Type:       task.ParamSelect,
			WidgetHint: "card_selector",
		},
	}
}

func (StartTask) Execute(params map[string]any, ctx task.ExecuteContext) (bool, string, *int) {
	if next := paramIntPtr(params, "next_step_card_id"); next != nil {
		return true, task.ActionJump, next
	}
	return true, task.ActionFollowNext, nil
}

func (StartTask) DisplayMeta() task.DisplayMeta {
	return task.DisplayMeta{Name: "Start", Category: "Flow control", Description: "Workflow entry point."}
}
