// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package builtin

import (
	"fmt"

	"github.com/forkbombeu/fleetctl/internal/task"
)

// InputTask drives `adb shell input ...` to simulate taps, swipes,
// key events, and text entry. Spec §1 scopes keystroke simulation out
// as an external collaborator, but input is a plain `adb shell input`
// invocation, not a distinct engine — so it is implemented directly
// against the bound device rather than behind a pluggable interface.
type InputTask struct{}

func (InputTask) ParamsDef() map[string]task.ParamSpec {
	return map[string]task.ParamSpec{
		"input_type": {
			Label:   "Input type",
			Type:    task.ParamSelect,
			Options: []string{"tap", "swipe", "keyevent", "text"},
			Default: "tap",
		},
		"x":          {Label: "X", Type: task.ParamInt, Condition: []task.Condition{{Param: "input_type", Value: "tap"}}},
		"y":          {Label: "Y", Type: task.ParamInt, Condition: []task.Condition{{Param: "input_type", Value: "tap"}}},
		"x1":         {Label: "From X", Type: task.ParamInt, Condition: []task.Condition{{Param: "input_type", Value: "swipe"}}},
		"y1":         {Label: "From Y", Type: task.ParamInt, Condition: []task.Condition{{Param: "input_type", Value: "swipe"}}},
		"x2":         {Label: "To X", Type: task.ParamInt, Condition: []task.Condition{{Param: "input_type", Value: "swipe"}}},
		"y2":         {Label: "To Y", Type: task.ParamInt, Condition: []task.Condition{{Param: "input_type", Value: "swipe"}}},
		"duration_ms": {Label: "Duration (ms)", Type: task.ParamInt, Default: 300, Condition: []task.Condition{{Param: "input_type", Value: "swipe"}}},
		"keycode":    {Label: "Key code", Type: task.ParamInt, Condition: []task.Condition{{Param: "input_type", Value: "keyevent"}}},
		"text":       {Label: "Text", Type: task.ParamText, Condition: []task.Condition{{Param: "input_type", Value: "text"}}},
	}
}

func (InputTask) Execute(params map[string]any, ctx task.ExecuteContext) (bool, string, *int) {
	if ctx.Executor == nil || ctx.DeviceID == "" {
		return false, task.ActionFollowNext, nil
	}

	var argv []string
	switch paramString(params, "input_type", "tap") {
	case "tap":
		argv = []string{"shell", "input", "tap",
			fmt.Sprint(paramInt(params, "x", 0)), fmt.Sprint(paramInt(params, "y", 0))}
	case "swipe":
		argv = []string{"shell", "input", "swipe",
			fmt.Sprint(paramInt(params, "x1", 0)), fmt.Sprint(paramInt(params, "y1", 0)),
			fmt.Sprint(paramInt(params, "x2", 0)), fmt.Sprint(paramInt(params, "y2", 0)),
			fmt.Sprint(paramInt(params, "duration_ms", 300))}
	case "keyevent":
		argv = []string{"shell", "input", "keyevent", fmt.Sprint(paramInt(params, "keycode", 0))}
	case "text":
		argv = []string{"shell", "input", "text", paramString(params, "text", "")}
	default:
		return false, task.ActionFollowNext, nil
	}

	ok, _, _ := ctx.Executor.RunADB(ctx.Context, ctx.DeviceID, argv, 10000)
	return ok, task.ActionFollowNext, nil
}

func (InputTask) DisplayMeta() task.DisplayMeta {
	return task.DisplayMeta{Name: "Input", Category: "Interaction", Description: "Simulate a tap, swipe, key event, or text entry."}
}
