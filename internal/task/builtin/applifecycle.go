// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package builtin

import (
	"github.com/forkbombeu/fleetctl/internal/task"
)

// AppLifecycleTask starts, stops, restarts, or clears data for an
// Android package via `adb shell am`/`pm`. Grounded on
// original_source/tasks/ldplayer_app_manager.py's launch/monkey
// fallback chain, generalized from the LDPlayer console to a plain
// adb invocation so it works against any emulator family.
type AppLifecycleTask struct{}

func (AppLifecycleTask) ParamsDef() map[string]task.ParamSpec {
	return map[string]task.ParamSpec{
		"action": {
			Label:   "Action",
			Type:    task.ParamSelect,
			Options: []string{"launch", "force_stop", "clear_data", "restart"},
			Default: "launch",
		},
		"package_name": {Label: "Package", Type: task.ParamText},
	}
}

func (t AppLifecycleTask) Execute(params map[string]any, ctx task.ExecuteContext) (bool, string, *int) {
	if ctx.Executor == nil || ctx.DeviceID == "" {
		return false, task.ActionFollowNext, nil
	}
	pkg := paramString(params, "package_name", "")
	if pkg == "" {
		return false, task.ActionFollowNext, nil
	}

	switch paramString(params, "action", "launch") {
	case "launch":
		return t.launch(ctx, pkg), task.ActionFollowNext, nil
	case "force_stop":
		ok, _, _ := ctx.Executor.RunADB(ctx.Context, ctx.DeviceID, []string{"shell", "am", "force-stop", pkg}, 10000)
		return ok, task.ActionFollowNext, nil
	case "clear_data":
		ok, _, _ := ctx.Executor.RunADB(ctx.Context, ctx.DeviceID, []string{"shell", "pm", "clear", pkg}, 10000)
		return ok, task.ActionFollowNext, nil
	case "restart":
		ctx.Executor.RunADB(ctx.Context, ctx.DeviceID, []string{"shell", "am", "force-stop", pkg}, 10000)
		return t.launch(ctx, pkg), task.ActionFollowNext, nil
	default:
		return false, task.ActionFollowNext, nil
	}
}

// launch tries the monkey launcher-intent trick first (most reliable
// across third-party launchers per the original source's fallback
// chain), then falls back to `am start` with the package's main
// activity left to the system resolver via monitor-less start.
func (t AppLifecycleTask) launch(ctx task.ExecuteContext, pkg string) bool {
	ok, _, _ := ctx.Executor.RunADB(ctx.Context, ctx.DeviceID,
		[]string{"shell", "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1"}, 10000)
	if ok {
		return true
	}
	ok, _, _ = ctx.Executor.RunADB(ctx.Context, ctx.DeviceID,
		[]string{"shell", "am", "start", "-a", "android.intent.action.MAIN", "-c", "android.intent.category.LAUNCHER", pkg}, 10000)
	return ok
}

func (AppLifecycleTask) DisplayMeta() task.DisplayMeta {
	return task.DisplayMeta{Name: "App lifecycle", Category: "Interaction", Description: "Launch, stop, restart, or clear data for an app package."}
}
