// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package builtin

import (
	"strconv"

	"github.com/forkbombeu/fleetctl/internal/task"
)

// ImageMatcher locates a template image within a screenshot. Image
// matching itself is named out of scope (spec §1: "individual task
// implementations... only the task contract is specified"), so it is
// a pluggable collaborator, not an algorithm this repo implements.
type ImageMatcher interface {
	// Find returns the top-left (x, y) of the best match for template
	// within screenshot whose confidence is >= threshold.
	Find(screenshot, template []byte, threshold float64) (x, y int, found bool, err error)
}

// ImageClickTask captures a screenshot, locates a template image via
// a pluggable ImageMatcher, and taps its location.
type ImageClickTask struct {
	Matcher ImageMatcher
}

func (ImageClickTask) ParamsDef() map[string]task.ParamSpec {
	return map[string]task.ParamSpec{
		"image_key":  {Label: "Template image", Type: task.ParamFile},
		"threshold":  {Label: "Match threshold", Type: task.ParamFloat, Default: 0.85},
		"tap_offset_x": {Label: "Tap offset X", Type: task.ParamInt, Default: 0},
		"tap_offset_y": {Label: "Tap offset Y", Type: task.ParamInt, Default: 0},
	}
}

func (t ImageClickTask) Execute(params map[string]any, ctx task.ExecuteContext) (bool, string, *int) {
	if ctx.Executor == nil || ctx.DeviceID == "" || t.Matcher == nil || ctx.ImageDataProvider == nil {
		return false, task.ActionFollowNext, nil
	}

	ok, screenshot := ctx.Executor.RunADBBinary(ctx.Context, ctx.DeviceID, []string{"exec-out", "screencap", "-p"}, 10000)
	if !ok || len(screenshot) == 0 {
		return false, task.ActionFollowNext, nil
	}

	imageKey := paramString(params, "image_key", "")
	template, err := ctx.ImageDataProvider(imageKey)
	if err != nil || len(template) == 0 {
		return false, task.ActionFollowNext, nil
	}

	threshold := paramFloat(params, "threshold", 0.85)
	x, y, found, err := t.Matcher.Find(screenshot, template, threshold)
	if err != nil || !found {
		return false, task.ActionFollowNext, nil
	}

	x += paramInt(params, "tap_offset_x", 0)
	y += paramInt(params, "tap_offset_y", 0)

	tapOK, _, _ := ctx.Executor.RunADB(ctx.Context, ctx.DeviceID,
		[]string{"shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y)}, 10000)
	return tapOK, task.ActionFollowNext, nil
}

func (ImageClickTask) DisplayMeta() task.DisplayMeta {
	return task.DisplayMeta{Name: "Image click", Category: "Interaction", Description: "Find a template image on screen and tap it."}
}
