// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package builtin

import (
	"fmt"

	"github.com/forkbombeu/fleetctl/internal/task"
)

// OCRProvider reads text out of a screenshot region. Like image
// matching, the OCR engine itself is an external collaborator (spec
// §1) consumed through this small interface.
type OCRProvider interface {
	ReadRegion(screenshot []byte, region task.Region) (string, error)
}

// OCRRegionTask captures a screenshot, reads a fixed region's text via
// a pluggable OCRProvider, and stores the length of the recognized
// text in the run's counters under "__ocr_<cardID>"; the text itself
// is not stored.
type OCRRegionTask struct {
	OCR OCRProvider
}

func (OCRRegionTask) ParamsDef() map[string]task.ParamSpec {
	return map[string]task.ParamSpec{
		"region_x": {Label: "Region X", Type: task.ParamInt},
		"region_y": {Label: "Region Y", Type: task.ParamInt},
		"region_w": {Label: "Region width", Type: task.ParamInt},
		"region_h": {Label: "Region height", Type: task.ParamInt},
	}
}

func (t OCRRegionTask) Execute(params map[string]any, ctx task.ExecuteContext) (bool, string, *int) {
	if ctx.Executor == nil || ctx.DeviceID == "" || t.OCR == nil {
		return false, task.ActionFollowNext, nil
	}

	ok, screenshot := ctx.Executor.RunADBBinary(ctx.Context, ctx.DeviceID, []string{"exec-out", "screencap", "-p"}, 10000)
	if !ok || len(screenshot) == 0 {
		return false, task.ActionFollowNext, nil
	}

	region := task.Region{
		X: paramInt(params, "region_x", 0),
		Y: paramInt(params, "region_y", 0),
		W: paramInt(params, "region_w", 0),
		H: paramInt(params, "region_h", 0),
	}
	if ctx.WindowRegion != nil {
		region = *ctx.WindowRegion
	}

	text, err := t.OCR.ReadRegion(screenshot, region)
	if err != nil {
		return false, task.ActionFollowNext, nil
	}

	if ctx.Counters != nil {
		ctx.Counters[fmt.Sprintf("__ocr_%d", ctx.CardID)] = float64(len(text))
	}
	return true, task.ActionFollowNext, nil
}

func (OCRRegionTask) DisplayMeta() task.DisplayMeta {
	return task.DisplayMeta{Name: "OCR region", Category: "Interaction", Description: "Read text from a fixed screen region."}
}
