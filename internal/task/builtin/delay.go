// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package builtin

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/forkbombeu/fleetctl/internal/task"
)

// DelayTask pauses execution for a fixed or random duration, storing
// the realized delay into the run's counters under
// "__last_delay_<cardID>" (spec §4.7). Grounded on
// original_source/tasks/delay_task.py.
type DelayTask struct{}

func (DelayTask) ParamsDef() map[string]task.ParamSpec {
	one := 1.0
	thirtySixHundred := 3600.0
	zero := 0.0
	return map[string]task.ParamSpec{
		"delay_mode": {
			Label:   "Delay mode",
			Type:    task.ParamSelect,
			Options: []string{"fixed", "random"},
			Default: "fixed",
		},
		"fixed_delay": {
			Label:     "Fixed delay (s)",
			Type:      task.ParamFloat,
			Default:   one,
			Min:       &zero,
			Max:       &thirtySixHundred,
			Condition: []task.Condition{{Param: "delay_mode", Value: "fixed"}},
		},
		"min_delay": {
			Label:     "Min delay (s)",
			Type:      task.ParamFloat,
			Default:   0.5,
			Min:       &zero,
			Max:       &thirtySixHundred,
			Condition: []task.Condition{{Param: "delay_mode", Value: "random"}},
		},
		"max_delay": {
			Label:     "Max delay (s)",
			Type:      task.ParamFloat,
			Default:   2.0,
			Min:       &zero,
			Max:       &thirtySixHundred,
			Condition: []task.Condition{{Param: "delay_mode", Value: "random"}},
		},
	}
}

func (DelayTask) Execute(params map[string]any, ctx task.ExecuteContext) (bool, string, *int) {
	mode := paramString(params, "delay_mode", "fixed")

	var delay float64
	switch mode {
	case "random":
		min := paramFloat(params, "min_delay", 0.5)
		max := paramFloat(params, "max_delay", 2.0)
		if min > max {
			delay = min
		} else {
			delay = min + rand.Float64()*(max-min)
		}
	default:
		delay = paramFloat(params, "fixed_delay", 1.0)
	}

	if ctx.Counters != nil {
		ctx.Counters[fmt.Sprintf("__last_delay_%d", ctx.CardID)] = delay
	}

	if delay <= 0 {
		return true, task.ActionFollowNext, nil
	}

	const checkInterval = 100 * time.Millisecond
	elapsed := time.Duration(0)
	total := time.Duration(delay * float64(time.Second))
	for elapsed < total {
		if ctx.StopChecker != nil && ctx.StopChecker() {
			return false, task.ActionStop, nil
		}
		remaining := total - elapsed
		sleep := checkInterval
		if remaining < sleep {
			sleep = remaining
		}
		time.Sleep(sleep)
		elapsed += sleep
	}
	return true, task.ActionFollowNext, nil
}

func (DelayTask) DisplayMeta() task.DisplayMeta {
	return task.DisplayMeta{Name: "Delay", Category: "Flow control", Description: "Pause for a fixed or random duration.", Icon: "timer-sand"}
}
