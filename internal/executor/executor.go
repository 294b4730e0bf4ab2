// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package executor implements the Workflow Executor (spec §4.7): a
// single-workflow interpreter that walks a graph.Graph snapshot as a
// state machine, invoking task modules and following sequential,
// jump, stop, and repeat directives until the run terminates.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/forkbombeu/fleetctl/internal/bridge"
	"github.com/forkbombeu/fleetctl/internal/graph"
	"github.com/forkbombeu/fleetctl/internal/model"
	"github.com/forkbombeu/fleetctl/internal/task"
	"github.com/forkbombeu/fleetctl/internal/telemetry"
)

// StopReason is why a run ended (spec glossary).
type StopReason string

const (
	ReasonSuccess StopReason = "success"
	ReasonFailed  StopReason = "failed"
	ReasonNoNext  StopReason = "no_next"
	ReasonStopped StopReason = "stopped"
)

// ErrNoStartCard is returned when the graph has no start card.
var ErrNoStartCard = errors.New("找不到起始卡片")

// Options configures one run.
type Options struct {
	ExecutionMode     string
	TargetWindow      uintptr
	WindowRegion      *task.Region
	ImageDataProvider func(key string) ([]byte, error)
	DeviceID          string
	ADBPath           string
	Executor          task.ADBExecutor
	CorrelationID     string
	Observer          bridge.Observer
}

// Executor runs one workflow graph snapshot to completion.
type Executor struct {
	graph    *graph.Graph
	registry *task.Registry
	opts     Options

	counters model.Counters

	stopRequested chan struct{}
	stopOnce      func()
}

// New returns an Executor bound to g and registry, with a read-only
// snapshot semantics: callers must not mutate g concurrently with Run.
func New(g *graph.Graph, registry *task.Registry, opts Options) *Executor {
	if opts.Observer == nil {
		opts.Observer = bridge.NopObserver{}
	}
	e := &Executor{
		graph:         g,
		registry:      registry,
		opts:          opts,
		counters:      model.Counters{},
		stopRequested: make(chan struct{}),
	}
	return e
}

// RequestStop asks the run to terminate at its next polling point
// (spec §4.7 cancellation). Safe to call more than once.
func (e *Executor) RequestStop() {
	select {
	case <-e.stopRequested:
	default:
		close(e.stopRequested)
	}
}

func (e *Executor) stopChecker() bool {
	select {
	case <-e.stopRequested:
		return true
	default:
		return false
	}
}

// Result is the outcome of a full Run.
type Result struct {
	Success    bool
	StopReason StopReason
	Message    string
}

// Run executes the workflow's main loop (spec §4.7 steps 1-6) to
// completion.
func (e *Executor) Run(ctx context.Context) Result {
	ctx, span := telemetry.StartSpan(ctx, e.opts.CorrelationID, "executor.Run")
	defer span.End()

	current := e.graph.StartCard()
	if current == nil {
		return Result{Success: false, StopReason: ReasonFailed, Message: ErrNoStartCard.Error()}
	}

	for {
		e.opts.Observer.CardStateChanged(current.CardID, bridge.CardExecuting)

		if e.stopChecker() {
			e.opts.Observer.CardStateChanged(current.CardID, bridge.CardIdle)
			return Result{Success: false, StopReason: ReasonStopped, Message: "stopped by request"}
		}

		t, ok := e.registry.Get(current.TaskType)
		if !ok {
			msg := fmt.Sprintf("unknown task type %q on card %d", current.TaskType, current.CardID)
			telemetry.LogEvent(e.opts.CorrelationID, msg)
			e.opts.Observer.CardStateChanged(current.CardID, bridge.CardFailure)
			return Result{Success: false, StopReason: ReasonFailed, Message: msg}
		}

		execCtx := task.ExecuteContext{
			Context:           ctx,
			Counters:          e.counters,
			ExecutionMode:     e.opts.ExecutionMode,
			TargetWindow:      e.opts.TargetWindow,
			WindowRegion:      e.opts.WindowRegion,
			CardID:            current.CardID,
			StopChecker:       e.stopChecker,
			ImageDataProvider: e.opts.ImageDataProvider,
			CorrelationID:     e.opts.CorrelationID,
			DeviceID:          e.opts.DeviceID,
			ADBPath:           e.opts.ADBPath,
			Executor:          e.opts.Executor,
		}

		ok2, nextAction, jumpTarget := t.Execute(current.Parameters, execCtx)

		if ok2 {
			e.opts.Observer.CardStateChanged(current.CardID, bridge.CardSuccess)
		} else {
			e.opts.Observer.CardStateChanged(current.CardID, bridge.CardFailure)
		}

		switch nextAction {
		case task.ActionStop:
			reason := ReasonFailed
			if ok2 {
				reason = ReasonSuccess
			}
			return Result{Success: ok2, StopReason: reason, Message: "stopped by task"}

		case task.ActionJump:
			if jumpTarget == nil {
				return Result{Success: false, StopReason: ReasonFailed, Message: "jump requested with no target"}
			}
			next, ok := e.graph.Cards[*jumpTarget]
			if !ok {
				msg := fmt.Sprintf("jump target card %d not found", *jumpTarget)
				return Result{Success: false, StopReason: ReasonFailed, Message: msg}
			}
			current = next

		case task.ActionRepeat:
			// current unchanged

		case task.ActionFollowNext:
			fallthrough
		default:
			child := e.graph.SequentialOut(current.CardID)
			if child == nil {
				return Result{Success: ok2, StopReason: ReasonNoNext, Message: ""}
			}
			current = child
		}
	}
}
