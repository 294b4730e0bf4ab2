// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package task defines the Task Contract & Registry (spec §4.5): the
// interface every task-card type implements, its parameter
// description schema, and the registry task modules are looked up
// through by taskType name.
package task

import (
	"context"

	"github.com/forkbombeu/fleetctl/internal/graph"
	"github.com/forkbombeu/fleetctl/internal/model"
)

// ParamType is the widget kind a ParamSpec renders as in a GUI editor;
// the executor itself only cares about the underlying Go value.
type ParamType string

const (
	ParamText           ParamType = "text"
	ParamInt            ParamType = "int"
	ParamFloat          ParamType = "float"
	ParamBool           ParamType = "bool"
	ParamSelect         ParamType = "select"
	ParamRadio          ParamType = "radio"
	ParamTextarea       ParamType = "textarea"
	ParamFile           ParamType = "file"
	ParamCoordinate     ParamType = "coordinate"
	ParamMultiCoordinate ParamType = "multi-coordinate"
	ParamColor          ParamType = "color"
	ParamRegion         ParamType = "region"
	ParamHidden         ParamType = "hidden"
	ParamSeparator      ParamType = "separator"
	ParamButton         ParamType = "button"
)

// Condition is one clause of a parameter's visibility condition: show
// this field only when Param equals Value. A ParamSpec's Condition
// slice is a disjunction (OR) of these clauses.
type Condition struct {
	Param string
	Value any
}

// ParamSpec describes one parameter a task type accepts (spec §4.5).
type ParamSpec struct {
	Label          string
	Type           ParamType
	Default        any
	Min, Max       *float64
	Options        []string
	Condition      []Condition
	WidgetHint     string
	SaveToWorkflow bool
}

// DisplayMeta is optional GUI-facing metadata a task type may expose.
type DisplayMeta struct {
	Name        string
	Category    string
	Description string
	Icon        string
}

// Region is a rectangular area in target-window-relative coordinates,
// used by region-reading tasks (OCR) and coordinate-based input.
type Region struct {
	X, Y, W, H int
}

// ExecuteContext carries everything a task's Execute needs beyond its
// own parameters: the shared counters map, the window/region the
// workflow task is bound to, cooperative-cancellation and image
// plumbing, and (for ADB-backed tasks) the device to act on.
type ExecuteContext struct {
	Context context.Context

	Counters      model.Counters
	ExecutionMode string
	TargetWindow  uintptr
	WindowRegion  *Region
	CardID        int

	// StopChecker is polled by long-running tasks (spec: every 100ms)
	// to cooperatively cancel.
	StopChecker func() bool

	// ImageDataProvider resolves an image key to bytes; keys of the
	// form "memory://..." are routed here, others are filesystem
	// paths resolved by the caller before invocation.
	ImageDataProvider func(key string) ([]byte, error)

	// CorrelationID threads through to telemetry for ADB-backed tasks.
	CorrelationID string

	// DeviceID/ADBPath/Executor let ADB-backed tasks (input,
	// app lifecycle, image click, OCR region) run shell commands
	// against the bound device without depending on the pool package
	// directly (avoids an import cycle task -> pool -> task).
	DeviceID string
	ADBPath  string
	Executor ADBExecutor
}

// ADBExecutor is the minimal surface ExecuteContext needs from a
// connection pool to run adb commands synchronously.
type ADBExecutor interface {
	RunADB(ctx context.Context, deviceID string, argv []string, timeoutMS int) (ok bool, stdout, stderr string)
	// RunADBBinary runs an adb command whose stdout is binary data
	// (e.g. `exec-out screencap -p`), returning the raw bytes.
	RunADBBinary(ctx context.Context, deviceID string, argv []string, timeoutMS int) (ok bool, stdout []byte)
}

// Task is the contract every task-type module implements (spec §4.5).
type Task interface {
	ParamsDef() map[string]ParamSpec
	Execute(params map[string]any, ctx ExecuteContext) (ok bool, nextAction string, jumpTargetID *int)
}

// MetaProvider is implemented by tasks that expose DisplayMeta; not
// every task type needs to (spec marks it optional).
type MetaProvider interface {
	DisplayMeta() DisplayMeta
}

// Registry maps a card's taskType string to its Task implementation.
type Registry struct {
	tasks map[string]Task
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds or replaces the task module for taskType.
func (r *Registry) Register(taskType string, t Task) {
	r.tasks[taskType] = t
}

// Get looks up a task module by taskType.
func (r *Registry) Get(taskType string) (Task, bool) {
	t, ok := r.tasks[taskType]
	return t, ok
}

// Types returns every registered taskType name.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.tasks))
	for k := range r.tasks {
		out = append(out, k)
	}
	return out
}

// Re-exported next-action literals, so task modules don't need to
// import graph directly just for these four constants.
const (
	ActionFollowNext = graph.ActionFollowNext
	ActionJump       = graph.ActionJump
	ActionStop       = graph.ActionStop
	ActionRepeat     = graph.ActionRepeat
)
