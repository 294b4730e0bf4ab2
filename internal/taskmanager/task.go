// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package taskmanager implements the Task Manager (spec §4.8): it owns
// a set of WorkflowTasks, each wrapping one workflow graph plus the
// executor that runs it, and drives sync/async execution and
// jump-between-workflows chaining.
package taskmanager

import (
	"sync"

	"github.com/forkbombeu/fleetctl/internal/bridge"
	"github.com/forkbombeu/fleetctl/internal/executor"
	"github.com/forkbombeu/fleetctl/internal/graph"
)

// WorkflowTask is one named, loadable workflow owned by the manager.
// Ownership: the manager exclusively owns WorkflowTasks; each
// WorkflowTask exclusively owns its Executor during a run (spec §4).
type WorkflowTask struct {
	mu sync.Mutex

	TaskID   int
	Name     string
	FilePath string
	Graph    *graph.Graph

	Enabled  bool
	Modified bool

	status     bridge.TaskStatus
	stopReason executor.StopReason

	// JumpRules maps a terminal StopReason to the TaskID executed next
	// when this task ends with that reason. Absent entries mean no
	// automatic jump.
	JumpRules map[executor.StopReason]int
	// MaxJumpCount bounds how many times this task may hand off via
	// JumpRules before the manager refuses further jumps from it; 0
	// means unlimited (intentional for watchdog-style loops), subject
	// to the manager-wide depth ceiling regardless.
	MaxJumpCount int
	jumpCount    int

	current *executor.Executor
}

func newWorkflowTask(id int, name, filepath string, g *graph.Graph) *WorkflowTask {
	return &WorkflowTask{
		TaskID:    id,
		Name:      name,
		FilePath:  filepath,
		Graph:     g,
		Enabled:   true,
		status:    bridge.TaskIdle,
		JumpRules: map[executor.StopReason]int{},
	}
}

// Status returns the task's current lifecycle state.
func (t *WorkflowTask) Status() bridge.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// StopReason returns the reason the task's last run ended, or "" if it
// has never run.
func (t *WorkflowTask) StopReason() executor.StopReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopReason
}

// CanExecute mirrors the Python original's can_execute: enabled and in
// one of the terminal-or-fresh states.
func (t *WorkflowTask) CanExecute() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.Enabled {
		return false
	}
	switch t.status {
	case bridge.TaskIdle, bridge.TaskCompleted, bridge.TaskFailed, bridge.TaskStopped:
		return true
	default:
		return false
	}
}

// CanStop mirrors can_stop: only a running task can be stopped.
func (t *WorkflowTask) CanStop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == bridge.TaskRunning
}

func (t *WorkflowTask) setStatus(s bridge.TaskStatus) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

func (t *WorkflowTask) setStopReason(r executor.StopReason) {
	t.mu.Lock()
	t.stopReason = r
	t.mu.Unlock()
}

// Stop requests the task's running executor, if any, to terminate.
func (t *WorkflowTask) Stop() {
	t.mu.Lock()
	cur := t.current
	canStop := t.status == bridge.TaskRunning
	t.mu.Unlock()
	if !canStop {
		return
	}
	if cur != nil {
		cur.RequestStop()
	}
	t.setStatus(bridge.TaskStopped)
	t.setStopReason(executor.ReasonStopped)
}
