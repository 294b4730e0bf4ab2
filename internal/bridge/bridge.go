// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package bridge defines the Executor↔Frontend Bridge (spec §4.10,
// §6): a small observer interface so a GUI, CLI, or test driver can
// watch step-level and task-level events without the executor or task
// manager depending on any particular presentation layer.
package bridge

// CardState is the lifecycle state of one card during a run.
type CardState string

const (
	CardIdle      CardState = "idle"
	CardExecuting CardState = "executing"
	CardSuccess   CardState = "success"
	CardFailure   CardState = "failure"
)

// TaskStatus is the lifecycle state of one WorkflowTask within the
// task manager.
type TaskStatus string

const (
	TaskIdle      TaskStatus = "idle"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskStopped   TaskStatus = "stopped"
)

// Observer receives the signals the core emits (spec §6's frontend
// bridge). Every method may be called concurrently from different
// workflow/task goroutines; implementations must be safe for that.
type Observer interface {
	TaskStatusChanged(taskID int, newStatus TaskStatus)
	TaskProgress(taskID int, message string)
	ExecutionFinished(taskID int, success bool, message, stopReason string)
	CardStateChanged(cardID int, state CardState)
	AllTasksCompleted(overallSuccess bool)
}

// NopObserver implements Observer with no-op methods, for callers that
// don't need to watch events (e.g. headless batch runs, tests).
type NopObserver struct{}

func (NopObserver) TaskStatusChanged(int, TaskStatus)           {}
func (NopObserver) TaskProgress(int, string)                    {}
func (NopObserver) ExecutionFinished(int, bool, string, string) {}
func (NopObserver) CardStateChanged(int, CardState)             {}
func (NopObserver) AllTasksCompleted(bool)                      {}

// Multi fans one event out to several observers, in registration
// order.
type Multi []Observer

func (m Multi) TaskStatusChanged(taskID int, newStatus TaskStatus) {
	for _, o := range m {
		o.TaskStatusChanged(taskID, newStatus)
	}
}
func (m Multi) TaskProgress(taskID int, message string) {
	for _, o := range m {
		o.TaskProgress(taskID, message)
	}
}
func (m Multi) ExecutionFinished(taskID int, success bool, message, stopReason string) {
	for _, o := range m {
		o.ExecutionFinished(taskID, success, message, stopReason)
	}
}
func (m Multi) CardStateChanged(cardID int, state CardState) {
	for _, o := range m {
		o.CardStateChanged(cardID, state)
	}
}
func (m Multi) AllTasksCompleted(overallSuccess bool) {
	for _, o := range m {
		o.AllTasksCompleted(overallSuccess)
	}
}
