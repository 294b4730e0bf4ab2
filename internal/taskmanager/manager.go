// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package taskmanager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/forkbombeu/fleetctl/internal/bridge"
	"github.com/forkbombeu/fleetctl/internal/executor"
	"github.com/forkbombeu/fleetctl/internal/graph"
	"github.com/forkbombeu/fleetctl/internal/task"
	"github.com/forkbombeu/fleetctl/internal/telemetry"
)

// ExecutionMode picks how ExecuteAll fans work out (spec §4.8).
type ExecutionMode string

const (
	ModeSync  ExecutionMode = "sync"
	ModeAsync ExecutionMode = "async"
)

// Saver persists a workflow graph to disk. Satisfied by
// internal/wfformat's writer; kept as an interface here so taskmanager
// has no direct dependency on the serializer's file-format details.
type Saver interface {
	Save(path string, g *graph.Graph) error
}

// ExecutorFactory builds the per-run Options for a WorkflowTask's
// executor: target window, device, image data provider and so on.
// Supplied by the caller (spec's "execution configuration inherited
// from global config, overridable per task").
type ExecutorFactory func(t *WorkflowTask) executor.Options

// Manager owns every WorkflowTask (spec §4.8). The zero value is not
// usable; construct with New.
type Manager struct {
	mu        sync.RWMutex
	tasks     map[int]*WorkflowTask
	nextID    int
	mode      ExecutionMode
	maxJumpDepth int

	registry *task.Registry
	factory  ExecutorFactory
	observer bridge.Observer
	saver    Saver

	executing bool
}

// Config bundles Manager construction parameters.
type Config struct {
	Mode         ExecutionMode
	MaxJumpDepth int // 0 defaults to 10, matching the original's max_jump_depth
	Registry     *task.Registry
	Factory      ExecutorFactory
	Observer     bridge.Observer
	Saver        Saver
}

// New returns a Manager ready to accept tasks.
func New(cfg Config) *Manager {
	if cfg.Mode == "" {
		cfg.Mode = ModeSync
	}
	if cfg.MaxJumpDepth <= 0 {
		cfg.MaxJumpDepth = 10
	}
	if cfg.Observer == nil {
		cfg.Observer = bridge.NopObserver{}
	}
	return &Manager{
		tasks:        make(map[int]*WorkflowTask),
		nextID:       1,
		mode:         cfg.Mode,
		maxJumpDepth: cfg.MaxJumpDepth,
		registry:     cfg.Registry,
		factory:      cfg.Factory,
		observer:     cfg.Observer,
		saver:        cfg.Saver,
	}
}

// SetExecutionMode switches between sync and async dispatch.
func (m *Manager) SetExecutionMode(mode ExecutionMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// AddTask registers a new workflow under the given display name and
// file path, returning its assigned task id.
func (m *Manager) AddTask(name, filepath string, g *graph.Graph) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.tasks[id] = newWorkflowTask(id, name, filepath, g)
	return id
}

// RemoveTask stops the task if running and deletes it. Reports whether
// the task existed.
func (m *Manager) RemoveTask(taskID int) bool {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if ok {
		delete(m.tasks, taskID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	t.Stop()
	return true
}

// Task returns the task with the given id, if any.
func (m *Manager) Task(taskID int) (*WorkflowTask, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	return t, ok
}

// AllTasks returns every task, ordered by ascending TaskID.
func (m *Manager) AllTasks() []*WorkflowTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WorkflowTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

func (m *Manager) executableTasks() []*WorkflowTask {
	var out []*WorkflowTask
	for _, t := range m.AllTasks() {
		if t.CanExecute() {
			out = append(out, t)
		}
	}
	return out
}

// StopAll requests every running task to stop.
func (m *Manager) StopAll() int {
	stopped := 0
	for _, t := range m.AllTasks() {
		if t.CanStop() {
			t.Stop()
			stopped++
		}
	}
	m.mu.Lock()
	m.executing = false
	m.mu.Unlock()
	return stopped
}

// SaveAllModified persists every task with unsaved changes and returns
// the count of tasks successfully saved.
func (m *Manager) SaveAllModified() int {
	saved := 0
	if m.saver == nil {
		return 0
	}
	for _, t := range m.AllTasks() {
		t.mu.Lock()
		modified := t.Modified
		path := t.FilePath
		g := t.Graph
		t.mu.Unlock()
		if !modified || path == "" {
			continue
		}
		if err := m.saver.Save(path, g); err != nil {
			continue
		}
		t.mu.Lock()
		t.Modified = false
		t.mu.Unlock()
		saved++
	}
	return saved
}

// ExecuteAll runs every executable task according to the manager's
// current execution mode (spec §4.8).
func (m *Manager) ExecuteAll(ctx context.Context) bool {
	m.mu.Lock()
	if m.executing {
		m.mu.Unlock()
		return false
	}
	m.executing = true
	mode := m.mode
	m.mu.Unlock()

	tasks := m.executableTasks()
	if len(tasks) == 0 {
		m.mu.Lock()
		m.executing = false
		m.mu.Unlock()
		return false
	}

	if mode == ModeAsync {
		return m.executeAsync(ctx, tasks)
	}
	return m.executeSync(ctx, tasks)
}

func (m *Manager) executeSync(ctx context.Context, tasks []*WorkflowTask) bool {
	allSuccess := true
	for _, t := range tasks {
		if !m.runChain(ctx, t) {
			allSuccess = false
			break
		}
	}
	m.mu.Lock()
	m.executing = false
	m.mu.Unlock()
	m.observer.AllTasksCompleted(allSuccess)
	return allSuccess
}

func (m *Manager) executeAsync(ctx context.Context, tasks []*WorkflowTask) bool {
	var wg sync.WaitGroup
	results := make([]bool, len(tasks))
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t *WorkflowTask) {
			defer wg.Done()
			results[i] = m.runChain(ctx, t)
		}(i, t)
	}
	go func() {
		wg.Wait()
		allSuccess := true
		for _, r := range results {
			if !r {
				allSuccess = false
				break
			}
		}
		m.mu.Lock()
		m.executing = false
		m.mu.Unlock()
		m.observer.AllTasksCompleted(allSuccess)
	}()
	return true
}

// ExecuteTask runs a single task asynchronously (spec: "single task
// execution uses async mode" regardless of the manager's global mode).
func (m *Manager) ExecuteTask(ctx context.Context, taskID int) bool {
	t, ok := m.Task(taskID)
	if !ok || !t.CanExecute() {
		return false
	}
	go m.runChain(ctx, t)
	return true
}

// runChain runs t, then follows JumpRules (spec §4.8's
// jump-between-workflows) until a run produces no configured jump, the
// target task is missing or not executable, the per-task
// MaxJumpCount is exhausted, or the manager-wide depth ceiling is hit.
func (m *Manager) runChain(ctx context.Context, t *WorkflowTask) bool {
	current := t
	depth := 0
	var lastOK bool
	for {
		lastOK = m.runOne(ctx, current)

		target, ok := m.jumpTarget(current)
		if !ok {
			return lastOK
		}
		depth++
		if depth > m.maxJumpDepth {
			telemetry.LogEvent("", fmt.Sprintf("task %q: jump depth ceiling (%d) reached, stopping chain", current.Name, m.maxJumpDepth))
			return lastOK
		}
		current = target
	}
}

func (m *Manager) jumpTarget(t *WorkflowTask) (*WorkflowTask, bool) {
	t.mu.Lock()
	reason := t.stopReason
	targetID, hasRule := t.JumpRules[reason]
	maxCount := t.MaxJumpCount
	count := t.jumpCount
	t.mu.Unlock()

	if !hasRule || targetID == 0 {
		return nil, false
	}
	if maxCount != 0 && count >= maxCount {
		return nil, false
	}

	target, ok := m.Task(targetID)
	if !ok || !target.CanExecute() {
		return nil, false
	}

	t.mu.Lock()
	t.jumpCount++
	t.mu.Unlock()
	return target, true
}

// runOne executes t's workflow exactly once and publishes its
// lifecycle transitions (spec §4.8's idle -> running -> terminal).
func (m *Manager) runOne(ctx context.Context, t *WorkflowTask) bool {
	t.setStatus(bridge.TaskRunning)
	m.observer.TaskStatusChanged(t.TaskID, bridge.TaskRunning)

	opts := executor.Options{Observer: m.observer}
	if m.factory != nil {
		opts = m.factory(t)
		if opts.Observer == nil {
			opts.Observer = m.observer
		}
	}

	exec := executor.New(t.Graph, m.registry, opts)
	t.mu.Lock()
	t.current = exec
	t.mu.Unlock()

	result := exec.Run(ctx)

	t.mu.Lock()
	t.current = nil
	t.mu.Unlock()

	t.setStopReason(result.StopReason)
	finalStatus := bridge.TaskCompleted
	if !result.Success {
		finalStatus = bridge.TaskFailed
	}
	t.setStatus(finalStatus)
	m.observer.TaskStatusChanged(t.TaskID, finalStatus)
	m.observer.ExecutionFinished(t.TaskID, result.Success, result.Message, string(result.StopReason))

	return result.Success
}
