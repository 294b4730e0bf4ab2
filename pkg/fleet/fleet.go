// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package fleet is the public facade over the emulator fleet
// automation engine: device discovery/connection pooling, the
// workflow executor, and the multi-workflow task manager, wired
// together the way avdmanager.Manager wires the AVD golden/clone
// engine.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/forkbombeu/fleetctl/internal/adbpath"
	"github.com/forkbombeu/fleetctl/internal/bridge"
	"github.com/forkbombeu/fleetctl/internal/config"
	"github.com/forkbombeu/fleetctl/internal/executor"
	"github.com/forkbombeu/fleetctl/internal/model"
	"github.com/forkbombeu/fleetctl/internal/pool"
	"github.com/forkbombeu/fleetctl/internal/portscan"
	"github.com/forkbombeu/fleetctl/internal/portscan/dockerscan"
	"github.com/forkbombeu/fleetctl/internal/task"
	"github.com/forkbombeu/fleetctl/internal/task/builtin"
	"github.com/forkbombeu/fleetctl/internal/taskmanager"
	"github.com/forkbombeu/fleetctl/internal/telemetry"
	"github.com/forkbombeu/fleetctl/internal/wfformat"
	"github.com/forkbombeu/fleetctl/internal/winreg"
)

var engineTracer = otel.Tracer("fleetctl/fleet")

// ExecutionMode and its constants re-export taskmanager's so callers
// of this package never need to import internal/taskmanager directly.
type ExecutionMode = taskmanager.ExecutionMode

const (
	ModeSync  = taskmanager.ModeSync
	ModeAsync = taskmanager.ModeAsync
)

// Options configures a Manager. Every field is optional; zero values
// fall back to environment detection (config.Detect) or a sane
// default, matching avdmanager's NewWithEnv pattern.
type Options struct {
	CorrelationID string

	// MuMuConsolePath and LDConsolePath point at each vendor's manager
	// CLI (spec §4.3); discovery for that family is skipped when empty.
	MuMuConsolePath string
	LDConsolePath   string

	WorkerPoolSize      int
	HealthCheckInterval time.Duration
	AdbPathCacheTTL     time.Duration

	ExecutionMode taskmanager.ExecutionMode
	MaxJumpDepth  int

	ImageMatcher builtin.ImageMatcher
	OCRProvider  builtin.OCRProvider
	Observer     bridge.Observer

	// BackupDir, if non-empty, enables timestamped workflow backups on
	// save (spec §4.9), relative to each workflow file's directory.
	BackupDir string

	// DefaultDeviceID is the device every loaded workflow runs
	// against unless overridden per task via SetTaskDevice.
	DefaultDeviceID string
}

// Manager is the engine's single entry point: one resolver, one port
// discoverer, one connection pool, one task registry, and one task
// manager, all sharing a correlation id for log/span correlation.
type Manager struct {
	correlationID string

	resolver   *adbpath.Resolver
	discoverer *portscan.Discoverer
	windows    *winreg.Registry
	pool       *pool.Pool
	registry   *task.Registry
	tasks      *taskmanager.Manager
	writer     wfformat.Writer

	mumuSource *portscan.MuMuSource
	mumuStatus *muMuStatusAdapter

	defaultDeviceID string
	taskDevices     map[int]string
}

// muMuStatusAdapter bridges MuMuSource's already-queried ManagedInstance
// results into pool.MuMuStatusSource, so the pool derives MuMu device
// status from is_android_started ∧ player_state == start_finished
// (spec §4.4) instead of `adb get-state`.
type muMuStatusAdapter struct {
	mu     sync.RWMutex
	online map[int]bool
}

func newMuMuStatusAdapter() *muMuStatusAdapter {
	return &muMuStatusAdapter{online: make(map[int]bool)}
}

func (a *muMuStatusAdapter) update(instances []portscan.ManagedInstance) {
	online := make(map[int]bool, len(instances))
	for _, inst := range instances {
		if inst.ADBPort != 0 {
			online[inst.ADBPort] = inst.Running
		}
	}
	a.mu.Lock()
	a.online = online
	a.mu.Unlock()
}

func (a *muMuStatusAdapter) Online(adbPort int) (online, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	online, ok = a.online[adbPort]
	return online, ok
}

// New builds a Manager from Options, falling back to config.Detect()
// for anything left unset.
func New(opts Options) *Manager {
	cfg := config.Detect()
	if opts.CorrelationID == "" {
		opts.CorrelationID = cfg.CorrelationID
	}
	if opts.WorkerPoolSize <= 0 {
		opts.WorkerPoolSize = cfg.WorkerPoolSize
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = cfg.HealthCheckInterval
	}
	if opts.AdbPathCacheTTL <= 0 {
		opts.AdbPathCacheTTL = cfg.AdbPathCacheTTL
	}
	if opts.Observer == nil {
		opts.Observer = bridge.NopObserver{}
	}

	registry := task.NewRegistry()
	builtin.Register(registry, opts.ImageMatcher, opts.OCRProvider)

	var managers []portscan.ManagerSource
	var mumuSource *portscan.MuMuSource
	if opts.MuMuConsolePath != "" {
		mumuSource = portscan.NewMuMuSource(opts.MuMuConsolePath)
		managers = append(managers, mumuSource)
	}
	if opts.LDConsolePath != "" {
		managers = append(managers, portscan.NewLDPlayerSource(opts.LDConsolePath))
	}

	m := &Manager{
		correlationID:   opts.CorrelationID,
		resolver:        adbpath.New(opts.AdbPathCacheTTL),
		windows:         winreg.New(winreg.DefaultEnumerator()),
		registry:        registry,
		writer:          wfformat.Writer{BackupDir: opts.BackupDir},
		mumuSource:      mumuSource,
		defaultDeviceID: opts.DefaultDeviceID,
		taskDevices:     make(map[int]string),
	}

	m.discoverer = portscan.New(managers, nil)
	if dockerSrc, err := dockerscan.New(); err == nil {
		m.discoverer.Auxiliary = append(m.discoverer.Auxiliary, dockerSrc)
	}

	m.pool = pool.New(nil, opts.WorkerPoolSize, opts.HealthCheckInterval)
	if mumuSource != nil {
		m.mumuStatus = newMuMuStatusAdapter()
		m.pool.MuMuStatus = m.mumuStatus
	}

	m.tasks = taskmanager.New(taskmanager.Config{
		Mode:         opts.ExecutionMode,
		MaxJumpDepth: opts.MaxJumpDepth,
		Registry:     registry,
		Observer:     opts.Observer,
		Saver:        m.writer,
		Factory:      m.executorOptionsFor,
	})

	return m
}

func (m *Manager) startSpan(name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if m.correlationID != "" {
		attrs = append(attrs, attribute.String("correlation_id", m.correlationID))
	}
	return engineTracer.Start(context.Background(), name, trace.WithAttributes(attrs...))
}

// SetDefaultDevice sets the device every workflow task runs against
// unless overridden per task via SetTaskDevice.
func (m *Manager) SetDefaultDevice(deviceID string) {
	m.defaultDeviceID = deviceID
}

// SetTaskDevice binds a loaded workflow task to a specific device id,
// overriding the manager's DefaultDeviceID for that task only.
func (m *Manager) SetTaskDevice(taskID int, deviceID string) {
	m.taskDevices[taskID] = deviceID
}

// executorOptionsFor builds per-task executor.Options: device
// selection follows the per-task override set via SetTaskDevice, else
// falls back to the manager's default device (spec §4.7 windowing:
// "single window, or first enabled from a list").
func (m *Manager) executorOptionsFor(wt *taskmanager.WorkflowTask) executor.Options {
	deviceID := m.taskDevices[wt.TaskID]
	if deviceID == "" {
		deviceID = m.defaultDeviceID
	}
	adbPath := ""
	if dev, err := m.pool.DeviceByID(deviceID); err == nil {
		adbPath = dev.ADBPath
	}
	return executor.Options{
		DeviceID:      deviceID,
		ADBPath:       adbPath,
		Executor:      m.pool,
		CorrelationID: m.correlationID,
	}
}

// DiscoverDevices runs the full discovery pipeline (spec §4.1-4.4):
// resolve adb paths, enumerate emulator windows, scan ports, then
// register every resulting device id with the connection pool.
func (m *Manager) DiscoverDevices(ctx context.Context) ([]model.Device, error) {
	ctx, span := m.startSpan("fleet.DiscoverDevices")
	defer span.End()

	adbPaths, err := m.resolver.Resolve(ctx, m.correlationID)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}
	m.pool.AdbPaths = withGenericFallback(adbPaths)

	var runningFamilies []model.EmulatorFamily
	windows, err := m.windows.DiscoverWindows()
	if err != nil {
		telemetry.LogEvent(m.correlationID, "window discovery failed", "error", err.Error())
	} else {
		runningFamilies = runningFamiliesFromWindows(windows)
	}

	if m.mumuSource != nil {
		if instances, err := m.mumuSource.Query(ctx); err != nil {
			telemetry.LogEvent(m.correlationID, "mumu status query failed", "error", err.Error())
		} else {
			m.mumuStatus.update(instances)
		}
	}

	adbPathList := make([]string, 0, len(adbPaths))
	for _, p := range adbPaths {
		if p != "" {
			adbPathList = append(adbPathList, p)
		}
	}
	m.discoverer.ADBPaths = adbPathList

	result, err := m.discoverer.Discover(ctx, m.correlationID)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	ids := make([]string, 0, len(result.Ports))
	for _, p := range result.Ports {
		ids = append(ids, fmt.Sprintf("127.0.0.1:%d", p.Port))
	}

	devices, err := m.pool.CreateDevicesFromList(ctx, m.correlationID, ids, runningFamilies)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	out := make([]model.Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Clone())
	}
	return out, nil
}

// runningFamiliesFromWindows reduces the registry's classified windows
// to the distinct emulator families actually present on screen, in
// first-seen order, so the pool tries that family's adb binary before
// claiming the shared adb socket (spec §4.4 ADB server selection).
func runningFamiliesFromWindows(windows []model.EmulatorWindow) []model.EmulatorFamily {
	seen := make(map[model.EmulatorFamily]bool, len(windows))
	var out []model.EmulatorFamily
	for _, w := range windows {
		if w.Family == model.FamilyUnknown || seen[w.Family] {
			continue
		}
		seen[w.Family] = true
		out = append(out, w.Family)
	}
	return out
}

func withGenericFallback(resolved map[model.EmulatorFamily]string) map[model.EmulatorFamily]string {
	out := make(map[model.EmulatorFamily]string, len(resolved)+1)
	for k, v := range resolved {
		out[k] = v
	}
	if _, ok := out[model.FamilyGeneric]; !ok {
		if p, ok := out[model.FamilyUnknown]; ok {
			out[model.FamilyGeneric] = p
		}
	}
	return out
}

// Devices returns every device currently tracked by the pool.
func (m *Manager) Devices() []model.Device { return m.pool.Devices() }

// HealthyDevices returns the pool's deduplicated healthy device set
// (spec §4.4 `get_healthy_devices`).
func (m *Manager) HealthyDevices() []model.Device { return m.pool.HealthyDevices(m.correlationID) }

// Statistics returns a snapshot of the pool's command counters and
// per-device detail (spec §4.4 `get_statistics`).
func (m *Manager) Statistics() pool.Statistics { return m.pool.Statistics() }

// LoadWorkflow reads a workflow JSON file and registers it with the
// task manager under name, returning its assigned task id.
func (m *Manager) LoadWorkflow(name, path string) (int, error) {
	_, span := m.startSpan("fleet.LoadWorkflow", attribute.String("path", path))
	defer span.End()

	g, err := wfformat.ReadFile(path)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return 0, err
	}
	if err := g.Validate(); err != nil {
		telemetry.RecordSpanError(span, err)
		return 0, err
	}
	return m.tasks.AddTask(name, path, g), nil
}

// RunWorkflow executes one loaded workflow and blocks until it
// reaches a terminal state.
func (m *Manager) RunWorkflow(ctx context.Context, taskID int) bool {
	if !m.tasks.ExecuteTask(ctx, taskID) {
		return false
	}
	return m.awaitTask(taskID)
}

func (m *Manager) awaitTask(taskID int) bool {
	wt, ok := m.tasks.Task(taskID)
	if !ok {
		return false
	}
	for {
		switch wt.Status() {
		case bridge.TaskCompleted:
			return true
		case bridge.TaskFailed, bridge.TaskStopped:
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// SetExecutionMode switches how RunAll fans loaded workflows out.
func (m *Manager) SetExecutionMode(mode ExecutionMode) {
	m.tasks.SetExecutionMode(mode)
}

// RunAll executes every loaded, executable workflow per the manager's
// configured execution mode (spec §4.8).
func (m *Manager) RunAll(ctx context.Context) bool {
	_, span := m.startSpan("fleet.RunAll")
	defer span.End()
	return m.tasks.ExecuteAll(ctx)
}

// StopAll requests every running workflow to stop.
func (m *Manager) StopAll() int { return m.tasks.StopAll() }

// SaveAllModified persists every modified loaded workflow to disk.
func (m *Manager) SaveAllModified() int { return m.tasks.SaveAllModified() }

// Tasks returns every loaded workflow task.
func (m *Manager) Tasks() []*taskmanager.WorkflowTask { return m.tasks.AllTasks() }

// RemoveTask stops and forgets a loaded workflow.
func (m *Manager) RemoveTask(taskID int) bool {
	delete(m.taskDevices, taskID)
	return m.tasks.RemoveTask(taskID)
}

// Close releases the connection pool's worker pool and health
// monitor.
func (m *Manager) Close() { m.pool.Close() }
