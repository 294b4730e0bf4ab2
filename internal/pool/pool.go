// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package pool implements the Connection Pool (spec §4.4): it tracks
// known ADB devices, restarts the ADB server before bulk discovery,
// determines per-device ADB paths by emulator family, and maintains
// per-device success/error counters used for health classification.
package pool

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/forkbombeu/fleetctl/internal/model"
	"github.com/forkbombeu/fleetctl/internal/telemetry"
)

// MuMuStatusSource answers whether a MuMu-family device is actually up,
// per the manager's is_android_started ∧ player_state == start_finished
// predicate (spec §4.4), bypassing `adb get-state` for that family.
type MuMuStatusSource interface {
	// Online reports whether the VM backing the given ADB port is
	// considered started; ok is false when the port isn't managed.
	Online(adbPort int) (online, ok bool)
}

// Pool is the ADB connection pool.
type Pool struct {
	mu      sync.RWMutex
	devices map[string]*model.Device

	// AdbPaths maps an emulator family to the adb binary that should
	// be used to reach its devices; model.FamilyGeneric is the
	// fallback when no family-specific path exists.
	AdbPaths map[model.EmulatorFamily]string

	MuMuStatus MuMuStatusSource

	WorkerPoolSize      int
	HealthCheckInterval time.Duration

	stats statsCounters

	stopHealth chan struct{}
	healthOnce sync.Once

	jobQueue *queue
	workers  sync.WaitGroup
	wgInit   sync.Once
}

type statsCounters struct {
	mu                  sync.Mutex
	totalCommands       int64
	successfulCommands  int64
	failedCommands      int64
	reconnections       int64
	devicesDiscovered   int64
}

// New returns a Pool with the given worker count and health-check
// cadence (spec §4.4 defaults: 10 workers, 30s interval).
func New(adbPaths map[model.EmulatorFamily]string, workerPoolSize int, healthCheckInterval time.Duration) *Pool {
	if workerPoolSize <= 0 {
		workerPoolSize = 10
	}
	if healthCheckInterval <= 0 {
		healthCheckInterval = 30 * time.Second
	}
	p := &Pool{
		devices:             make(map[string]*model.Device),
		AdbPaths:            adbPaths,
		WorkerPoolSize:      workerPoolSize,
		HealthCheckInterval: healthCheckInterval,
		stopHealth:          make(chan struct{}),
	}
	p.startWorkers()
	p.StartHealthMonitoring()
	return p
}

// adbPathForDevice resolves the adb binary for a device id using the
// port-range-to-family heuristic of spec §4.4 / §6.
func (p *Pool) adbPathForDevice(deviceID string) string {
	family := model.FamilyGeneric
	if idx := strings.LastIndex(deviceID, ":"); idx != -1 {
		if port, err := strconv.Atoi(deviceID[idx+1:]); err == nil {
			switch {
			case port >= 16384 && port <= 16500:
				family = model.FamilyMuMu
			case port >= 5555 && port <= 5585:
				family = model.FamilyLDPlayer
			}
		}
	}
	if path, ok := p.AdbPaths[family]; ok && path != "" {
		return path
	}
	return p.AdbPaths[model.FamilyGeneric]
}

func isMuMuDevice(deviceID string) bool {
	idx := strings.LastIndex(deviceID, ":")
	if idx == -1 {
		return false
	}
	port, err := strconv.Atoi(deviceID[idx+1:])
	if err != nil {
		return false
	}
	return port >= 16384 && port <= 16500
}

// CreateDevicesFromList restarts the ADB server, checks status for
// each requested id, attempts one connection for offline host:port
// ids, and merges the results into the pool (spec §4.4 step
// `CreateDevicesFromList`).
func (p *Pool) CreateDevicesFromList(ctx context.Context, correlationID string, ids []string, runningFamilies []model.EmulatorFamily) ([]*model.Device, error) {
	ctx, span := telemetry.StartSpan(ctx, correlationID, "pool.CreateDevicesFromList")
	defer span.End()

	p.restartADBServer(ctx, correlationID, runningFamilies)

	out := make([]*model.Device, 0, len(ids))
	for _, id := range ids {
		adbPath := p.adbPathForDevice(id)
		dev := &model.Device{
			DeviceID: id,
			ADBPath:  adbPath,
			LastSeen: time.Now(),
		}

		if isMuMuDevice(id) && p.MuMuStatus != nil {
			dev.Status = p.mumuStatus(id)
		} else {
			dev.Status = p.getState(ctx, adbPath, id)
		}

		if dev.Status == model.StatusOffline && strings.Contains(id, ":") {
			if p.connect(ctx, adbPath, id) {
				dev.Status = model.StatusOnline
			}
		}

		out = append(out, dev)
	}

	p.merge(out)
	return out, nil
}

func (p *Pool) mumuStatus(deviceID string) model.DeviceStatus {
	idx := strings.LastIndex(deviceID, ":")
	if idx == -1 {
		return model.StatusUnknown
	}
	port, err := strconv.Atoi(deviceID[idx+1:])
	if err != nil {
		return model.StatusUnknown
	}
	online, ok := p.MuMuStatus.Online(port)
	if !ok {
		return model.StatusUnknown
	}
	if online {
		return model.StatusOnline
	}
	return model.StatusOffline
}

func (p *Pool) getState(ctx context.Context, adbPath, deviceID string) model.DeviceStatus {
	if adbPath == "" {
		return model.StatusUnknown
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(cctx, adbPath, "-s", deviceID, "get-state").Output()
	if err != nil {
		return model.StatusOffline
	}
	switch strings.TrimSpace(string(out)) {
	case "device":
		return model.StatusOnline
	case "offline":
		return model.StatusOffline
	case "unauthorized":
		return model.StatusUnauthorized
	default:
		return model.StatusUnknown
	}
}

func (p *Pool) connect(ctx context.Context, adbPath, deviceID string) bool {
	if adbPath == "" {
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	out, err := exec.CommandContext(cctx, adbPath, "connect", deviceID).Output()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(out)), "connected")
}

func (p *Pool) merge(devices []*model.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range devices {
		existing, ok := p.devices[d.DeviceID]
		if !ok {
			p.devices[d.DeviceID] = d
			p.stats.mu.Lock()
			p.stats.devicesDiscovered++
			p.stats.mu.Unlock()
			continue
		}
		existing.Status = d.Status
		existing.LastSeen = time.Now()
	}
}

// restartADBServer kills every running adb process (spec §4.4: "kill
// all adb processes, wait 3s, start-server with three attempts"), then
// claims the shared adb socket with the binary belonging to an
// emulator family that is actually running, trying the rest in a
// fixed order only if that fails (spec §4.4 "ADB server selection":
// first-arriving family wins the socket, so the choice of binary is
// critical, not incidental).
func (p *Pool) restartADBServer(ctx context.Context, correlationID string, runningFamilies []model.EmulatorFamily) {
	killAllADBProcesses(correlationID)
	time.Sleep(3 * time.Second)

	for _, family := range p.serverStartOrder(runningFamilies) {
		adbPath := p.AdbPaths[family]
		if adbPath == "" {
			continue
		}
		if p.tryStartServer(ctx, correlationID, family, adbPath) {
			return
		}
	}
}

// serverStartOrder returns every family with a configured adb path,
// running families first (in the given priority order), then the
// remaining families sorted by name for a deterministic fallback.
func (p *Pool) serverStartOrder(runningFamilies []model.EmulatorFamily) []model.EmulatorFamily {
	seen := make(map[model.EmulatorFamily]bool, len(p.AdbPaths))
	var order []model.EmulatorFamily

	for _, family := range runningFamilies {
		if _, ok := p.AdbPaths[family]; ok && !seen[family] {
			seen[family] = true
			order = append(order, family)
		}
	}

	var rest []model.EmulatorFamily
	for family := range p.AdbPaths {
		if !seen[family] {
			rest = append(rest, family)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(order, rest...)
}

func (p *Pool) tryStartServer(ctx context.Context, correlationID string, family model.EmulatorFamily, adbPath string) bool {
	for attempt := 0; attempt < 3; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := exec.CommandContext(cctx, adbPath, "start-server").Run()
		cancel()
		if err == nil {
			return true
		}
		time.Sleep(time.Second)
	}
	telemetry.LogEvent(correlationID, "adb start-server failed", "family", family, "path", adbPath)
	return false
}

// killAllADBProcesses enumerates running processes via gopsutil and
// terminates any named adb/adb.exe, replacing the teacher's lack of a
// portable process-kill primitive.
func killAllADBProcesses(correlationID string) {
	procs, err := gopsprocess.Processes()
	if err != nil {
		telemetry.LogEvent(correlationID, "process enumeration failed", "error", err.Error())
		return
	}
	for _, proc := range procs {
		name, err := proc.Name()
		if err != nil {
			continue
		}
		lower := strings.ToLower(name)
		if lower != "adb" && lower != "adb.exe" {
			continue
		}
		_ = proc.Kill()
	}
}

// DeviceByID returns a copy of the tracked device, or a
// containerd/errdefs not-found error when it isn't in the pool.
func (p *Pool) DeviceByID(deviceID string) (model.Device, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.devices[deviceID]
	if !ok {
		return model.Device{}, errdefs.NotFound(fmt.Errorf("device %q not in pool", deviceID))
	}
	return d.Clone(), nil
}

// Devices returns a snapshot of every tracked device.
func (p *Pool) Devices() []model.Device {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.Device, 0, len(p.devices))
	for _, d := range p.devices {
		out = append(out, d.Clone())
	}
	return out
}

// Close stops the worker pool and health monitor.
func (p *Pool) Close() {
	p.healthOnce.Do(func() { close(p.stopHealth) })
	p.jobQueue.close()
	p.workers.Wait()
}
