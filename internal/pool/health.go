// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package pool

import (
	"context"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/forkbombeu/fleetctl/internal/model"
	"github.com/forkbombeu/fleetctl/internal/telemetry"
)

// criticalSilence is the last-seen age after which a device is marked
// critical regardless of its recent success rate (spec §4.4
// `_health_monitor_loop`, 300s).
const criticalSilence = 300 * time.Second

// StartHealthMonitoring launches the background goroutine that marks
// long-silent devices critical and attempts to reconnect unhealthy
// offline ones, polling every HealthCheckInterval.
func (p *Pool) StartHealthMonitoring() {
	go p.healthLoop()
}

func (p *Pool) healthLoop() {
	ticker := time.NewTicker(p.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopHealth:
			return
		case <-ticker.C:
			p.checkHealth()
		}
	}
}

func (p *Pool) checkHealth() {
	now := time.Now()

	p.mu.Lock()
	var toReconnect []*model.Device
	for _, d := range p.devices {
		if now.Sub(d.LastSeen) > criticalSilence {
			d.Health = model.HealthCritical
		}
		if d.Health == model.HealthUnhealthy || d.Health == model.HealthCritical {
			if d.Status == model.StatusOffline {
				toReconnect = append(toReconnect, d)
			}
		}
	}
	p.mu.Unlock()

	for _, d := range toReconnect {
		if p.reconnect(context.Background(), d) {
			p.mu.Lock()
			d.Status = model.StatusOnline
			d.Health = model.HealthHealthy
			d.Errors = 0
			p.mu.Unlock()

			p.stats.mu.Lock()
			p.stats.reconnections++
			p.stats.mu.Unlock()
		}
	}
}

// reconnect runs `adb connect` followed by a liveness probe, matching
// `_try_reconnect_device`.
func (p *Pool) reconnect(ctx context.Context, d *model.Device) bool {
	if !strings.Contains(d.DeviceID, ":") {
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(cctx, d.ADBPath, "connect", d.DeviceID).Run(); err != nil {
		return false
	}

	pctx, pcancel := context.WithTimeout(ctx, 5*time.Second)
	defer pcancel()
	err := exec.CommandContext(pctx, d.ADBPath, "-s", d.DeviceID, "shell", "echo", "test").Run()
	return err == nil
}

// HealthyDevices returns online, healthy-or-degraded devices after
// attempting to reconnect any offline ones and deduplicating by
// emulator port key (spec §4.4 `get_healthy_devices`).
func (p *Pool) HealthyDevices(correlationID string) []model.Device {
	p.mu.RLock()
	var healthy []*model.Device
	var offline []*model.Device
	for _, d := range p.devices {
		switch {
		case d.Status == model.StatusOffline:
			offline = append(offline, d)
		case d.Status == model.StatusOnline && (d.Health == model.HealthHealthy || d.Health == model.HealthDegraded):
			healthy = append(healthy, d)
		}
	}
	p.mu.RUnlock()

	if len(offline) > 0 {
		telemetry.LogEvent(correlationID, "reconnecting offline devices", "count", len(offline))
		for _, d := range offline {
			if p.reconnect(context.Background(), d) {
				p.mu.Lock()
				d.Status = model.StatusOnline
				d.Health = model.HealthHealthy
				d.Errors = 0
				p.mu.Unlock()
				healthy = append(healthy, d)
			}
		}
	}

	unique := dedupeByPortKey(healthy)

	out := make([]model.Device, 0, len(unique))
	for _, d := range unique {
		out = append(out, d.Clone())
	}
	return out
}

// portKey mirrors `_get_port_key`: MuMu devices key by VM index
// (tolerating the +1 port-taken offset), LDPlayer devices key by their
// own port (each instance independent). A host:port id whose port is in
// neither range is reported invalid and excluded; an id with no numeric
// port keys by its raw device id.
func portKey(deviceID string) (key string, valid bool) {
	idx := strings.LastIndex(deviceID, ":")
	if idx == -1 {
		return deviceID, true
	}
	port, err := strconv.Atoi(deviceID[idx+1:])
	if err != nil {
		return deviceID, true
	}

	switch {
	case port >= 16384 && (port-16384)%32 <= 1:
		vmIndex := (port - 16384) / 32
		return "mumu_vm" + strconv.Itoa(vmIndex), true
	case port >= 5555 && port <= 5585:
		return "ldplayer_" + strconv.Itoa(port), true
	default:
		return "", false
	}
}

// portPriority orders candidates within the same port key so the
// lower, canonical port wins (spec's `_get_port_priority`).
func portPriority(deviceID string) int {
	idx := strings.LastIndex(deviceID, ":")
	if idx == -1 {
		return 5
	}
	port, err := strconv.Atoi(deviceID[idx+1:])
	if err != nil {
		return 5
	}
	switch {
	case port >= 16384 && port <= 16500:
		return 1
	case port >= 5555 && port <= 5585:
		return 2
	default:
		return 9
	}
}

func dedupeByPortKey(devices []*model.Device) []*model.Device {
	sorted := make([]*model.Device, len(devices))
	copy(sorted, devices)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := portPriority(sorted[i].DeviceID), portPriority(sorted[j].DeviceID)
		if pi != pj {
			return pi < pj
		}
		return sorted[i].DeviceID < sorted[j].DeviceID
	})

	seen := map[string]bool{}
	var out []*model.Device
	for _, d := range sorted {
		key, ok := portKey(d.DeviceID)
		if !ok {
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}

// DeviceForLoadBalancing returns the healthy device with the fewest
// recorded connections, or nil when no healthy device exists (spec
// §4.4 `get_device_for_load_balancing`).
func (p *Pool) DeviceForLoadBalancing(correlationID string) *model.Device {
	healthy := p.HealthyDevices(correlationID)
	if len(healthy) == 0 {
		return nil
	}
	best := healthy[0]
	for _, d := range healthy[1:] {
		if d.Connections < best.Connections {
			best = d
		}
	}
	return &best
}
