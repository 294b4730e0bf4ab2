// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package pool

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
)

// Statistics is the pool-wide counters snapshot (spec §4.4
// `get_statistics`), plus per-device detail.
type Statistics struct {
	TotalCommands      int64
	SuccessfulCommands int64
	FailedCommands     int64
	Reconnections      int64
	DevicesDiscovered  int64
	Devices            map[string]DeviceStat
}

// DeviceStat is one device's row within Statistics.
type DeviceStat struct {
	Status          string
	Health          string
	ConnectionCount int64
	SuccessCount    int64
	ErrorCount      int64
	LastSeenAgo     string
}

// Statistics returns a snapshot of the pool's counters and per-device
// detail, formatting ages with docker/go-units for operator-facing
// output.
func (p *Pool) Statistics() Statistics {
	p.stats.mu.Lock()
	out := Statistics{
		TotalCommands:      p.stats.totalCommands,
		SuccessfulCommands: p.stats.successfulCommands,
		FailedCommands:     p.stats.failedCommands,
		Reconnections:      p.stats.reconnections,
		DevicesDiscovered:  p.stats.devicesDiscovered,
	}
	p.stats.mu.Unlock()

	p.mu.RLock()
	out.Devices = make(map[string]DeviceStat, len(p.devices))
	now := time.Now()
	for id, d := range p.devices {
		out.Devices[id] = DeviceStat{
			Status:          string(d.Status),
			Health:          string(d.Health),
			ConnectionCount: d.Connections,
			SuccessCount:    d.Successes,
			ErrorCount:      d.Errors,
			LastSeenAgo:     units.HumanDuration(now.Sub(d.LastSeen)),
		}
	}
	p.mu.RUnlock()
	return out
}

// String renders a one-line summary, e.g. for CLI status output.
func (s Statistics) String() string {
	return fmt.Sprintf(
		"commands=%d ok=%d failed=%d reconnects=%d devices=%d",
		s.TotalCommands, s.SuccessfulCommands, s.FailedCommands, s.Reconnections, len(s.Devices),
	)
}
