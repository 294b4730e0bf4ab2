// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package portscan implements the Port Discoverer (spec §4.3): it
// combines emulator-manager queries, TCP socket scanning, and `adb
// devices` output into the set of live ADB ports, attributing each to
// an emulator family and removing MuMu/LDPlayer port aliasing.
package portscan

import (
	"bufio"
	"context"
	"net"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/forkbombeu/fleetctl/internal/model"
	"github.com/forkbombeu/fleetctl/internal/telemetry"
)

// wellKnownRanges are the ADB port ranges socket-scanning retains
// candidates from (spec §4.3 step 2).
var wellKnownRanges = [][2]int{
	{5555, 5585},
	{7555, 7585},
	{16384, 16400},
	{21503, 21520},
}

// fallbackPorts is the conservative default set probed when no port
// survives the normal pipeline (spec §4.3 step 5).
var fallbackPorts = []int{7555, 16384}

// ManagedInstance is one VM slot reported by an authoritative emulator
// manager CLI.
type ManagedInstance struct {
	VMIndex int
	ADBPort int
	Running bool
}

// ManagerSource queries one vendor's emulator manager for authoritative
// VM/port state.
type ManagerSource interface {
	Family() model.EmulatorFamily
	Query(ctx context.Context) ([]ManagedInstance, error)
}

// AuxiliarySource contributes additional candidate ports from a
// non-manager origin (e.g. containerized emulators); its ports are
// folded into the generic candidate pool and get a family only when a
// manager source also reported them.
type AuxiliarySource interface {
	DiscoverPorts(ctx context.Context) ([]int, error)
}

// Result is the outcome of one discovery pass.
type Result struct {
	// Ports is the final deduplicated, attributed port list.
	Ports []AttributedPort
}

// AttributedPort is one surviving ADB port and the family it was
// attributed to.
type AttributedPort struct {
	Port   int
	Family model.EmulatorFamily
}

// Discoverer runs the full port discovery pipeline.
type Discoverer struct {
	Managers   []ManagerSource
	Auxiliary  []AuxiliarySource
	ADBPaths   []string
	DialTimeout time.Duration
}

// New returns a Discoverer with the spec's default 1s socket-verify
// timeout.
func New(managers []ManagerSource, adbPaths []string) *Discoverer {
	return &Discoverer{Managers: managers, ADBPaths: adbPaths, DialTimeout: time.Second}
}

// Discover runs the pipeline described in spec §4.3.
func (d *Discoverer) Discover(ctx context.Context, correlationID string) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, correlationID, "portscan.Discover")
	defer span.End()

	mumuPorts := map[int]bool{}
	ldplayerPorts := map[int]bool{}
	mumuAuthoritative := map[int]bool{}
	ldAuthoritative := map[int]bool{}

	for _, mgr := range d.Managers {
		instances, err := mgr.Query(ctx)
		if err != nil {
			telemetry.LogEvent(correlationID, "manager query failed", "family", mgr.Family(), "error", err.Error())
			continue
		}
		for _, inst := range instances {
			if inst.ADBPort == 0 {
				continue
			}
			switch mgr.Family() {
			case model.FamilyMuMu:
				mumuPorts[inst.ADBPort] = true
				if inst.Running {
					mumuAuthoritative[inst.ADBPort] = true
				}
			case model.FamilyLDPlayer:
				ldplayerPorts[inst.ADBPort] = true
				if inst.Running {
					ldAuthoritative[inst.ADBPort] = true
				}
			}
		}
	}

	candidates := map[int]bool{}
	for p := range listListeningLoopbackPorts() {
		if inWellKnownRange(p) {
			candidates[p] = true
		}
	}

	for _, adbPath := range d.ADBPaths {
		for _, p := range connectedPortsFromADBDevices(ctx, adbPath) {
			candidates[p] = true
		}
	}
	for p := range mumuPorts {
		candidates[p] = true
	}
	for p := range ldplayerPorts {
		candidates[p] = true
	}

	for _, aux := range d.Auxiliary {
		ports, err := aux.DiscoverPorts(ctx)
		if err != nil {
			telemetry.LogEvent(correlationID, "auxiliary port source failed", "error", err.Error())
			continue
		}
		for _, p := range ports {
			candidates[p] = true
		}
	}

	verified := map[int]bool{}
	for p := range candidates {
		if d.verify(p) {
			verified[p] = true
		}
	}

	if len(verified) == 0 {
		for _, p := range fallbackPorts {
			if d.verify(p) {
				verified[p] = true
			}
		}
	}

	// LDPlayer: when the manager reports an authoritative set, drop
	// surviving [5555,5585] ports outside it.
	if len(ldAuthoritative) > 0 {
		for p := range verified {
			if p >= 5555 && p <= 5585 && !ldAuthoritative[p] {
				delete(verified, p)
			}
		}
	}

	verified = dedupeAliases(verified)

	var out []AttributedPort
	for p := range verified {
		family := model.FamilyUnknown
		switch {
		case mumuPorts[p]:
			family = model.FamilyMuMu
		case ldplayerPorts[p]:
			family = model.FamilyLDPlayer
		}
		out = append(out, AttributedPort{Port: p, Family: family})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })

	return Result{Ports: out}, nil
}

// dedupeAliases drops the smaller of two verified ports that differ by
// exactly 2000 (spec §4.3: MuMu's old/new port aliasing).
func dedupeAliases(verified map[int]bool) map[int]bool {
	out := make(map[int]bool, len(verified))
	for p := range verified {
		out[p] = true
	}
	for p := range verified {
		if out[p+2000] {
			delete(out, p)
		}
	}
	return out
}

func inWellKnownRange(port int) bool {
	for _, r := range wellKnownRanges {
		if port >= r[0] && port <= r[1] {
			return true
		}
	}
	return false
}

// verify opens a TCP connection with the discoverer's dial timeout;
// both a successful connect and an actively-refused connection count
// as "port exists" per spec §4.3 step 4.
func (d *Discoverer) verify(port int) bool {
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), timeout)
	if err == nil {
		conn.Close()
		return true
	}
	if opErr, ok := err.(*net.OpError); ok {
		if strings.Contains(strings.ToLower(opErr.Err.Error()), "refused") {
			return true
		}
	}
	return false
}

// connectedPortsFromADBDevices parses `adb devices` for loopback
// host:port serials already connected.
func connectedPortsFromADBDevices(ctx context.Context, adbPath string) []int {
	if adbPath == "" {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(cctx, adbPath, "devices")
	hideWindow(cmd)
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	var ports []int
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		serial := fields[0]
		idx := strings.LastIndex(serial, ":")
		if idx == -1 {
			continue
		}
		if p, err := strconv.Atoi(serial[idx+1:]); err == nil {
			ports = append(ports, p)
		}
	}
	return ports
}
