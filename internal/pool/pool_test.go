// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package pool

import (
	"testing"

	"github.com/forkbombeu/fleetctl/internal/model"
)

func TestDedupeByPortKey_MuMuAndStrayPort(t *testing.T) {
	devices := []*model.Device{
		{DeviceID: "127.0.0.1:16384", Status: model.StatusOnline, Health: model.HealthHealthy},
		{DeviceID: "127.0.0.1:16416", Status: model.StatusOnline, Health: model.HealthHealthy},
		{DeviceID: "127.0.0.1:5555", Status: model.StatusOnline, Health: model.HealthHealthy},
	}

	out := dedupeByPortKey(devices)

	if len(out) != 3 {
		t.Fatalf("got %d devices, want 3 (two mumu VMs + one ldplayer-range port), got %+v", len(out), out)
	}

	keys := map[string]bool{}
	for _, d := range out {
		k, ok := portKey(d.DeviceID)
		if !ok {
			t.Fatalf("portKey(%q) unexpectedly invalid", d.DeviceID)
		}
		keys[k] = true
	}
	for _, want := range []string{"mumu_vm0", "mumu_vm1", "ldplayer_5555"} {
		if !keys[want] {
			t.Errorf("expected key %q present, got %v", want, keys)
		}
	}
}

func TestDedupeByPortKey_SamePortKeyCollapses(t *testing.T) {
	// 16384 and 16385 both map to mumu_vm0 (the +1 port-taken case).
	devices := []*model.Device{
		{DeviceID: "127.0.0.1:16384", Status: model.StatusOnline, Health: model.HealthHealthy},
		{DeviceID: "127.0.0.1:16385", Status: model.StatusOnline, Health: model.HealthHealthy},
	}
	out := dedupeByPortKey(devices)
	if len(out) != 1 {
		t.Fatalf("got %d devices, want 1 collapsed mumu_vm0 entry, got %+v", len(out), out)
	}
	if out[0].DeviceID != "127.0.0.1:16384" {
		t.Errorf("expected the lower priority port to survive, got %q", out[0].DeviceID)
	}
}

func TestPortKey_InvalidPortRejected(t *testing.T) {
	if _, ok := portKey("127.0.0.1:7555"); ok {
		t.Errorf("port 7555 should be invalid (not in MuMu or LDPlayer ranges)")
	}
}

func TestAdbPathForDevice(t *testing.T) {
	p := &Pool{AdbPaths: map[model.EmulatorFamily]string{
		model.FamilyMuMu:     "/path/mumu/adb",
		model.FamilyLDPlayer: "/path/ld/adb",
		model.FamilyGeneric:  "/path/generic/adb",
	}}

	cases := map[string]string{
		"127.0.0.1:16420": "/path/mumu/adb",
		"127.0.0.1:5567":  "/path/ld/adb",
		"emulator-5554":   "/path/generic/adb",
	}
	for id, want := range cases {
		if got := p.adbPathForDevice(id); got != want {
			t.Errorf("adbPathForDevice(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestDeviceByID_NotFound(t *testing.T) {
	p := New(map[model.EmulatorFamily]string{}, 1, 0)
	defer p.Close()

	if _, err := p.DeviceByID("127.0.0.1:5555"); err == nil {
		t.Fatalf("expected not-found error for unknown device")
	}
}
