// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package portscan

import (
	"context"
	"net"
	"testing"

	"github.com/forkbombeu/fleetctl/internal/model"
)

func TestDedupeAliases(t *testing.T) {
	in := map[int]bool{16384: true, 18384: true, 5555: true}
	out := dedupeAliases(in)
	if out[16384] {
		t.Errorf("expected 16384 dropped in favor of its +2000 alias")
	}
	if !out[18384] {
		t.Errorf("expected 18384 retained")
	}
	if !out[5555] {
		t.Errorf("expected unrelated port retained")
	}
}

func TestInWellKnownRange(t *testing.T) {
	cases := map[int]bool{
		5555: true, 5585: true, 5586: false,
		16384: true, 16400: true, 16401: false,
		21503: true, 9999: false,
	}
	for port, want := range cases {
		if got := inWellKnownRange(port); got != want {
			t.Errorf("inWellKnownRange(%d) = %v, want %v", port, got, want)
		}
	}
}

type fakeManager struct {
	family    model.EmulatorFamily
	instances []ManagedInstance
}

func (f fakeManager) Family() model.EmulatorFamily { return f.family }
func (f fakeManager) Query(ctx context.Context) ([]ManagedInstance, error) {
	return f.instances, nil
}

// listener opens a real loopback TCP listener so verify() has a live
// port to dial, matching spec §4.3 step 4 without mocking net.Dial.
func listener(t *testing.T) (*net.TCPListener, int) {
	t.Helper()
	l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return l, l.Addr().(*net.TCPAddr).Port
}

func TestDiscover_ManagerAttribution(t *testing.T) {
	l, port := listener(t)
	defer l.Close()

	d := New([]ManagerSource{
		fakeManager{family: model.FamilyMuMu, instances: []ManagedInstance{{VMIndex: 0, ADBPort: port, Running: true}}},
	}, nil)

	res, err := d.Discover(context.Background(), "test")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	found := false
	for _, p := range res.Ports {
		if p.Port == port {
			found = true
			if p.Family != model.FamilyMuMu {
				t.Errorf("port %d attributed to %q, want mumu", port, p.Family)
			}
		}
	}
	if !found {
		t.Fatalf("expected discovered port %d in result, got %+v", port, res.Ports)
	}
}

func listenOn(t *testing.T, port int) *net.TCPListener {
	t.Helper()
	l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
	if err != nil {
		t.Skipf("port %d unavailable in this environment: %v", port, err)
	}
	return l
}

func TestDiscover_LDPlayerAuthoritativeFiltersUnmanaged(t *testing.T) {
	const managedPort = 5556
	const strayPort = 5566

	managed := listenOn(t, managedPort)
	defer managed.Close()
	stray := listenOn(t, strayPort)
	defer stray.Close()

	d := New([]ManagerSource{
		fakeManager{family: model.FamilyLDPlayer, instances: []ManagedInstance{
			{VMIndex: 0, ADBPort: managedPort, Running: true},
			{VMIndex: 1, ADBPort: strayPort, Running: false},
		}},
	}, nil)

	res, err := d.Discover(context.Background(), "test")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	for _, p := range res.Ports {
		if p.Port == strayPort {
			t.Errorf("unmanaged LDPlayer port %d in [5555,5585] should have been filtered out, got %+v", strayPort, res.Ports)
		}
	}
	foundManaged := false
	for _, p := range res.Ports {
		if p.Port == managedPort {
			foundManaged = true
		}
	}
	if !foundManaged {
		t.Errorf("managed LDPlayer port %d should survive, got %+v", managedPort, res.Ports)
	}
}
