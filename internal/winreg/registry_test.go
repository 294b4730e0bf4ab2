// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package winreg

import (
	"testing"

	"github.com/forkbombeu/fleetctl/internal/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		title string
		want  model.EmulatorFamily
	}{
		{"MuMu模拟器12-0", model.FamilyMuMu},
		{"网易MuMu", model.FamilyMuMu},
		{"MuMu12", model.FamilyMuMu},
		{"雷电模拟器", model.FamilyLDPlayer},
		{"LDPlayer9", model.FamilyLDPlayer},
		{"Microsoft Edge", model.FamilyUnknown},
		{"Google Chrome - mumu tab", model.FamilyUnknown},
		{"Random Window", model.FamilyUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.title); got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.title, got, c.want)
		}
	}
}

func TestVMIndex(t *testing.T) {
	cases := []struct {
		title string
		want  int
	}{
		{"mumu模拟器12-0", 0},
		{"mumu模拟器12-3", 3},
		{"MuMu5", 5},
	}
	for _, c := range cases {
		got := VMIndex(c.title)
		if got == nil || *got != c.want {
			t.Errorf("VMIndex(%q) = %v, want %d", c.title, got, c.want)
		}
	}
}

type fakeEnumerator struct {
	windows []RawWindow
}

func (f fakeEnumerator) EnumerateWindows() ([]RawWindow, error) { return f.windows, nil }

func TestDiscoverWindows(t *testing.T) {
	reg := New(fakeEnumerator{windows: []RawWindow{
		{Handle: 1, Title: "MuMu模拟器12-0", ProcessPath: "C:\\MuMu\\MuMuPlayer.exe"},
		{Handle: 2, Title: "雷电模拟器", ProcessPath: "C:\\LDPlayer\\dnplayer.exe"},
		{Handle: 3, Title: "Notepad", ProcessPath: "C:\\Windows\\notepad.exe"},
	}})

	windows, err := reg.DiscoverWindows()
	if err != nil {
		t.Fatalf("DiscoverWindows: %v", err)
	}
	if len(windows) != 3 {
		t.Fatalf("got %d windows, want 3", len(windows))
	}
	if windows[0].Family != model.FamilyMuMu || windows[0].VMIndex == nil || *windows[0].VMIndex != 0 {
		t.Errorf("unexpected first window: %+v", windows[0])
	}
	if windows[1].Family != model.FamilyLDPlayer {
		t.Errorf("unexpected second window: %+v", windows[1])
	}
	if windows[2].Family != model.FamilyUnknown {
		t.Errorf("unexpected third window: %+v", windows[2])
	}
}
