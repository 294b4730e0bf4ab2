// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package portscan

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"time"

	"github.com/forkbombeu/fleetctl/internal/model"
)

// MuMuSource queries the MuMu vendor manager CLI ("MuMuManager.exe info
// -v all" on Windows installs) for authoritative per-VM state (spec
// §4.3 step 1, §6).
type MuMuSource struct {
	ConsolePath string
	Timeout     time.Duration
}

// NewMuMuSource returns a MuMuSource bound to the given manager binary.
func NewMuMuSource(consolePath string) *MuMuSource {
	return &MuMuSource{ConsolePath: consolePath, Timeout: 10 * time.Second}
}

func (s *MuMuSource) Family() model.EmulatorFamily { return model.FamilyMuMu }

// mumuVMInfo mirrors the fields the manager's JSON output carries per VM
// slot; unrecognized fields are ignored.
type mumuVMInfo struct {
	ADBPort         int    `json:"adb_port"`
	IsAndroidStarted bool  `json:"is_android_started"`
	PlayerState     string `json:"player_state"`
}

func (s *MuMuSource) Query(ctx context.Context) ([]ManagedInstance, error) {
	if s.ConsolePath == "" {
		return nil, nil
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, s.ConsolePath, "info", "-v", "all")
	hideWindow(cmd)
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	raw := map[string]mumuVMInfo{}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, err
	}

	instances := make([]ManagedInstance, 0, len(raw))
	for key, info := range raw {
		vmIndex, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		instances = append(instances, ManagedInstance{
			VMIndex: vmIndex,
			ADBPort: info.ADBPort,
			Running: info.IsAndroidStarted && info.PlayerState == "start_finished",
		})
	}
	return instances, nil
}
