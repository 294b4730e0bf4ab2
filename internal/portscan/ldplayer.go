// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package portscan

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/forkbombeu/fleetctl/internal/model"
)

// LDPlayerSource queries the LDPlayer console ("ldconsole list2") for
// per-instance state (spec §4.3 step 1, §6).
type LDPlayerSource struct {
	ConsolePath string
	Timeout     time.Duration
}

// NewLDPlayerSource returns an LDPlayerSource bound to the given
// ldconsole binary.
func NewLDPlayerSource(consolePath string) *LDPlayerSource {
	return &LDPlayerSource{ConsolePath: consolePath, Timeout: 10 * time.Second}
}

func (s *LDPlayerSource) Family() model.EmulatorFamily { return model.FamilyLDPlayer }

func (s *LDPlayerSource) Query(ctx context.Context) ([]ManagedInstance, error) {
	if s.ConsolePath == "" {
		return nil, nil
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, s.ConsolePath, "list2")
	hideWindow(cmd)
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var instances []ManagedInstance
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 5 {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		androidStarted := strings.TrimSpace(parts[4]) == "1"
		instances = append(instances, ManagedInstance{
			VMIndex: index,
			ADBPort: ldPlayerADBPort(index),
			Running: androidStarted,
		})
	}
	return instances, nil
}

// ldPlayerADBPort computes the ADB port for instance i per spec §6.
func ldPlayerADBPort(index int) int {
	return 5555 + 2*index
}
