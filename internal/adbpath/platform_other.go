// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

//go:build !windows

package adbpath

import "os/exec"

func adbBinaryName() string { return "adb" }

// hideWindow is a no-op on platforms with no console-window concept.
func hideWindow(cmd *exec.Cmd) {}
