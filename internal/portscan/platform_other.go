// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

//go:build !windows

package portscan

import "os/exec"

func hideWindow(cmd *exec.Cmd) {}
