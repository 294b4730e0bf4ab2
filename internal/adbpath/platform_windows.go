// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

//go:build windows

package adbpath

import (
	"os/exec"
	"syscall"
)

func adbBinaryName() string { return "adb.exe" }

// hideWindow suppresses the console window a spawned adb.exe would
// otherwise flash open, matching spec §6's "hidden window" invocation
// requirement.
func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
