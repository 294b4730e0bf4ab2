// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

//go:build windows

package winreg

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                   = windows.NewLazySystemDLL("user32.dll")
	procEnumWindows          = user32.NewProc("EnumWindows")
	procGetWindowTextW       = user32.NewProc("GetWindowTextW")
	procGetWindowTextLengthW = user32.NewProc("GetWindowTextLengthW")
	procIsWindowVisible      = user32.NewProc("IsWindowVisible")
	procGetWindowThreadPID   = user32.NewProc("GetWindowThreadProcessId")
)

// Win32Enumerator lists top-level windows via the Win32 API, the
// backend MuMu and LDPlayer windows are actually found through.
type Win32Enumerator struct{}

// EnumerateWindows implements WindowEnumerator using EnumWindows,
// GetWindowTextW and GetWindowThreadProcessId.
func (Win32Enumerator) EnumerateWindows() ([]RawWindow, error) {
	var out []RawWindow

	cb := syscall.NewCallback(func(hwnd syscall.Handle, _ uintptr) uintptr {
		visible, _, _ := procIsWindowVisible.Call(uintptr(hwnd))
		if visible == 0 {
			return 1
		}

		length, _, _ := procGetWindowTextLengthW.Call(uintptr(hwnd))
		if length == 0 {
			return 1
		}
		buf := make([]uint16, length+1)
		procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
		title := windows.UTF16ToString(buf)

		var pid uint32
		procGetWindowThreadPID.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&pid)))

		processPath := processPathFromPID(pid)

		out = append(out, RawWindow{
			Handle:      uintptr(hwnd),
			Title:       title,
			ProcessPath: processPath,
		})
		return 1
	})

	procEnumWindows.Call(cb, 0)
	return out, nil
}

// DefaultEnumerator returns the platform's WindowEnumerator.
func DefaultEnumerator() WindowEnumerator {
	return Win32Enumerator{}
}

func processPathFromPID(pid uint32) string {
	const queryLimitedInfo = windows.PROCESS_QUERY_LIMITED_INFORMATION
	h, err := windows.OpenProcess(queryLimitedInfo, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return windows.UTF16ToString(buf[:size])
}
