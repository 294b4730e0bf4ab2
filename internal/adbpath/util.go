// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package adbpath

import "os"

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
