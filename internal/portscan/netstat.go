// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package portscan

import (
	gopsnet "github.com/shirou/gopsutil/v3/net"
)

// listListeningLoopbackPorts enumerates TCP sockets bound to
// 127.0.0.1 or ::1 in LISTEN state, portably, via gopsutil (spec §4.3 step
// 2). Any platform error yields an empty set rather than failing
// discovery; the pipeline still has the manager queries and the
// fallback probe.
func listListeningLoopbackPorts() map[int]bool {
	out := map[int]bool{}
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return out
	}
	for _, c := range conns {
		if c.Status != "LISTEN" {
			continue
		}
		if c.Laddr.IP != "127.0.0.1" && c.Laddr.IP != "::1" {
			continue
		}
		if c.Laddr.Port == 0 {
			continue
		}
		out[int(c.Laddr.Port)] = true
	}
	return out
}
