// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

/*
Package fleet provides a Go library for discovering, connecting to,
and automating a fleet of Android emulator instances (MuMu, LDPlayer,
and generic/container-hosted emulators) through workflows of ADB-driven
task cards.

# Overview

This library wraps three layers into one entry point: device discovery
and connection pooling over ADB, a workflow graph executor that
interprets a sequence of task cards as a state machine, and a task
manager that runs many such workflows - sequentially, concurrently, or
chained by jump rules - across the discovered fleet.

# Quick Start

	import "github.com/forkbombeu/fleetctl/pkg/fleet"

	func main() {
		mgr := fleet.New(fleet.Options{
			MuMuConsolePath: `C:\Program Files\Netease\MuMuPlayer-12.0\shell\MuMuManager.exe`,
		})
		defer mgr.Close()

		devices, _ := mgr.DiscoverDevices(context.Background())
		mgr.SetDefaultDevice(devices[0].DeviceID)

		taskID, _ := mgr.LoadWorkflow("daily-checkin", "workflows/checkin.json")
		mgr.RunWorkflow(context.Background(), taskID)
	}

# Key Concepts

Device: one ADB-reachable emulator instance, tracked by the connection
pool with a status (online/offline/unauthorized) and health
classification (healthy/unhealthy/critical).

Workflow: a graph.Graph of task cards (start, delay, input, app
lifecycle, image click, OCR region) connected by sequential and branch
edges, loaded from or saved to the on-disk JSON format under
internal/wfformat.

WorkflowTask: one workflow bound to the task manager, with its own
lifecycle (idle/running/completed/failed/stopped) and optional jump
rules to chain into another task when it stops for a particular
reason.

# Discovery Pipeline

DiscoverDevices resolves the adb binaries for each emulator family,
enumerates emulator windows (Windows hosts only), scans well-known ADB
port ranges and queries any configured vendor manager CLI, then
registers every surviving port as a pool device. Call it once at
startup and again whenever the fleet's topology may have changed -
repeated calls are safe and idempotent on unchanged devices.

# Thread Safety

A Manager's discovery, pool, and task-manager operations are safe for
concurrent use. SetDefaultDevice, SetTaskDevice and RemoveTask update
device bindings without a lock, and running workflows read those
bindings; call them from one goroutine, and not while workflows are
running.

# License

AGPL-3.0-only

Copyright (C) 2025 Forkbomb B.V.
*/
package fleet
