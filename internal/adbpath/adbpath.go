// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package adbpath implements the ADB Path Resolver (spec §4.2): it
// locates candidate adb binaries from the system PATH and from
// currently running processes, validates each with `adb version`, and
// caches the resulting family -> path map for a configurable TTL.
package adbpath

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/forkbombeu/fleetctl/internal/model"
	"github.com/forkbombeu/fleetctl/internal/telemetry"
)

// sourcePriority ranks how a candidate path was discovered; lower
// wins ties when picking a single adb for a family (spec §4.2: system
// path > Android-SDK-like path > emulator-bundled).
type sourcePriority int

const (
	prioritySystemPath sourcePriority = iota
	prioritySDKLike
	priorityBundled
)

// candidate is an unvalidated adb path discovered from one source.
type candidate struct {
	path     string
	family   model.EmulatorFamily
	priority sourcePriority
}

// emulatorKeywords are process-name/cmdline fragments that mark a
// running process as emulator-related, widening the process-based
// search beyond literal "adb".
var emulatorKeywords = []string{"adb", "mumu", "mumuplayer", "ldplayer", "ldconsole", "nemud", "hd-player"}

// bundledSubdirs are common subdirectories under an emulator's install
// root or a running process's directory where adb is bundled.
var bundledSubdirs = []string{"platform-tools", "tools", "bin", "LDPlayer9", "LDPlayer4"}

// Resolver caches family -> adb path resolutions for the TTL given to
// New.
type Resolver struct {
	cacheTTL time.Duration

	mu        sync.Mutex
	resolved  map[model.EmulatorFamily]string
	resolvedAt time.Time
}

// New returns a Resolver caching results for the given TTL.
func New(cacheTTL time.Duration) *Resolver {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Resolver{cacheTTL: cacheTTL, resolved: make(map[model.EmulatorFamily]string)}
}

// Resolve returns the best adb path for each discoverable emulator
// family, validating candidates with `adb version` (5s timeout) and
// caching the result.
func (r *Resolver) Resolve(ctx context.Context, correlationID string) (map[model.EmulatorFamily]string, error) {
	ctx, span := telemetry.StartSpan(ctx, correlationID, "adbpath.Resolve")
	defer span.End()

	r.mu.Lock()
	if !r.resolvedAt.IsZero() && time.Since(r.resolvedAt) < r.cacheTTL && len(r.resolved) > 0 {
		out := cloneMap(r.resolved)
		r.mu.Unlock()
		return out, nil
	}
	r.mu.Unlock()

	candidates := r.discover(ctx)

	byFamily := make(map[model.EmulatorFamily][]candidate)
	for _, c := range candidates {
		byFamily[c.family] = append(byFamily[c.family], c)
	}

	resolved := make(map[model.EmulatorFamily]string)
	for family, cands := range byFamily {
		best := pickBest(cands)
		if validate(ctx, best.path) {
			resolved[family] = best.path
			continue
		}
		for _, c := range cands {
			if c.path != best.path && validate(ctx, c.path) {
				resolved[family] = c.path
				break
			}
		}
	}

	if len(resolved) == 0 {
		telemetry.RecordSpanError(span, errdefs.NotFound(errors.New("no validated adb path found")))
	}

	r.mu.Lock()
	r.resolved = resolved
	r.resolvedAt = time.Now()
	out := cloneMap(r.resolved)
	r.mu.Unlock()
	return out, nil
}

func cloneMap(m map[model.EmulatorFamily]string) map[model.EmulatorFamily]string {
	out := make(map[model.EmulatorFamily]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// pickBest returns the candidate with the lowest (best) source
// priority; ties keep the first seen.
func pickBest(cands []candidate) candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.priority < best.priority {
			best = c
		}
	}
	return best
}

// discover gathers unvalidated candidates from the system PATH and
// from running processes.
func (r *Resolver) discover(ctx context.Context) []candidate {
	var out []candidate

	if p, err := exec.LookPath("adb"); err == nil {
		out = append(out, candidate{path: p, family: model.FamilyUnknown, priority: prioritySystemPath})
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return out
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		lname := strings.ToLower(name)
		matched := false
		for _, kw := range emulatorKeywords {
			if strings.Contains(lname, kw) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		exe, err := p.ExeWithContext(ctx)
		if err != nil || exe == "" {
			continue
		}
		dir := filepath.Dir(exe)
		parent := filepath.Dir(dir)
		family := familyFromName(lname)

		for _, base := range []string{dir, parent} {
			if cand := filepath.Join(base, adbBinaryName()); fileExists(cand) {
				out = append(out, candidate{path: cand, family: family, priority: prioritySDKLike})
			}
			for _, sub := range bundledSubdirs {
				if cand := filepath.Join(base, sub, adbBinaryName()); fileExists(cand) {
					out = append(out, candidate{path: cand, family: family, priority: priorityBundled})
				}
			}
		}
	}
	return out
}

func familyFromName(lowerProcName string) model.EmulatorFamily {
	switch {
	case strings.Contains(lowerProcName, "mumu") || strings.Contains(lowerProcName, "nemud"):
		return model.FamilyMuMu
	case strings.Contains(lowerProcName, "ld"):
		return model.FamilyLDPlayer
	default:
		return model.FamilyUnknown
	}
}

// validate runs `adb version` against path with a 5s timeout,
// reporting success only on a clean exit.
func validate(ctx context.Context, path string) bool {
	vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(vctx, path, "version")
	hideWindow(cmd)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	return cmd.Run() == nil
}
