// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package winreg implements the Emulator Registry (spec §4.1): it
// enumerates top-level OS windows through a small WindowEnumerator
// interface (spec §6) and classifies each one into mumu / ldplayer /
// unknown by title regex.
package winreg

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/forkbombeu/fleetctl/internal/model"
)

// RawWindow is what a WindowEnumerator implementation reports for one
// top-level window, before classification.
type RawWindow struct {
	Handle      uintptr
	Title       string
	ProcessPath string
}

// WindowEnumerator abstracts the host window system (spec §6): the
// executor core never calls it directly, only the Registry does.
type WindowEnumerator interface {
	EnumerateWindows() ([]RawWindow, error)
}

var browserKeywords = []string{"edge", "chrome", "firefox", "browser", "opera", "safari"}

var mumuPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^mumu.*模拟器$`),
	regexp.MustCompile(`(?i)^mumu.*player$`),
	regexp.MustCompile(`^网易mumu`),
	regexp.MustCompile(`(?i)^mumu\d+$`),
	regexp.MustCompile(`(?i)^mumu.*\d+-\d+$`),
	regexp.MustCompile(`^mumu安卓设备`),
}

var ldplayerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^雷电.*模拟器`),
	regexp.MustCompile(`(?i)^ldplayer`),
	regexp.MustCompile(`(?i)^ld.*player`),
	regexp.MustCompile(`^雷电.*\d+`),
}

// tailPairRe matches a trailing "N-M" pair, e.g. "mumu模拟器12-0".
var tailPairRe = regexp.MustCompile(`(\d+)-(\d+)$`)

// tailIntRe matches a single trailing integer as a fallback VM index.
var tailIntRe = regexp.MustCompile(`(\d+)$`)

// Classify maps a window title to an emulator family, rejecting
// browser windows before pattern matching.
func Classify(title string) model.EmulatorFamily {
	lower := strings.ToLower(strings.TrimSpace(title))
	for _, kw := range browserKeywords {
		if strings.Contains(lower, kw) {
			return model.FamilyUnknown
		}
	}
	for _, re := range mumuPatterns {
		if re.MatchString(lower) {
			return model.FamilyMuMu
		}
	}
	for _, re := range ldplayerPatterns {
		if re.MatchString(lower) {
			return model.FamilyLDPlayer
		}
	}
	return model.FamilyUnknown
}

// VMIndex extracts MuMu's VM index from the title's tail integer pair
// (e.g. "mumu模拟器12-0" -> 0), falling back to a single trailing
// integer.
func VMIndex(title string) *int {
	title = strings.TrimSpace(title)
	if m := tailPairRe.FindStringSubmatch(title); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil {
			return &n
		}
	}
	if m := tailIntRe.FindStringSubmatch(title); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return &n
		}
	}
	return nil
}

// Registry discovers and classifies emulator windows.
type Registry struct {
	enumerator WindowEnumerator
}

// New returns a Registry backed by the given WindowEnumerator.
func New(enumerator WindowEnumerator) *Registry {
	return &Registry{enumerator: enumerator}
}

// DiscoverWindows enumerates and classifies every top-level window.
func (r *Registry) DiscoverWindows() ([]model.EmulatorWindow, error) {
	raws, err := r.enumerator.EnumerateWindows()
	if err != nil {
		return nil, err
	}

	out := make([]model.EmulatorWindow, 0, len(raws))
	for _, w := range raws {
		family := Classify(w.Title)
		ew := model.EmulatorWindow{
			Handle:      w.Handle,
			Title:       w.Title,
			Family:      family,
			ProcessPath: w.ProcessPath,
		}
		if family == model.FamilyMuMu {
			ew.VMIndex = VMIndex(w.Title)
		}
		out = append(out, ew)
	}
	return out, nil
}
