// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package dockerscan supplies container-hosted emulator ports (redroid
// and similar containerized Android images) as an auxiliary source for
// the Port Discoverer (spec §4.3's "generic" emulator family); this
// enriches the teacher's AVD-desktop-only discovery with the
// container-native deployment the wider example pack carries tooling
// for.
package dockerscan

import (
	"context"
	"strings"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

// ImageKeywords selects which running containers are treated as
// emulator hosts, matched case-insensitively against the image name.
var ImageKeywords = []string{"redroid"}

// APIClient is the subset of the moby client this source needs, so
// tests can supply a fake.
type APIClient interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
}

// Source discovers ADB ports published by containerized emulators.
type Source struct {
	Client APIClient
}

// New connects to the Docker daemon using the standard environment
// variables (DOCKER_HOST, DOCKER_CERT_PATH, ...). It returns an error
// only when the client cannot be constructed; the daemon is not
// contacted here, so an unreachable daemon surfaces as an error from
// DiscoverPorts. A nil *Source reports no ports.
func New() (*Source, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Source{Client: cli}, nil
}

// DiscoverPorts implements portscan.AuxiliarySource.
func (s *Source) DiscoverPorts(ctx context.Context) ([]int, error) {
	if s == nil || s.Client == nil {
		return nil, nil
	}
	containers, err := s.Client.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, err
	}

	var ports []int
	for _, c := range containers {
		if !isEmulatorImage(c.Image) {
			continue
		}
		for _, p := range c.Ports {
			if p.PublicPort == 0 {
				continue
			}
			if p.IP != "" && p.IP != "0.0.0.0" && p.IP != "127.0.0.1" {
				continue
			}
			ports = append(ports, int(p.PublicPort))
		}
	}
	return ports, nil
}

func isEmulatorImage(image string) bool {
	lower := strings.ToLower(image)
	for _, kw := range ImageKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
