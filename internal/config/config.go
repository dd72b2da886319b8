// Package config resolves the runtime's compile-time defaults, allowing
// overrides via environment variables for the handful of values spec.md §6
// calls out as "implementers may expose as flags."
package config

import (
	"os"
	"strconv"
)

// Defaults holds every configurable constant the container lifecycle engine
// needs. Zero-value Defaults is not usable; always start from New().
type Defaults struct {
	ContainersPath  string
	ImagesPath      string
	IDLength        int
	StackSizeHint   int // documented only, see SPEC_FULL.md §9 new Open Question
	BridgeName      string
	BridgeGateway   string
	ContainerCIDR   string // e.g. "172.17.0.8/16"
}

const (
	defaultContainersPath = "containers"
	defaultImagesPath     = "images"
	defaultIDLength       = 10
	defaultStackSizeHint  = 8 << 20 // 8 MiB
	defaultBridgeName     = "docker0"
	defaultBridgeGateway  = "172.17.0.1"
	defaultContainerCIDR  = "172.17.0.8/16"
)

// New returns Defaults seeded from compile-time constants, then overridden by
// any of the CONTAINER_* environment variables that are set.
func New() Defaults {
	d := Defaults{
		ContainersPath: defaultContainersPath,
		ImagesPath:     defaultImagesPath,
		IDLength:       defaultIDLength,
		StackSizeHint:  defaultStackSizeHint,
		BridgeName:     defaultBridgeName,
		BridgeGateway:  defaultBridgeGateway,
		ContainerCIDR:  defaultContainerCIDR,
	}

	if v := os.Getenv("CONTAINER_CONTAINERS_PATH"); v != "" {
		d.ContainersPath = v
	}
	if v := os.Getenv("CONTAINER_IMAGES_PATH"); v != "" {
		d.ImagesPath = v
	}
	if v := os.Getenv("CONTAINER_ID_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			d.IDLength = n
		}
	}
	if v := os.Getenv("CONTAINER_BRIDGE_NAME"); v != "" {
		d.BridgeName = v
	}
	if v := os.Getenv("CONTAINER_BRIDGE_GATEWAY"); v != "" {
		d.BridgeGateway = v
	}
	if v := os.Getenv("CONTAINER_CIDR"); v != "" {
		d.ContainerCIDR = v
	}
	return d
}
