//go:build linux

package main

import (
	"github.com/openlin/linbridge/internal/vbus"
)

// openHostBus attaches sessions to host interfaces via SocketCAN.
func openHostBus(name string) (vbus.Bus, error) {
	return vbus.OpenSocketCAN(name)
}
