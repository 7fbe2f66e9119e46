//go:build !linux

package main

import (
	"fmt"

	"github.com/openlin/linbridge/internal/vbus"
)

// openHostBus fails on platforms without SocketCAN. The bridge still
// starts so simulator-only workflows can be exercised elsewhere, but
// any session start will report a hardware open error.
func openHostBus(name string) (vbus.Bus, error) {
	return nil, fmt.Errorf("host interface %q: SocketCAN is only available on linux", name)
}
