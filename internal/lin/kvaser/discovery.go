package kvaser

import (
	"fmt"
	"os"
	"strings"

	"github.com/openlin/linbridge/internal/lin"
)

// devDir is where the mhydra driver surfaces its device nodes. Overridden in
// tests.
var devDir = "/dev"

// hasMhydraDevice reports whether at least one mhydra device node exists.
// The native library opens channels through these nodes; probing first gives
// a much clearer error than the library's generic open failure.
func hasMhydraDevice() (bool, error) {
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "mhydra") {
			return true, nil
		}
	}
	return false, nil
}

// DeviceMap enumerates the driver's channels and maps each device identifier
// to its library channel index. Channel numbers are 1-based and restart
// whenever the controller serial changes, so a two-channel controller with
// serial 10034 yields "10034:1" and "10034:2".
func DeviceMap(d Driver) (map[lin.DeviceID]int, error) {
	count, err := d.ChannelCount()
	if err != nil {
		return nil, fmt.Errorf("channel enumeration: %w", err)
	}

	devices := make(map[lin.DeviceID]int, count)
	var prevSerial string
	var localChannel int
	for i := 0; i < count; i++ {
		serial, err := d.ChannelSerial(i)
		if err != nil {
			return nil, fmt.Errorf("channel %d serial: %w", i, err)
		}
		if serial == prevSerial {
			localChannel++
		} else {
			prevSerial = serial
			localChannel = 1
		}
		devices[lin.DeviceID{Controller: serial, Channel: localChannel}] = i
	}
	return devices, nil
}
