package lin

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceID uniquely names one physical or simulated bus attachment as a
// controller serial plus a 1-based channel number, e.g. "011121:1".
//
// It is the session registry's map key and is immutable once parsed.
type DeviceID struct {
	Controller string
	Channel    int
}

// ParseDeviceID parses the "controller:channel" form used by the command
// surface and by the adapter's device discovery.
func ParseDeviceID(s string) (DeviceID, error) {
	controller, channelStr, ok := strings.Cut(s, ":")
	if !ok || controller == "" {
		return DeviceID{}, fmt.Errorf("%w: device id %q must be controller:channel", ErrInvalidConfig, s)
	}

	channel, err := strconv.Atoi(channelStr)
	if err != nil || channel < 1 {
		return DeviceID{}, fmt.Errorf("%w: device id %q has invalid channel number", ErrInvalidConfig, s)
	}

	return DeviceID{Controller: controller, Channel: channel}, nil
}

// String returns the canonical "controller:channel" form.
func (d DeviceID) String() string {
	return d.Controller + ":" + strconv.Itoa(d.Channel)
}

// IsZero reports whether the identifier is unset.
func (d DeviceID) IsZero() bool {
	return d.Controller == "" && d.Channel == 0
}
