package kvaser

import (
	"sync"

	"github.com/openlin/linbridge/internal/lin"
)

// Driver is the boundary to the native Kvaser LIN library. Implementations
// wrap the vendor's channel enumeration and open calls; everything above this
// interface is plain Go.
type Driver interface {
	// ChannelCount reports how many LIN-capable channels the library sees.
	ChannelCount() (int, error)

	// ChannelSerial returns the controller serial number of the channel at
	// the given library index. Channels of the same controller report the
	// same serial and enumerate consecutively.
	ChannelSerial(index int) (string, error)

	// OpenChannel opens the channel at the given library index in the
	// requested role, takes the bus off and on again, and applies the
	// bitrate and LIN setup (variable DLC, enhanced checksum).
	OpenChannel(index int, mode lin.HostMode, baudrate uint32) (Handle, error)
}

// Handle is one open native channel.
type Handle interface {
	// Write transmits a complete frame, header and payload, as master.
	Write(id uint32, data []byte) error

	// RequestMessage transmits a header only, soliciting the slave that
	// owns the identifier.
	RequestMessage(id uint32) error

	// UpdateMessage installs the payload this node publishes when polled.
	UpdateMessage(id uint32, data []byte) error

	// ReadMessage polls for the next received frame without blocking.
	// ok is false when no frame is pending.
	ReadMessage() (id uint32, data []byte, ok bool, err error)

	// Close takes the bus off and releases the native handle.
	Close() error
}

var (
	driverMu sync.RWMutex
	driver   Driver
)

// Register installs the native driver. Called once from the binary that
// links the vendor library; later calls replace the previous driver.
func Register(d Driver) {
	driverMu.Lock()
	defer driverMu.Unlock()
	driver = d
}

func registeredDriver() Driver {
	driverMu.RLock()
	defer driverMu.RUnlock()
	return driver
}
