package lin

import (
	"fmt"
	"time"
)

// MaxDataLen is the maximum payload size of a classical LIN frame.
const MaxDataLen = 8

// MaxFrameID is the highest valid protected identifier base. LIN identifiers
// are six bits wide.
const MaxFrameID = 0x3F

// Direction indicates which way a frame is travelling through the bridge.
type Direction int

const (
	// Inbound frames arrive from the hardware channel (bus side).
	Inbound Direction = iota
	// Outbound frames arrive from the host virtual interface.
	Outbound
)

// String returns a human-readable direction name for logging.
func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Frame is a single LIN frame moving through the bridge.
//
// Frames are transient values: they are produced and consumed by the frame
// bridge and the schedule engine and never persisted. An empty Data slice on
// an outbound frame is meaningful — it is a header-only request asking the
// owning slave to publish its payload.
type Frame struct {
	ID        uint32
	Data      []byte
	Direction Direction
	Timestamp time.Time
}

// Validate returns an error if the frame cannot be represented on a LIN bus.
func (f Frame) Validate() error {
	if f.ID > MaxFrameID {
		return fmt.Errorf("%w: identifier %#x exceeds %#x", ErrInvalidFrame, f.ID, MaxFrameID)
	}
	if len(f.Data) > MaxDataLen {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrInvalidFrame, len(f.Data), MaxDataLen)
	}
	return nil
}

// IsHeaderRequest reports whether the frame carries no payload, which on the
// host wire format means "poll this identifier" rather than "write this data".
func (f Frame) IsHeaderRequest() bool {
	return len(f.Data) == 0
}

// String formats the frame for debug logging.
func (f Frame) String() string {
	return fmt.Sprintf("{id=%#x data=%v}", f.ID, f.Data)
}
