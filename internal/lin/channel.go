package lin

import (
	"context"
	"time"
)

// HostMode states whether a session drives the schedule (master) or responds
// to it (slave).
type HostMode string

const (
	Master HostMode = "master"
	Slave  HostMode = "slave"
)

// Valid reports whether the mode is one of the two defined roles.
func (m HostMode) Valid() bool {
	return m == Master || m == Slave
}

// RunType selects the hardware channel variant backing a session.
type RunType string

const (
	// RunLin attaches to a physical LIN bus through the Kvaser adapter.
	RunLin RunType = "lin"
	// RunSimulator attaches to the in-process software simulator.
	RunSimulator RunType = "simulator"
)

// Channel is the hardware channel capability interface. Both variants —
// the physical adapter channel and the software simulator — implement the
// same contract with role-specific internal behaviour.
//
// Latency contract: Send and SendHeader return once the frame has been
// accepted by the lower layer, not necessarily transmitted on the wire.
// Receive never returns data queued before the most recent Open.
//
// A channel instance is owned exclusively by one session; no frame may be
// sent after the owning session leaves Running.
type Channel interface {
	// Open attaches to the bus and applies bitrate configuration.
	// Failures are reported as ErrHardwareOpen.
	Open(ctx context.Context) error

	// Close detaches from the bus and releases the channel. Close is
	// idempotent; operations after Close return ErrChannelClosed.
	Close() error

	// Send transmits a complete frame (header and payload) as master.
	Send(ctx context.Context, f Frame) error

	// SendHeader transmits a frame header only, soliciting the payload from
	// the slave that owns the identifier.
	SendHeader(ctx context.Context, id uint32) error

	// UpdateResponse installs the payload this channel publishes when a
	// master polls the frame's identifier (slave role).
	UpdateResponse(f Frame) error

	// Receive blocks for up to timeout waiting for the next bus frame.
	// A quiet bus is reported as ErrResponseTimeout.
	Receive(ctx context.Context, timeout time.Duration) (Frame, error)

	// Errors delivers fatal bus errors observed outside of a Send or
	// Receive call. The channel closes this stream on Close.
	Errors() <-chan error
}
