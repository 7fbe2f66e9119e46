package lin

import "errors"

// Error taxonomy for the bridge core. Configuration and lookup errors are
// resolved synchronously and returned to the command caller; runtime bus
// faults are recovered locally when soft and escalate to a session state
// transition when hard. Use errors.Is to classify.
var (
	// ErrInvalidConfig marks a malformed command or configuration value,
	// rejected before any state mutation.
	ErrInvalidConfig = errors.New("lin: invalid configuration")

	// ErrAlreadyRunning is returned by a start on an identifier that already
	// has a live session. No state is mutated.
	ErrAlreadyRunning = errors.New("lin: session already running")

	// ErrNotFound is returned by a stop on an identifier with no active
	// session. No state is mutated.
	ErrNotFound = errors.New("lin: session not found")

	// ErrScheduleLoad marks an unknown or malformed schedule table. The
	// session is aborted during startup and never reaches Running.
	ErrScheduleLoad = errors.New("lin: schedule table load failed")

	// ErrHardwareOpen marks an adapter or simulator that failed to
	// initialise. The session is aborted during startup.
	ErrHardwareOpen = errors.New("lin: hardware open failed")

	// ErrBusFault marks an unrecoverable hardware error reported while
	// Running. It forces the owning session into Failed and teardown.
	ErrBusFault = errors.New("lin: bus fault")

	// ErrResponseTimeout is the per-entry soft fault raised when an expected
	// slave response does not arrive within one tick. It is recovered inside
	// the schedule engine and never surfaces as a command failure.
	ErrResponseTimeout = errors.New("lin: response timeout")

	// ErrChannelClosed is returned by channel operations after Close.
	ErrChannelClosed = errors.New("lin: channel closed")

	// ErrInvalidFrame marks a frame that cannot be represented on the bus.
	ErrInvalidFrame = errors.New("lin: invalid frame")
)
