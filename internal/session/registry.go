package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openlin/linbridge/internal/lin"
)

// Command is the validated bus command the gateway hands to the registry.
// All defaults have already been applied at the boundary.
type Command struct {
	Device     lin.DeviceID
	HostDevice string
	Name       string
	Mode       lin.HostMode
	RunType    lin.RunType
	Baudrate   uint32
	BaseTick   time.Duration

	// ScheduleTable names the table to drive (master) or resolve slave
	// entries from. Database is the LDF file path backing it.
	ScheduleTable string
	Database      string
}

// Factory builds an unstarted session for a command. Implementations open
// nothing themselves; the session's startup does that.
type Factory interface {
	New(ctx context.Context, cmd Command) (*Session, error)
}

// entry serializes commands for one device identifier. Its mutex is held
// for the whole of a start or stop, while the registry's own lock only ever
// guards map access.
type entry struct {
	mu   sync.Mutex
	sess *Session
}

// Registry is the process-wide table of active sessions, keyed by device
// identifier. It is the only component that creates or tears down sessions;
// at most one live session exists per identifier at any instant.
//
// The table is empty at startup, grows only through Start, and shrinks only
// through Stop or a failed session's self-removal.
type Registry struct {
	factory Factory
	logger  Logger

	// onTerminate, when set, observes sessions that fail at runtime and
	// remove themselves. Clean stops are not reported here; the Stop
	// caller already sees those synchronously.
	onTerminate func(device lin.DeviceID, cause error)

	mu       sync.Mutex
	sessions map[lin.DeviceID]*entry
}

// NewRegistry creates an empty session registry.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:  factory,
		logger:   noopLogger{},
		sessions: make(map[lin.DeviceID]*entry),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetOnTerminate sets a callback invoked when a running session fails and
// removes itself. Must be set before the first Start.
func (r *Registry) SetOnTerminate(callback func(device lin.DeviceID, cause error)) {
	r.onTerminate = callback
}

// Start creates and starts a session for the command's device identifier.
// A live session under the same identifier makes it fail with
// lin.ErrAlreadyRunning without mutating anything. The identifier is
// reserved before the blocking startup work so concurrent starts for the
// same device cannot both proceed.
func (r *Registry) Start(ctx context.Context, cmd Command) (*Session, error) {
	r.mu.Lock()
	if _, ok := r.sessions[cmd.Device]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: device %s", lin.ErrAlreadyRunning, cmd.Device)
	}
	e := &entry{}
	e.mu.Lock()
	r.sessions[cmd.Device] = e
	r.mu.Unlock()
	defer e.mu.Unlock()

	sess, err := r.factory.New(ctx, cmd)
	if err != nil {
		r.remove(cmd.Device, e)
		return nil, err
	}
	sess.onTerminate = func(cause error) {
		r.remove(cmd.Device, e)
		r.logger.Warn("failed session removed",
			"device", cmd.Device.String(), "error", cause)
		if r.onTerminate != nil {
			r.onTerminate(cmd.Device, cause)
		}
	}

	if err := sess.start(ctx); err != nil {
		r.remove(cmd.Device, e)
		return nil, err
	}

	e.sess = sess
	r.logger.Info("session registered", "device", cmd.Device.String())
	return sess, nil
}

// Stop tears down the session under the identifier, blocking until teardown
// completes or ctx expires. An absent identifier fails with lin.ErrNotFound.
// The registry lock is never held while waiting on teardown, so stopping one
// session cannot stall commands for other devices.
func (r *Registry) Stop(ctx context.Context, device lin.DeviceID) error {
	r.mu.Lock()
	e, ok := r.sessions[device]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: device %s", lin.ErrNotFound, device)
	}

	// Serializes behind an in-flight start or stop for the same device.
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess == nil {
		// The concurrent start failed and removed the reservation.
		return fmt.Errorf("%w: device %s", lin.ErrNotFound, device)
	}

	err := sess.Stop(ctx)
	r.remove(device, e)
	r.logger.Info("session deregistered", "device", device.String())
	return err
}

// StopAll tears down every active session, used at shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	devices := make([]lin.DeviceID, 0, len(r.sessions))
	for device := range r.sessions {
		devices = append(devices, device)
	}
	r.mu.Unlock()

	for _, device := range devices {
		if err := r.Stop(ctx, device); err != nil {
			r.logger.Warn("shutdown stop failed",
				"device", device.String(), "error", err)
		}
	}
}

// Stats snapshots every active session for telemetry.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	stats := make([]Stats, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		sess := e.sess
		e.mu.Unlock()
		if sess != nil {
			stats = append(stats, sess.Stats())
		}
	}
	return stats
}

// remove deletes the entry only if it is still the one registered, so a
// stale removal never evicts a successor session.
func (r *Registry) remove(device lin.DeviceID, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[device] == e {
		delete(r.sessions, device)
	}
}
