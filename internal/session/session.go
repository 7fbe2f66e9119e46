package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openlin/linbridge/internal/lin"
	"github.com/openlin/linbridge/internal/vbus"
)

// State is the session lifecycle state. Sessions are only constructed
// already transitioning, so Idle is never observable.
type State int32

const (
	StateStarting State = iota + 1
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

// String returns a human-readable state name for logging.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config wires one session.
type Config struct {
	Device   lin.DeviceID
	Name     string
	Mode     lin.HostMode
	RunType  lin.RunType
	BaseTick time.Duration

	// Channel is the hardware channel, owned exclusively by this session.
	Channel lin.Channel

	// Host is the host-side virtual interface, owned by this session.
	Host vbus.Bus

	// LoadTable resolves the schedule table. Required for master sessions;
	// invoked during startup after the channel is open so a load failure
	// can close the channel before propagating.
	LoadTable func() (*lin.ScheduleTable, error)

	// Clock drives the schedule engine. Defaults to the wall clock.
	Clock Clock

	// QueueSize and Policy configure the frame bridge.
	QueueSize int
	Policy    DropPolicy

	// OnHealthWarning is invoked when the engine reports a degraded slot.
	// May be nil.
	OnHealthWarning func(device lin.DeviceID, entry string, faults int)

	Logger Logger
}

// Stats is a point-in-time snapshot of one session.
type Stats struct {
	Device     lin.DeviceID
	Name       string
	Mode       lin.HostMode
	RunType    lin.RunType
	State      State
	SoftFaults uint64
	Drops      uint64
}

// Session owns one hardware channel, one host interface, and, in master
// role, one schedule engine. It runs its own goroutine group so one
// session's timing never affects another's.
type Session struct {
	cfg    Config
	logger Logger

	state  atomic.Int32
	bridge *Bridge
	engine *Engine

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	failure error

	// onTerminate is set by the registry so failed sessions remove their
	// own entry.
	onTerminate func(cause error)
}

func newSession(cfg Config) (*Session, error) {
	if cfg.Channel == nil || cfg.Host == nil {
		return nil, fmt.Errorf("%w: session requires a channel and a host bus", lin.ErrInvalidConfig)
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("%w: host mode %q", lin.ErrInvalidConfig, cfg.Mode)
	}
	if cfg.Mode == lin.Master && cfg.LoadTable == nil {
		return nil, fmt.Errorf("%w: master session requires a schedule table", lin.ErrInvalidConfig)
	}
	if cfg.BaseTick <= 0 {
		return nil, fmt.Errorf("%w: base tick must be positive", lin.ErrInvalidConfig)
	}

	s := &Session{
		cfg:    cfg,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	s.state.Store(int32(StateStarting))
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Device returns the identifier this session is registered under.
func (s *Session) Device() lin.DeviceID {
	return s.cfg.Device
}

// Stats returns a snapshot for telemetry.
func (s *Session) Stats() Stats {
	st := Stats{
		Device:  s.cfg.Device,
		Name:    s.cfg.Name,
		Mode:    s.cfg.Mode,
		RunType: s.cfg.RunType,
		State:   s.State(),
	}
	if s.engine != nil {
		st.SoftFaults = s.engine.SoftFaults()
	}
	if s.bridge != nil {
		st.Drops = s.bridge.Drops()
	}
	return st
}

// Err returns the recorded failure cause, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// start brings the session to Running: opens the channel, loads the
// schedule table for masters, and launches the goroutine group. On any
// failure the channel is closed and the session ends Failed.
func (s *Session) start(ctx context.Context) error {
	s.logger.Info("session starting",
		"device", s.cfg.Device.String(), "mode", s.cfg.Mode, "run_type", s.cfg.RunType)

	if err := s.cfg.Channel.Open(ctx); err != nil {
		s.abortStart(err)
		return err
	}

	payloads := newPayloadStore()

	var table *lin.ScheduleTable
	if s.cfg.Mode == lin.Master {
		var err error
		table, err = s.cfg.LoadTable()
		if err != nil {
			s.cfg.Channel.Close()
			s.abortStart(err)
			return err
		}
	}

	bridge, err := NewBridge(BridgeConfig{
		Host:      s.cfg.Host,
		Channel:   s.cfg.Channel,
		Mode:      s.cfg.Mode,
		Payloads:  payloads,
		QueueSize: s.cfg.QueueSize,
		Policy:    s.cfg.Policy,
		Logger:    s.logger,
	})
	if err != nil {
		s.cfg.Channel.Close()
		s.abortStart(err)
		return err
	}
	s.bridge = bridge

	if s.cfg.Mode == lin.Master {
		engine, err := NewEngine(EngineConfig{
			Channel:  s.cfg.Channel,
			Table:    table,
			BaseTick: s.cfg.BaseTick,
			Payloads: payloads,
			Clock:    s.cfg.Clock,
			Forward:  bridge.ForwardToHost,
			OnHealthWarning: func(entry string, faults int) {
				if s.cfg.OnHealthWarning != nil {
					s.cfg.OnHealthWarning(s.cfg.Device, entry, faults)
				}
			},
			Logger: s.logger,
		})
		if err != nil {
			s.cfg.Channel.Close()
			s.abortStart(err)
			return err
		}
		s.engine = engine
	}

	// The run context is detached from the start command: the session
	// outlives the command that created it.
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.spawn(func() error { return s.bridge.RunHostToChannel(runCtx) })
	s.spawn(func() error { return s.bridge.RunHostWriter(runCtx) })
	if s.engine != nil {
		s.spawn(func() error { return s.engine.Run(runCtx) })
	} else {
		s.spawn(func() error { return s.bridge.RunChannelToHost(runCtx) })
	}
	s.wg.Add(1)
	go s.monitorBusErrors(runCtx)

	s.state.Store(int32(StateRunning))
	s.logger.Info("session running", "device", s.cfg.Device.String())
	return nil
}

// spawn runs one pump in the session's goroutine group; a pump error forces
// the session to Failed.
func (s *Session) spawn(run func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := run(); err != nil {
			s.fail(err)
		}
	}()
}

// monitorBusErrors watches the channel's out-of-band error stream until the
// session winds down.
func (s *Session) monitorBusErrors(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case err, ok := <-s.cfg.Channel.Errors():
			if !ok {
				return
			}
			s.fail(fmt.Errorf("%w: %v", lin.ErrBusFault, err))
			return
		case <-ctx.Done():
			return
		}
	}
}

// abortStart records a startup failure. No goroutines are running yet.
func (s *Session) abortStart(cause error) {
	s.mu.Lock()
	s.failure = cause
	s.mu.Unlock()
	s.state.Store(int32(StateFailed))
	close(s.done)
	s.logger.Error("session start failed",
		"device", s.cfg.Device.String(), "error", cause)
}

// fail records the first runtime failure and tears the session down. Runs
// teardown in its own goroutine because the caller may be a member of the
// group teardown waits on.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	if s.failure == nil {
		s.failure = cause
	}
	s.mu.Unlock()

	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateFailed)) {
		return
	}
	s.logger.Error("session failed",
		"device", s.cfg.Device.String(), "error", cause)

	go func() {
		s.teardown()
		if s.onTerminate != nil {
			s.onTerminate(cause)
		}
	}()
}

// Stop requests cooperative teardown and waits for it to complete or for
// ctx to expire, in which case teardown continues in the background and the
// wait is abandoned. Returns the recorded failure cause for sessions that
// ended Failed.
func (s *Session) Stop(ctx context.Context) error {
	if s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		s.logger.Info("session stopping", "device", s.cfg.Device.String())
		go s.teardown()
	}

	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		s.logger.Warn("session teardown abandoned",
			"device", s.cfg.Device.String(), "error", ctx.Err())
		return ctx.Err()
	}
}

// teardown cancels the goroutine group, lets the engine finish its in-flight
// slot, drains the bridge, and closes channel and host bus. Runs once.
func (s *Session) teardown() {
	s.stopOnce.Do(func() {
		s.cancel()
		// Every pump observes cancellation at its next receive or slot
		// boundary; the engine's in-flight slot completes before its
		// goroutine exits. Only then is the channel closed.
		s.wg.Wait()
		s.cfg.Channel.Close()
		s.cfg.Host.Close()

		s.state.CompareAndSwap(int32(StateStopping), int32(StateStopped))
		close(s.done)
		s.logger.Info("session torn down",
			"device", s.cfg.Device.String(), "state", s.State().String())
	})
}
