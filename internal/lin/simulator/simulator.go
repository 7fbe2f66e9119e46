package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openlin/linbridge/internal/lin"
)

// Logger defines the logging interface for the simulator channel.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// queueDepth bounds the inbound and tap queues. The tap is best-effort:
// a slow observer loses frames rather than stalling the bus.
const queueDepth = 64

// Config describes one simulator channel.
type Config struct {
	// Name identifies the channel in logs, typically the host device name.
	Name string

	// Mode is the host's role. In slave mode the simulator plays the bus
	// master and Table drives its traffic; in master mode it plays the
	// slave nodes and answers headers from the response table.
	Mode lin.HostMode

	// Table is the schedule the simulated master replays. Required in
	// slave mode, ignored in master mode.
	Table *lin.ScheduleTable

	// BaseTick is the replay tick period. Required in slave mode.
	BaseTick time.Duration
}

// Channel is the in-process simulator implementation of lin.Channel.
//
// All methods are safe for concurrent use. The zero value is not usable;
// construct with New.
type Channel struct {
	cfg    Config
	logger Logger

	mu        sync.Mutex
	opened    bool
	closed    bool
	responses map[uint32][]byte

	// replay cursor, slave mode only
	entryIndex   int
	elapsedTicks int

	inbound chan lin.Frame
	tap     chan lin.Frame
	errs    chan error
	done    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates the configuration and returns an unopened channel.
func New(cfg Config) (*Channel, error) {
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("%w: host mode %q", lin.ErrInvalidConfig, cfg.Mode)
	}
	if cfg.Mode == lin.Slave {
		if cfg.Table == nil {
			return nil, fmt.Errorf("%w: slave mode requires a schedule table", lin.ErrInvalidConfig)
		}
		if err := cfg.Table.Validate(); err != nil {
			return nil, err
		}
		if cfg.BaseTick <= 0 {
			return nil, fmt.Errorf("%w: slave mode requires a positive base tick", lin.ErrInvalidConfig)
		}
	}

	return &Channel{
		cfg:       cfg,
		logger:    noopLogger{},
		responses: make(map[uint32][]byte),
		inbound:   make(chan lin.Frame, queueDepth),
		tap:       make(chan lin.Frame, queueDepth),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
	}, nil
}

// SetLogger configures logging output. Must be called before Open.
func (c *Channel) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Open starts the channel. In slave mode it begins replaying the schedule
// table in the background; in master mode there is no spontaneous traffic.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return lin.ErrChannelClosed
	}
	if c.opened {
		return fmt.Errorf("%w: channel %q already open", lin.ErrHardwareOpen, c.cfg.Name)
	}
	c.opened = true

	c.logger.Info("simulator channel open", "name", c.cfg.Name, "mode", c.cfg.Mode)

	if c.cfg.Mode == lin.Slave {
		replayCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go c.replay(replayCtx)
	}
	return nil
}

// Close stops replay and releases the channel. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	close(c.done)
	close(c.errs)

	c.logger.Info("simulator channel closed", "name", c.cfg.Name)
	return nil
}

// Send writes a complete frame to the simulated wire. Simulated slave nodes
// consume it silently, so the only observable effect is on the tap.
func (c *Channel) Send(ctx context.Context, f lin.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if err := c.checkOpen(); err != nil {
		return err
	}

	f.Direction = lin.Outbound
	f.Timestamp = time.Now()
	c.offerTap(f)
	return nil
}

// SendHeader transmits a header. If a response has been installed for the
// identifier, the simulated slave completes the frame: it appears on the tap
// and is delivered inbound. With no response installed the header goes
// unanswered, which the caller observes as a response timeout.
func (c *Channel) SendHeader(ctx context.Context, id uint32) error {
	if id > lin.MaxFrameID {
		return fmt.Errorf("%w: identifier %#x", lin.ErrInvalidFrame, id)
	}
	if err := c.checkOpen(); err != nil {
		return err
	}

	c.offerTap(lin.Frame{ID: id, Direction: lin.Outbound, Timestamp: time.Now()})

	c.mu.Lock()
	data, ok := c.responses[id]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	answer := lin.Frame{
		ID:        id,
		Data:      append([]byte(nil), data...),
		Direction: lin.Inbound,
		Timestamp: time.Now(),
	}
	c.offerTap(answer)
	c.deliver(answer)
	return nil
}

// UpdateResponse installs the payload the simulated node publishes when the
// identifier is polled. In master host mode this is the data the simulated
// slave answers with; in slave host mode it is the host's own published
// response, which the replaying master picks up on its next poll.
func (c *Channel) UpdateResponse(f lin.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.IsHeaderRequest() {
		return fmt.Errorf("%w: response for %#x has no payload", lin.ErrInvalidFrame, f.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return lin.ErrChannelClosed
	}
	c.responses[f.ID] = append([]byte(nil), f.Data...)
	return nil
}

// Receive blocks for up to timeout waiting for the next inbound frame.
func (c *Channel) Receive(ctx context.Context, timeout time.Duration) (lin.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-c.inbound:
		return f, nil
	case <-timer.C:
		return lin.Frame{}, lin.ErrResponseTimeout
	case <-ctx.Done():
		return lin.Frame{}, ctx.Err()
	case <-c.done:
		return lin.Frame{}, lin.ErrChannelClosed
	}
}

// Errors delivers fatal bus errors. The simulator never produces any; the
// stream exists to satisfy the channel contract and closes on Close.
func (c *Channel) Errors() <-chan error {
	return c.errs
}

// Tap exposes the simulated wire. Every frame that would be visible to an
// observer on the bus — headers, master payloads, slave answers — is offered
// here. Delivery is best-effort.
func (c *Channel) Tap() <-chan lin.Frame {
	return c.tap
}

func (c *Channel) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return lin.ErrChannelClosed
	}
	if !c.opened {
		return fmt.Errorf("%w: channel %q not open", lin.ErrHardwareOpen, c.cfg.Name)
	}
	return nil
}

// replay drives the simulated master: one step per base tick.
func (c *Channel) replay(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.BaseTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.stepReplay()
		}
	}
}

// stepReplay advances the schedule cursor by one base tick. A slot emits its
// frame on the tick it becomes current and then idles until its delay has
// elapsed.
func (c *Channel) stepReplay() {
	c.mu.Lock()
	entry := c.cfg.Table.Entries[c.entryIndex]
	starting := c.elapsedTicks == 0
	c.elapsedTicks++
	if c.elapsedTicks >= entry.DelayTick {
		c.entryIndex = (c.entryIndex + 1) % len(c.cfg.Table.Entries)
		c.elapsedTicks = 0
	}
	var response []byte
	if starting && entry.Responder == lin.RespondsSlave {
		if data, ok := c.responses[entry.FrameID]; ok {
			response = append([]byte(nil), data...)
		}
	}
	c.mu.Unlock()

	if !starting {
		return
	}

	now := time.Now()
	if entry.Responder == lin.RespondsMaster {
		// The simulated master carries the payload itself.
		data := make([]byte, entry.Length)
		for i := range data {
			data[i] = byte(i)
		}
		f := lin.Frame{ID: entry.FrameID, Data: data, Direction: lin.Inbound, Timestamp: now}
		c.offerTap(f)
		c.deliver(f)
		return
	}

	// Slave-owned slot: the master sends a bare header. The host sees the
	// poll; if the host has published a response it completes on the wire.
	poll := lin.Frame{ID: entry.FrameID, Direction: lin.Inbound, Timestamp: now}
	c.offerTap(poll)
	c.deliver(poll)
	if response != nil {
		c.offerTap(lin.Frame{ID: entry.FrameID, Data: response, Direction: lin.Outbound, Timestamp: now})
	}
}

// deliver queues an inbound frame for Receive, dropping the oldest queued
// frame when full so the replay never stalls.
func (c *Channel) deliver(f lin.Frame) {
	for {
		select {
		case c.inbound <- f:
			return
		default:
		}
		select {
		case old := <-c.inbound:
			c.logger.Warn("simulator inbound queue full, dropping frame",
				"name", c.cfg.Name, "dropped", old.ID)
		default:
		}
	}
}

func (c *Channel) offerTap(f lin.Frame) {
	select {
	case c.tap <- f:
	default:
	}
}
