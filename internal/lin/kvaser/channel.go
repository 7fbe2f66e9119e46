package kvaser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openlin/linbridge/internal/lin"
)

// Logger defines the logging interface for the adapter channel.
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

// readPoll is how often Receive re-polls the native handle while waiting.
const readPoll = time.Millisecond

// Config describes one adapter channel.
type Config struct {
	// Name identifies the channel in logs, typically the host device name.
	Name string

	// Device selects the controller and channel to attach to.
	Device lin.DeviceID

	// Mode is the host's role on the bus.
	Mode lin.HostMode

	// Baudrate is the LIN bitrate in bit/s.
	Baudrate uint32
}

// Channel drives one Kvaser adapter channel through the registered Driver.
// It implements lin.Channel; slave-role users should wrap it in
// lin.NewNoEcho so host-published responses are not echoed back.
type Channel struct {
	cfg    Config
	logger Logger

	mu     sync.Mutex
	handle Handle
	closed bool

	errs chan error
	done chan struct{}
}

// New returns an unopened adapter channel.
func New(cfg Config) (*Channel, error) {
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("%w: host mode %q", lin.ErrInvalidConfig, cfg.Mode)
	}
	if cfg.Device.IsZero() {
		return nil, fmt.Errorf("%w: missing device id", lin.ErrInvalidConfig)
	}
	if cfg.Baudrate == 0 {
		return nil, fmt.Errorf("%w: missing baudrate", lin.ErrInvalidConfig)
	}

	return &Channel{
		cfg:    cfg,
		logger: noopLogger{},
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}, nil
}

// SetLogger configures logging output. Must be called before Open.
func (c *Channel) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Open attaches to the adapter: checks the mhydra driver is present, maps
// the device id to a library channel, and opens it in the configured role.
// All failures are reported as lin.ErrHardwareOpen.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return lin.ErrChannelClosed
	}
	if c.handle != nil {
		return fmt.Errorf("%w: channel %q already open", lin.ErrHardwareOpen, c.cfg.Name)
	}

	present, err := hasMhydraDevice()
	if err != nil {
		return fmt.Errorf("%w: probing %s: %v", lin.ErrHardwareOpen, devDir, err)
	}
	if !present {
		return fmt.Errorf("%w: no mhydra devices in %s, is the driver installed and hardware connected", lin.ErrHardwareOpen, devDir)
	}

	d := registeredDriver()
	if d == nil {
		return fmt.Errorf("%w: no native driver registered", lin.ErrHardwareOpen)
	}

	devices, err := DeviceMap(d)
	if err != nil {
		return fmt.Errorf("%w: %v", lin.ErrHardwareOpen, err)
	}
	index, ok := devices[c.cfg.Device]
	if !ok {
		return fmt.Errorf("%w: device %s not found", lin.ErrHardwareOpen, c.cfg.Device)
	}

	c.logger.Info("opening adapter channel",
		"name", c.cfg.Name, "device", c.cfg.Device.String(), "channel_index", index)

	handle, err := d.OpenChannel(index, c.cfg.Mode, c.cfg.Baudrate)
	if err != nil {
		return fmt.Errorf("%w: open channel %d: %v", lin.ErrHardwareOpen, index, err)
	}
	c.handle = handle
	return nil
}

// Close releases the native handle. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	close(c.errs)

	if c.handle == nil {
		return nil
	}
	err := c.handle.Close()
	c.handle = nil
	c.logger.Info("adapter channel closed", "name", c.cfg.Name)
	return err
}

// Send transmits a complete frame as master.
func (c *Channel) Send(ctx context.Context, f lin.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	h, err := c.openHandle()
	if err != nil {
		return err
	}
	if err := h.Write(f.ID, f.Data); err != nil {
		return fmt.Errorf("%w: write %#x: %v", lin.ErrBusFault, f.ID, err)
	}
	return nil
}

// SendHeader transmits a header only, soliciting the owning slave.
func (c *Channel) SendHeader(ctx context.Context, id uint32) error {
	h, err := c.openHandle()
	if err != nil {
		return err
	}
	if err := h.RequestMessage(id); err != nil {
		return fmt.Errorf("%w: request %#x: %v", lin.ErrBusFault, id, err)
	}
	return nil
}

// UpdateResponse installs the payload published when the identifier is
// polled.
func (c *Channel) UpdateResponse(f lin.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	h, err := c.openHandle()
	if err != nil {
		return err
	}
	c.logger.Debug("updating response", "id", f.ID, "data", f.Data)
	if err := h.UpdateMessage(f.ID, f.Data); err != nil {
		return fmt.Errorf("%w: update %#x: %v", lin.ErrBusFault, f.ID, err)
	}
	return nil
}

// Receive polls the native handle until a frame arrives or timeout elapses.
func (c *Channel) Receive(ctx context.Context, timeout time.Duration) (lin.Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		h, err := c.openHandle()
		if err != nil {
			return lin.Frame{}, err
		}

		id, data, ok, err := h.ReadMessage()
		if err != nil {
			return lin.Frame{}, fmt.Errorf("%w: read: %v", lin.ErrBusFault, err)
		}
		if ok {
			return lin.Frame{
				ID:        id,
				Data:      data,
				Direction: lin.Inbound,
				Timestamp: time.Now(),
			}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return lin.Frame{}, lin.ErrResponseTimeout
		}
		wait := readPoll
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return lin.Frame{}, ctx.Err()
		case <-c.done:
			return lin.Frame{}, lin.ErrChannelClosed
		}
	}
}

// Errors delivers fatal bus errors observed outside Send and Receive.
func (c *Channel) Errors() <-chan error {
	return c.errs
}

func (c *Channel) openHandle() (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, lin.ErrChannelClosed
	}
	if c.handle == nil {
		return nil, fmt.Errorf("%w: channel %q not open", lin.ErrHardwareOpen, c.cfg.Name)
	}
	return c.handle, nil
}
