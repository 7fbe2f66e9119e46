package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/openlin/linbridge/internal/lin"
	"github.com/openlin/linbridge/internal/vbus"
)

// DropPolicy selects which frame is discarded when the hardware-to-host
// queue is full.
type DropPolicy string

const (
	// DropOldest discards the frame at the head of the queue, keeping the
	// freshest traffic. This is the default.
	DropOldest DropPolicy = "oldest"
	// DropNewest discards the frame that would have been enqueued.
	DropNewest DropPolicy = "newest"
)

// Valid reports whether the policy is one of the defined values.
func (p DropPolicy) Valid() bool {
	return p == DropOldest || p == DropNewest
}

// receivePoll bounds each hardware receive call so the pump loop notices
// cancellation on a quiet bus.
const receivePoll = 50 * time.Millisecond

// BridgeConfig wires one frame bridge.
type BridgeConfig struct {
	Host     vbus.Bus
	Channel  lin.Channel
	Mode     lin.HostMode
	Payloads *payloadStore

	// QueueSize bounds the hardware-to-host queue. Defaults to 128.
	QueueSize int

	// Policy defaults to DropOldest.
	Policy DropPolicy

	Logger Logger
}

// Bridge relays frames between the host virtual interface and the hardware
// channel. Each direction preserves its own arrival order; no ordering is
// guaranteed between directions. The hardware-to-host path is decoupled by a
// bounded queue so a slow host never stalls bus reads — past capacity the
// bridge drops per its policy and counts the loss.
type Bridge struct {
	cfg    BridgeConfig
	logger Logger

	toHost chan lin.Frame
	drops  atomic.Uint64
}

// NewBridge validates the configuration and returns an idle bridge; callers
// run its pump loops in their own goroutines.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Host == nil || cfg.Channel == nil {
		return nil, fmt.Errorf("%w: bridge requires a host bus and a channel", lin.ErrInvalidConfig)
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("%w: host mode %q", lin.ErrInvalidConfig, cfg.Mode)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.Policy == "" {
		cfg.Policy = DropOldest
	}
	if !cfg.Policy.Valid() {
		return nil, fmt.Errorf("%w: drop policy %q", lin.ErrInvalidConfig, cfg.Policy)
	}
	if cfg.Payloads == nil {
		cfg.Payloads = newPayloadStore()
	}

	b := &Bridge{
		cfg:    cfg,
		logger: cfg.Logger,
		toHost: make(chan lin.Frame, cfg.QueueSize),
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	return b, nil
}

// Drops returns how many hardware-to-host frames have been discarded.
func (b *Bridge) Drops() uint64 {
	return b.drops.Load()
}

// ForwardToHost queues an inbound frame for delivery to the host interface.
// Used directly by the schedule engine, which collects responses itself.
func (b *Bridge) ForwardToHost(f lin.Frame) {
	for {
		select {
		case b.toHost <- f:
			return
		default:
		}
		switch b.cfg.Policy {
		case DropNewest:
			b.drops.Add(1)
			return
		default:
			select {
			case <-b.toHost:
				b.drops.Add(1)
			default:
			}
		}
	}
}

// RunHostToChannel pumps host frames into the hardware channel until ctx is
// cancelled or the host bus closes.
//
// Master role: an empty payload is an out-of-schedule poll and becomes a
// bare header; a data frame is written through and remembered so the engine
// dispatches the same payload on that identifier's next slot. Slave role:
// every host frame updates the channel's published response.
func (b *Bridge) RunHostToChannel(ctx context.Context) error {
	for {
		f, err := b.cfg.Host.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, vbus.ErrClosed) {
				return nil
			}
			return fmt.Errorf("host receive: %w", err)
		}
		if err := b.routeToChannel(ctx, f); err != nil {
			if errors.Is(err, lin.ErrChannelClosed) {
				return nil
			}
			return err
		}
	}
}

func (b *Bridge) routeToChannel(ctx context.Context, f lin.Frame) error {
	if b.cfg.Mode == lin.Slave {
		if f.IsHeaderRequest() {
			b.logger.Debug("ignoring host header request in slave role", "id", f.ID)
			return nil
		}
		return b.cfg.Channel.UpdateResponse(f)
	}

	if f.IsHeaderRequest() {
		return b.cfg.Channel.SendHeader(ctx, f.ID)
	}
	b.cfg.Payloads.Set(f.ID, f.Data)
	return b.cfg.Channel.Send(ctx, f)
}

// RunChannelToHost pumps hardware frames into the bounded host queue until
// ctx is cancelled. Master sessions do not run this pump: their engine owns
// all channel reads and forwards responses through ForwardToHost.
func (b *Bridge) RunChannelToHost(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		f, err := b.cfg.Channel.Receive(ctx, receivePoll)
		switch {
		case err == nil:
			b.ForwardToHost(f)
		case errors.Is(err, lin.ErrResponseTimeout):
			// Quiet bus, poll again.
		case errors.Is(err, lin.ErrChannelClosed), errors.Is(err, context.Canceled):
			return nil
		default:
			return fmt.Errorf("channel receive: %w", err)
		}
	}
}

// RunHostWriter drains the bounded queue into the host interface until ctx
// is cancelled. On cancellation it flushes whatever is already queued before
// returning, so a clean stop never discards delivered bus traffic.
func (b *Bridge) RunHostWriter(ctx context.Context) error {
	for {
		select {
		case f := <-b.toHost:
			if err := b.writeHost(ctx, f); err != nil {
				return err
			}
		case <-ctx.Done():
			return b.flush()
		}
	}
}

func (b *Bridge) writeHost(ctx context.Context, f lin.Frame) error {
	if err := b.cfg.Host.Send(ctx, f); err != nil {
		if errors.Is(err, vbus.ErrClosed) || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("host send: %w", err)
	}
	return nil
}

func (b *Bridge) flush() error {
	for {
		select {
		case f := <-b.toHost:
			if err := b.writeHost(context.Background(), f); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
