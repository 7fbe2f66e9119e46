package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openlin/linbridge/internal/lin"
)

// softFaultThreshold is how many consecutive missed responses on the same
// schedule slot raise a bus-health warning.
const softFaultThreshold = 3

// payloadStore holds the most recent host-supplied payload per frame
// identifier. The engine reads it when dispatching master-owned slots; the
// bridge writes it when the host sends data frames. Safe for concurrent use.
type payloadStore struct {
	mu       sync.RWMutex
	payloads map[uint32][]byte
}

func newPayloadStore() *payloadStore {
	return &payloadStore{payloads: make(map[uint32][]byte)}
}

func (s *payloadStore) Set(id uint32, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[id] = append([]byte(nil), data...)
}

func (s *payloadStore) Get(id uint32) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.payloads[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// EngineConfig wires one schedule execution engine.
type EngineConfig struct {
	Channel  lin.Channel
	Table    *lin.ScheduleTable
	BaseTick time.Duration
	Payloads *payloadStore

	// Clock defaults to the wall clock.
	Clock Clock

	// Forward receives every response frame collected from the bus, for
	// relay to the host side. May be nil.
	Forward func(lin.Frame)

	// OnHealthWarning is invoked once per soft-fault burst when a slot
	// misses its response softFaultThreshold times in a row. May be nil.
	OnHealthWarning func(entry string, faults int)

	Logger Logger
}

// Engine drives the cyclic schedule of a master session.
//
// Slot deadlines are absolute: each deadline is the previous one plus the
// entry's delay in base ticks, so latency in one slot never shifts the rest
// of the cycle. Cancellation is cooperative and checked at slot boundaries
// only; a dispatch that has begun always completes.
type Engine struct {
	cfg        EngineConfig
	clock      Clock
	logger     Logger
	softFaults atomic.Uint64
}

// NewEngine validates the configuration and returns an engine ready to run.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Channel == nil {
		return nil, fmt.Errorf("%w: engine requires a channel", lin.ErrInvalidConfig)
	}
	if cfg.Table == nil {
		return nil, fmt.Errorf("%w: engine requires a schedule table", lin.ErrInvalidConfig)
	}
	if err := cfg.Table.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseTick <= 0 {
		return nil, fmt.Errorf("%w: engine requires a positive base tick", lin.ErrInvalidConfig)
	}
	if cfg.Payloads == nil {
		cfg.Payloads = newPayloadStore()
	}

	e := &Engine{cfg: cfg, clock: cfg.Clock, logger: cfg.Logger}
	if e.clock == nil {
		e.clock = realClock{}
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	return e, nil
}

// SoftFaults returns the total number of missed responses so far.
func (e *Engine) SoftFaults() uint64 {
	return e.softFaults.Load()
}

// Run traverses the schedule table cyclically until ctx is cancelled,
// which makes it return nil after the in-flight slot completes. A hard
// channel failure aborts the cycle and is returned as a bus fault.
func (e *Engine) Run(ctx context.Context) error {
	entries := e.cfg.Table.Entries
	consecutive := make([]int, len(entries))
	warned := make([]bool, len(entries))

	// In-flight dispatch is never aborted by cancellation.
	dispatchCtx := context.WithoutCancel(ctx)

	deadline := e.clock.Now()
	for i := 0; ; i = (i + 1) % len(entries) {
		entry := entries[i]
		deadline = deadline.Add(time.Duration(entry.DelayTick) * e.cfg.BaseTick)

		if err := e.clock.WaitUntil(ctx, deadline); err != nil {
			// Cancelled before this slot began; nothing in flight.
			return nil
		}

		err := e.dispatch(dispatchCtx, entry)
		switch {
		case err == nil:
			consecutive[i] = 0
			warned[i] = false
		case errors.Is(err, lin.ErrResponseTimeout):
			e.softFaults.Add(1)
			consecutive[i]++
			e.logger.Debug("missed response", "entry", entry.Name, "consecutive", consecutive[i])
			if consecutive[i] >= softFaultThreshold && !warned[i] {
				warned[i] = true
				e.logger.Warn("bus health degraded",
					"entry", entry.Name, "consecutive_faults", consecutive[i])
				if e.cfg.OnHealthWarning != nil {
					e.cfg.OnHealthWarning(entry.Name, consecutive[i])
				}
			}
		default:
			return fmt.Errorf("schedule slot %s: %w", entry.Name, err)
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// dispatch executes one schedule slot: a full frame when the master carries
// the payload, otherwise a header followed by a response wait of one tick.
func (e *Engine) dispatch(ctx context.Context, entry lin.ScheduleEntry) error {
	if entry.Responder == lin.RespondsMaster {
		data, ok := e.cfg.Payloads.Get(entry.FrameID)
		if !ok {
			data = make([]byte, entry.Length)
		}
		return e.cfg.Channel.Send(ctx, lin.Frame{ID: entry.FrameID, Data: data})
	}

	if err := e.cfg.Channel.SendHeader(ctx, entry.FrameID); err != nil {
		return err
	}
	f, err := e.cfg.Channel.Receive(ctx, e.cfg.BaseTick)
	if err != nil {
		return err
	}
	if e.cfg.Forward != nil {
		e.cfg.Forward(f)
	}
	return nil
}
