package session

import (
	"context"
	"sync"
	"time"

	"github.com/openlin/linbridge/internal/lin"
)

// receiveResult scripts one Receive call on the fake channel.
type receiveResult struct {
	f   lin.Frame
	err error
}

// fakeChannel records operations and plays back scripted receives. An empty
// script makes Receive report a quiet bus immediately.
type fakeChannel struct {
	mu       sync.Mutex
	openErr  error
	opened   bool
	closed   bool
	sends    []lin.Frame
	headers  []uint32
	updates  []lin.Frame
	receives []receiveResult

	errs      chan error
	closeOnce sync.Once

	// blockRecv, when set, stalls Receive until the channel is closed.
	blockRecv chan struct{}

	// onDispatch fires after every Send or SendHeader.
	onDispatch func()
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{errs: make(chan error, 1)}
}

func (c *fakeChannel) Open(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	c.opened = true
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.errs) })
	return nil
}

func (c *fakeChannel) Send(ctx context.Context, f lin.Frame) error {
	c.mu.Lock()
	c.sends = append(c.sends, f)
	cb := c.onDispatch
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (c *fakeChannel) SendHeader(ctx context.Context, id uint32) error {
	c.mu.Lock()
	c.headers = append(c.headers, id)
	cb := c.onDispatch
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (c *fakeChannel) UpdateResponse(f lin.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, f)
	return nil
}

func (c *fakeChannel) Receive(ctx context.Context, timeout time.Duration) (lin.Frame, error) {
	c.mu.Lock()
	block := c.blockRecv
	c.mu.Unlock()
	if block != nil {
		<-block
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.receives) == 0 {
		return lin.Frame{}, lin.ErrResponseTimeout
	}
	r := c.receives[0]
	c.receives = c.receives[1:]
	return r.f, r.err
}

func (c *fakeChannel) Errors() <-chan error {
	return c.errs
}

func (c *fakeChannel) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends) + len(c.headers)
}

// fakeClock advances instantly to every requested deadline and records it.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) WaitUntil(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, t)
	if t.After(c.now) {
		c.now = t
	}
	return nil
}

func (c *fakeClock) deadlines() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.waits...)
}
