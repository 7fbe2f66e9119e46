package vbus

import (
	"context"
	"sync"

	"github.com/openlin/linbridge/internal/lin"
)

// pipeDepth is the per-direction buffer of an in-memory pipe.
const pipeDepth = 64

// Pipe returns two connected in-memory host interfaces: frames sent on one
// end are received on the other. The bridge attaches to one end while a test
// (or a diagnostic harness) plays the host on the other.
func Pipe(name string) (*PipeEnd, *PipeEnd) {
	ab := make(chan lin.Frame, pipeDepth)
	ba := make(chan lin.Frame, pipeDepth)
	shared := &pipeState{closed: make(chan struct{})}

	a := &PipeEnd{name: name, tx: ab, rx: ba, state: shared}
	b := &PipeEnd{name: name + ":peer", tx: ba, rx: ab, state: shared}
	return a, b
}

type pipeState struct {
	once   sync.Once
	closed chan struct{}
}

// PipeEnd is one end of an in-memory host interface pair.
type PipeEnd struct {
	name  string
	tx    chan lin.Frame
	rx    chan lin.Frame
	state *pipeState
}

// Name returns the pipe's interface name.
func (p *PipeEnd) Name() string {
	return p.name
}

// Send delivers the frame to the peer end.
func (p *PipeEnd) Send(ctx context.Context, f lin.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	select {
	case p.tx <- f:
		return nil
	case <-p.state.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks for the next frame from the peer end.
func (p *PipeEnd) Receive(ctx context.Context) (lin.Frame, error) {
	select {
	case f := <-p.rx:
		return f, nil
	case <-p.state.closed:
		return lin.Frame{}, ErrClosed
	case <-ctx.Done():
		return lin.Frame{}, ctx.Err()
	}
}

// Close shuts down both ends of the pipe.
func (p *PipeEnd) Close() error {
	p.state.once.Do(func() { close(p.state.closed) })
	return nil
}
