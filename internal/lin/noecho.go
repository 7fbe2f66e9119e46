package lin

import (
	"context"
	"sync"
	"time"
)

// NoEchoChannel wraps a slave-role channel and suppresses echoes of the
// host's own published responses. Once the host has installed a response for
// an identifier, inbound frames with that identifier are delivered as bare
// header events: the payload is the host's own data and relaying it back
// would look like bus traffic that never happened.
type NoEchoChannel struct {
	Channel

	mu      sync.Mutex
	updated map[uint32]struct{}
}

// NewNoEcho wraps ch with echo suppression.
func NewNoEcho(ch Channel) *NoEchoChannel {
	return &NoEchoChannel{
		Channel: ch,
		updated: make(map[uint32]struct{}),
	}
}

// UpdateResponse records the identifier before installing the response.
func (n *NoEchoChannel) UpdateResponse(f Frame) error {
	n.mu.Lock()
	n.updated[f.ID] = struct{}{}
	n.mu.Unlock()

	return n.Channel.UpdateResponse(f)
}

// Receive delivers the next inbound frame, clearing the payload of any
// identifier the host has published a response for.
func (n *NoEchoChannel) Receive(ctx context.Context, timeout time.Duration) (Frame, error) {
	f, err := n.Channel.Receive(ctx, timeout)
	if err != nil {
		return f, err
	}

	n.mu.Lock()
	_, echoed := n.updated[f.ID]
	n.mu.Unlock()
	if echoed {
		f.Data = nil
	}
	return f, nil
}
