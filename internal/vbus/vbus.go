package vbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/openlin/linbridge/internal/lin"
)

// frameSize is the size of a classical SocketCAN frame on the wire.
const frameSize = 16

// Wire layout offsets within a can_frame.
const (
	idOffset      = 0
	lenOffset     = 4
	payloadOffset = 8
)

// ErrClosed indicates the host interface has been closed.
var ErrClosed = errors.New("vbus: closed")

// Bus is the host-side virtual interface a session bridges to. Both the
// SocketCAN implementation and the in-memory Pipe satisfy it.
type Bus interface {
	// Send writes one frame to the host interface.
	Send(ctx context.Context, f lin.Frame) error

	// Receive blocks until the next host frame arrives or ctx is done.
	Receive(ctx context.Context) (lin.Frame, error)

	// Name returns the interface name for logging.
	Name() string

	// Close detaches from the interface. Close is idempotent.
	Close() error
}

// EncodeFrame marshals a LIN frame into the 16-byte host wire format.
func EncodeFrame(f lin.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, frameSize)
	binary.LittleEndian.PutUint32(buf[idOffset:idOffset+4], f.ID)
	buf[lenOffset] = byte(len(f.Data))
	copy(buf[payloadOffset:], f.Data)
	return buf, nil
}

// DecodeFrame unmarshals a host packet into a LIN frame.
//
// The packet must carry at least the identifier and length words. The length
// byte wins over CAN padding: a payload longer than the declared length is
// truncated, while a declared length exceeding a non-empty payload is
// rejected as malformed. A zero length with no payload decodes to a header
// request.
func DecodeFrame(packet []byte) (lin.Frame, error) {
	if len(packet) < payloadOffset {
		return lin.Frame{}, fmt.Errorf("packet too small: %d bytes", len(packet))
	}

	id := binary.LittleEndian.Uint32(packet[idOffset : idOffset+4])
	declared := int(packet[lenOffset])
	payload := packet[payloadOffset:]

	switch {
	case declared < len(payload):
		payload = payload[:declared]
	case declared > len(payload) && len(payload) > 0:
		return lin.Frame{}, fmt.Errorf("length field %d larger than payload %d", declared, len(payload))
	}

	f := lin.Frame{
		ID:        id,
		Data:      append([]byte(nil), payload...),
		Direction: lin.Outbound,
		Timestamp: time.Now().UTC(),
	}
	if err := f.Validate(); err != nil {
		return lin.Frame{}, err
	}
	return f, nil
}
