//go:build linux

package vbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openlin/linbridge/internal/lin"
)

// canRaw is the CAN_RAW protocol number for AF_CAN sockets.
const canRaw = 1

// pollSlice bounds how long a Receive blocks in the kernel before checking
// context cancellation again.
const pollSlice = 200 * time.Millisecond

// SocketCAN is a host interface backed by a raw AF_CAN socket bound to a
// vcan (or can) network device.
type SocketCAN struct {
	name string
	fd   int

	closeOnce sync.Once
	closed    chan struct{}
}

// OpenSocketCAN opens and binds a raw CAN socket to the named interface,
// e.g. "hostlin0". The socket is non-blocking; Receive honours context
// cancellation by polling in bounded slices.
func OpenSocketCAN(name string) (*SocketCAN, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return nil, fmt.Errorf("creating CAN socket: %w", err)
	}

	ifreq, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("interface name %q: %w", name, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifreq); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("resolving interface %q: %w", name, err)
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: int(ifreq.Uint32())}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binding to %q: %w", name, err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setting non-blocking mode: %w", err)
	}

	return &SocketCAN{
		name:   name,
		fd:     fd,
		closed: make(chan struct{}),
	}, nil
}

// Name returns the bound interface name.
func (s *SocketCAN) Name() string {
	return s.name
}

// Send writes one frame in the host wire format.
func (s *SocketCAN) Send(ctx context.Context, f lin.Frame) error {
	buf, err := EncodeFrame(f)
	if err != nil {
		return err
	}

	for {
		select {
		case <-s.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := unix.Write(s.fd, buf)
		switch {
		case err == nil && n == len(buf):
			return nil
		case err == nil:
			return fmt.Errorf("short write: %d of %d bytes", n, len(buf))
		case err == unix.EAGAIN || err == unix.EINTR:
			if waitErr := s.wait(ctx, unix.POLLOUT); waitErr != nil {
				return waitErr
			}
		default:
			return fmt.Errorf("writing to %s: %w", s.name, err)
		}
	}
}

// Receive blocks until a host frame arrives or ctx is cancelled.
func (s *SocketCAN) Receive(ctx context.Context) (lin.Frame, error) {
	buf := make([]byte, frameSize)

	for {
		select {
		case <-s.closed:
			return lin.Frame{}, ErrClosed
		case <-ctx.Done():
			return lin.Frame{}, ctx.Err()
		default:
		}

		n, err := unix.Read(s.fd, buf)
		switch {
		case err == nil:
			return DecodeFrame(buf[:n])
		case err == unix.EAGAIN || err == unix.EINTR:
			if waitErr := s.wait(ctx, unix.POLLIN); waitErr != nil {
				return lin.Frame{}, waitErr
			}
		default:
			return lin.Frame{}, fmt.Errorf("reading from %s: %w", s.name, err)
		}
	}
}

// wait polls the socket for readiness in bounded slices so cancellation is
// observed promptly even on a quiet bus.
func (s *SocketCAN) wait(ctx context.Context, events int16) error {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
	if _, err := unix.Poll(fds, int(pollSlice.Milliseconds())); err != nil && err != unix.EINTR {
		return fmt.Errorf("polling %s: %w", s.name, err)
	}

	select {
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Close releases the socket.
func (s *SocketCAN) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = unix.Close(s.fd)
	})
	return err
}
