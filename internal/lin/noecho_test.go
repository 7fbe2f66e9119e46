package lin

import (
	"bytes"
	"context"
	"testing"
	"time"
)

// stubChannel feeds canned frames and records response updates.
type stubChannel struct {
	frames  []Frame
	updates []Frame
}

func (s *stubChannel) Open(context.Context) error              { return nil }
func (s *stubChannel) Close() error                            { return nil }
func (s *stubChannel) Send(context.Context, Frame) error       { return nil }
func (s *stubChannel) SendHeader(context.Context, uint32) error { return nil }
func (s *stubChannel) Errors() <-chan error                    { return nil }

func (s *stubChannel) UpdateResponse(f Frame) error {
	s.updates = append(s.updates, f)
	return nil
}

func (s *stubChannel) Receive(context.Context, time.Duration) (Frame, error) {
	if len(s.frames) == 0 {
		return Frame{}, ErrResponseTimeout
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func TestNoEcho_SuppressesUpdatedIdentifiers(t *testing.T) {
	ctx := context.Background()
	stub := &stubChannel{frames: []Frame{
		{ID: 0x31, Data: []byte{1, 2, 3}},
		{ID: 0x32, Data: []byte{4, 5}},
	}}
	ch := NewNoEcho(stub)

	if err := ch.UpdateResponse(Frame{ID: 0x31, Data: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("UpdateResponse() error = %v", err)
	}
	if len(stub.updates) != 1 {
		t.Fatalf("update not forwarded, got %d", len(stub.updates))
	}

	f, err := ch.Receive(ctx, time.Second)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if f.ID != 0x31 || !f.IsHeaderRequest() {
		t.Errorf("updated id 0x31 = %v, want payload suppressed", f)
	}

	f, err = ch.Receive(ctx, time.Second)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if f.ID != 0x32 || !bytes.Equal(f.Data, []byte{4, 5}) {
		t.Errorf("untouched id 0x32 = %v, want payload intact", f)
	}
}
