package session

import (
	"context"
	"time"
)

// Clock abstracts the monotonic time source driving the schedule engine so
// deadline arithmetic can be tested without sleeping.
type Clock interface {
	Now() time.Time

	// WaitUntil blocks until the absolute deadline t or until ctx is done,
	// in which case it returns the context error. Deadlines in the past
	// return immediately.
	WaitUntil(ctx context.Context, t time.Time) error
}

// realClock is the wall-clock implementation used outside tests.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) WaitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
